package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type ModelConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type Config struct {
	ListenAddr  string
	StoreDriver string // "postgres" or "memory"
	PostgresDSN string
	UploadDir   string

	ChunkSize    int
	ChunkOverlap int

	Workers          int
	WatchdogInterval time.Duration
	StaleAge         time.Duration

	Embeddings ModelConfig
	LLM        ModelConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	RetryAttempts int
	RetryInterval time.Duration
	CallTimeout   time.Duration

	MaxContextTokens int
}

func Load() Config {
	return Config{
		ListenAddr:  getEnv("SERVER_ADDR", ":8080"),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		PostgresDSN: postgresDSN(),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),

		Workers:          getEnvInt("INGEST_WORKERS", 4),
		WatchdogInterval: getEnvDuration("WATCHDOG_INTERVAL", time.Minute),
		StaleAge:         getEnvDuration("WATCHDOG_STALE_AGE", 10*time.Minute),

		Embeddings: ModelConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		LLM: ModelConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:    getEnv("LLM_MODEL", "gpt-4o"),
		},

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 3),
		RetryInterval: getEnvDuration("RETRY_INTERVAL", 500*time.Millisecond),
		CallTimeout:   getEnvDuration("CALL_TIMEOUT", 30*time.Second),

		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 6000),
	}
}

func postgresDSN() string {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PG_HOST", "localhost"),
		getEnv("PG_PORT", "5432"),
		getEnv("PG_USER", "postgres"),
		getEnv("PG_PASS", "postgres"),
		getEnv("PG_DB_NAME", "docintel"),
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
