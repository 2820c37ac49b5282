package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"docintel/app/agent"
	"docintel/app/server"
	"docintel/config"
	"docintel/index"
	"docintel/ingest"
	"docintel/model"
	"docintel/retry"
	"docintel/store"
)

func main() {
	loadEnvVariables()
	cfg := config.Load()
	ctx := context.Background()

	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal("error connecting to store: ", err)
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		log.Fatal("error creating tables: ", err)
	}

	embedder, err := model.NewEmbedder(cfg)
	if err != nil {
		log.Fatal("embedder setup: ", err)
	}
	llmClient, err := model.NewClient(cfg)
	if err != nil {
		log.Fatal("llm setup: ", err)
	}

	// The index is a projection of the store; rebuild it before serving so
	// completed documents are searchable immediately after a restart.
	idx := index.New(cfg.Embeddings.Dimension)
	chunks, err := st.EmbeddedChunks(ctx)
	if err != nil {
		log.Fatal("load persisted chunks: ", err)
	}
	if err := idx.Load(chunks); err != nil {
		log.Fatal("rebuild vector index: ", err)
	}

	policy := retry.NewPolicy(cfg.RetryAttempts, cfg.RetryInterval)

	pipeline := ingest.NewPipeline(st, idx, embedder, policy, cfg)
	if err := pipeline.Start(); err != nil {
		log.Fatal("start ingestion pipeline: ", err)
	}

	retriever := agent.NewRetriever(st, idx, embedder, policy, cfg.CallTimeout)
	chatAgent := agent.NewAgent(retriever, llmClient, policy, cfg.CallTimeout, cfg.MaxContextTokens)

	s := server.New(cfg.ListenAddr, st, idx, pipeline, retriever, chatAgent)
	go func() {
		if err := s.Run(); err != nil {
			log.Fatal("server error: ", err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	log.Println("Received shutdown signal, shutting down server...")

	s.Stop()
	pipeline.Stop()
}

func newStore(ctx context.Context, cfg config.Config) (store.DBStorer, error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.Embeddings.Dimension)
}

func loadEnvVariables() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
}
