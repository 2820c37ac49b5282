package types

import "time"

// DocumentStatus is the externally visible lifecycle state of a document.
// Clients polling /documents/:id/status only ever see these three values.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IngestStage is the internal pipeline stage, kept for diagnostics. It never
// leaves the collapsed processing/completed/failed view of the status endpoint.
type IngestStage string

const (
	StageUploaded   IngestStage = "uploaded"
	StageExtracting IngestStage = "extracting"
	StageChunking   IngestStage = "chunking"
	StageEmbedding  IngestStage = "embedding"
	StageIndexing   IngestStage = "indexing"
	StageDone       IngestStage = "done"
)

type Document struct {
	ID         int64          `json:"id"`
	OwnerID    int64          `json:"user_id"`
	Filename   string         `json:"filename"`
	Status     DocumentStatus `json:"status"`
	Stage      IngestStage    `json:"-"`
	FailReason string         `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"-"`
}

// Chunk is a contiguous slice of a document's extracted text. Start and End
// are rune offsets into that text. Indices are contiguous from 0 in source
// order so citation numbering stays stable.
type Chunk struct {
	ID         int64
	DocumentID int64
	Index      int
	Content    string
	Start      int
	End        int
	Embedding  []float32
}

type SearchResult struct {
	Content    string  `json:"content"`
	DocumentID int64   `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"-"`
	Score      float64 `json:"-"`
}

type Source struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
}

type ChatMetadata struct {
	TotalChunksFound int      `json:"total_chunks_found"`
	Sources          []Source `json:"sources"`
}

// ChatAnswer carries the generated text plus the ordered source list. Inline
// [n] markers in Answer are 1-based positions into Metadata.Sources.
type ChatAnswer struct {
	Answer   string       `json:"answer"`
	Metadata ChatMetadata `json:"metadata"`
}

type DocumentStatusResponse struct {
	DocumentID int64          `json:"document_id"`
	Filename   string         `json:"filename"`
	Status     DocumentStatus `json:"status"`
}
