package store

import (
	"context"
	"time"

	"docintel/types"
)

// DBStorer is the single source of truth for documents, chunks and embedding
// vectors. The vector index is only a derived projection of what lives here.
type DBStorer interface {
	Init(ctx context.Context) error

	CreateDocument(ctx context.Context, ownerID int64, filename string) (*types.Document, error)
	GetDocument(ctx context.Context, id int64) (*types.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID int64) ([]types.Document, error)

	// UpdateStatus moves a document into a terminal state. It only applies while
	// the document is still processing, so a stale in-flight update can never
	// overwrite completed or failed. Returns types.ErrNotFound for unknown ids.
	UpdateStatus(ctx context.Context, id int64, status types.DocumentStatus, reason string) error

	// SetStage records the internal pipeline stage for diagnostics. Like
	// UpdateStatus it is a no-op once the document reached a terminal state.
	SetStage(ctx context.Context, id int64, stage types.IngestStage) error

	// DeleteDocument removes the document and cascades to its chunks and
	// vectors. Returns types.ErrNotFound when the id is unknown.
	DeleteDocument(ctx context.Context, id int64) error

	// ReplaceChunks atomically drops any prior chunks of the document and
	// persists the given ones, so a re-run of ingestion never duplicates
	// artifacts. Returned chunks carry their assigned ids.
	ReplaceChunks(ctx context.Context, docID int64, chunks []types.Chunk) ([]types.Chunk, error)

	ChunksByIDs(ctx context.Context, ids []int64) ([]types.Chunk, error)
	DocumentsByIDs(ctx context.Context, ids []int64) (map[int64]types.Document, error)

	// EmbeddedChunks returns every persisted chunk together with its embedding,
	// in (document_id, chunk_index) order. Used to rebuild the vector index.
	EmbeddedChunks(ctx context.Context) ([]types.Chunk, error)

	// StaleProcessing lists documents stuck in processing for longer than age.
	// The ingestion watchdog re-enqueues them.
	StaleProcessing(ctx context.Context, age time.Duration) ([]types.Document, error)

	Close() error
}
