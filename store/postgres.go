package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docintel/types"
)

type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dimension int) (*PostgresStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		dimension: dimension,
		logger:    slog.Default(),
	}, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		filename TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing','completed','failed')),
		stage TEXT NOT NULL DEFAULT 'uploaded',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, updated_at);

	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS chunks (
		id BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		start_offset INT NOT NULL,
		end_offset INT NOT NULL,
		embedding vector(%d) NOT NULL,
		UNIQUE(document_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);
	`, p.dimension)

	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) CreateDocument(ctx context.Context, ownerID int64, filename string) (*types.Document, error) {
	doc := &types.Document{
		OwnerID:  ownerID,
		Filename: filename,
		Status:   types.StatusProcessing,
		Stage:    types.StageUploaded,
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO documents (owner_id, filename)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, ownerID, filename).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, id int64) (*types.Document, error) {
	doc := &types.Document{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, owner_id, filename, status, stage, fail_reason, created_at, updated_at
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &doc.Status, &doc.Stage, &doc.FailReason, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID int64) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner_id, filename, status, stage, fail_reason, created_at, updated_at
		FROM documents WHERE owner_id = $1 ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]types.Document, 0)
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &doc.Status, &doc.Stage, &doc.FailReason, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id int64, status types.DocumentStatus, reason string) error {
	// The status filter keeps stale in-flight updates from regressing a
	// terminal state.
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, fail_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.verifyExists(ctx, id)
	}
	return nil
}

func (p *PostgresStore) SetStage(ctx context.Context, id int64, stage types.IngestStage) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET stage = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, stage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.verifyExists(ctx, id)
	}
	return nil
}

// verifyExists distinguishes "already terminal" (fine) from "gone" (NotFound)
// after a guarded update matched no rows.
func (p *PostgresStore) verifyExists(ctx context.Context, id int64) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)", id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) ReplaceChunks(ctx context.Context, docID int64, chunks []types.Chunk) ([]types.Chunk, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				p.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	var exists bool
	if err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)", docID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		err = fmt.Errorf("document %d: %w", docID, types.ErrNotFound)
		return nil, err
	}

	if _, err = tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", docID); err != nil {
		return nil, fmt.Errorf("clear existing chunks: %w", err)
	}

	saved := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		c.DocumentID = docID
		err = tx.QueryRow(ctx, `
			INSERT INTO chunks (document_id, chunk_index, content, start_offset, end_offset, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, docID, c.Index, c.Content, c.Start, c.End, pgvector.NewVector(c.Embedding)).Scan(&c.ID)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
		saved = append(saved, c)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunks: %w", err)
	}
	return saved, nil
}

func (p *PostgresStore) ChunksByIDs(ctx context.Context, ids []int64) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, start_offset, end_offset
		FROM chunks WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]types.Chunk, 0, len(ids))
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.Start, &c.End); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) DocumentsByIDs(ctx context.Context, ids []int64) (map[int64]types.Document, error) {
	docs := make(map[int64]types.Document, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner_id, filename, status, stage, fail_reason, created_at, updated_at
		FROM documents WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &doc.Status, &doc.Stage, &doc.FailReason, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs[doc.ID] = doc
	}
	return docs, rows.Err()
}

func (p *PostgresStore) EmbeddedChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, start_offset, end_offset, embedding
		FROM chunks ORDER BY document_id, chunk_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		var c types.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.Start, &c.End, &vec); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) StaleProcessing(ctx context.Context, age time.Duration) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner_id, filename, status, stage, fail_reason, created_at, updated_at
		FROM documents
		WHERE status = 'processing' AND updated_at < NOW() - $1::interval
		ORDER BY updated_at
	`, fmt.Sprintf("%f seconds", age.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]types.Document, 0)
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &doc.Status, &doc.Stage, &doc.FailReason, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool closed")
	}
	return nil
}
