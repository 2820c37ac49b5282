package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"docintel/types"
)

// MemoryStore is an in-process DBStorer with the same transition guarantees as
// the Postgres implementation. It backs tests and local runs without a
// database.
type MemoryStore struct {
	mu          sync.RWMutex
	nextDocID   int64
	nextChunkID int64
	docs        map[int64]types.Document
	chunks      map[int64][]types.Chunk // by document id, ordered by chunk index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[int64]types.Document),
		chunks: make(map[int64][]types.Chunk),
	}
}

func (m *MemoryStore) Init(context.Context) error { return nil }

func (m *MemoryStore) CreateDocument(_ context.Context, ownerID int64, filename string) (*types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextDocID++
	now := time.Now()
	doc := types.Document{
		ID:        m.nextDocID,
		OwnerID:   ownerID,
		Filename:  filename,
		Status:    types.StatusProcessing,
		Stage:     types.StageUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.docs[doc.ID] = doc
	out := doc
	return &out, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id int64) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	out := doc
	return &out, nil
}

func (m *MemoryStore) ListDocumentsByOwner(_ context.Context, ownerID int64) ([]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]types.Document, 0)
	for _, doc := range m.docs {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID > docs[j].ID })
	return docs, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id int64, status types.DocumentStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	if doc.Status.Terminal() {
		return nil
	}
	doc.Status = status
	doc.FailReason = reason
	doc.UpdatedAt = time.Now()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) SetStage(_ context.Context, id int64, stage types.IngestStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	if doc.Status.Terminal() {
		return nil
	}
	doc.Stage = stage
	doc.UpdatedAt = time.Now()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %d: %w", id, types.ErrNotFound)
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) ReplaceChunks(_ context.Context, docID int64, chunks []types.Chunk) ([]types.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[docID]; !ok {
		return nil, fmt.Errorf("document %d: %w", docID, types.ErrNotFound)
	}

	saved := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		m.nextChunkID++
		c.ID = m.nextChunkID
		c.DocumentID = docID
		c.Embedding = append([]float32(nil), c.Embedding...)
		saved = append(saved, c)
	}
	m.chunks[docID] = saved

	out := make([]types.Chunk, len(saved))
	copy(out, saved)
	return out, nil
}

func (m *MemoryStore) ChunksByIDs(_ context.Context, ids []int64) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	chunks := make([]types.Chunk, 0, len(ids))
	for _, docChunks := range m.chunks {
		for _, c := range docChunks {
			if _, ok := want[c.ID]; ok {
				chunks = append(chunks, c)
			}
		}
	}
	return chunks, nil
}

func (m *MemoryStore) DocumentsByIDs(_ context.Context, ids []int64) (map[int64]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make(map[int64]types.Document, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			docs[id] = doc
		}
	}
	return docs, nil
}

func (m *MemoryStore) EmbeddedChunks(context.Context) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docIDs := make([]int64, 0, len(m.chunks))
	for id := range m.chunks {
		docIDs = append(docIDs, id)
	}
	sort.Slice(docIDs, func(i, j int) bool { return docIDs[i] < docIDs[j] })

	chunks := make([]types.Chunk, 0)
	for _, id := range docIDs {
		chunks = append(chunks, m.chunks[id]...)
	}
	return chunks, nil
}

func (m *MemoryStore) StaleProcessing(_ context.Context, age time.Duration) ([]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-age)
	docs := make([]types.Document, 0)
	for _, doc := range m.docs {
		if doc.Status == types.StatusProcessing && doc.UpdatedAt.Before(cutoff) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.Before(docs[j].UpdatedAt) })
	return docs, nil
}

func (m *MemoryStore) Close() error { return nil }

var (
	_ DBStorer = (*MemoryStore)(nil)
	_ DBStorer = (*PostgresStore)(nil)
)
