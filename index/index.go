// Package index holds the in-memory vector index. It is a derived,
// rebuildable projection of the embeddings persisted in the document store
// and is never the source of truth.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"docintel/types"
)

type Hit struct {
	ChunkID    int64
	DocumentID int64
	ChunkIndex int
	Score      float64
}

type entry struct {
	docID  int64
	index  int
	vector []float32 // L2-normalised
}

type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   map[int64]entry
}

func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		entries:   make(map[int64]entry),
	}
}

func (idx *Index) Insert(chunkID, docID int64, chunkIndex int, vector []float32) error {
	if len(vector) != idx.dimension {
		return fmt.Errorf("%w: insert dimension %d, index dimension %d",
			types.ErrIndexInconsistent, len(vector), idx.dimension)
	}

	// Normalise into a private copy before taking the lock, so a concurrent
	// search can never observe a partially written vector.
	norm := normalize(vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[chunkID] = entry{docID: docID, index: chunkIndex, vector: norm}
	return nil
}

func (idx *Index) Remove(chunkID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, chunkID)
}

func (idx *Index) RemoveDocument(docID int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, e := range idx.entries {
		if e.docID == docID {
			delete(idx.entries, id)
		}
	}
}

// Search returns up to k hits by cosine similarity, ordered by descending
// score with ties broken by ascending chunk index. When docFilter is set only
// that document's chunks are considered.
func (idx *Index) Search(vector []float32, k int, docFilter *int64) ([]Hit, error) {
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			types.ErrIndexInconsistent, len(vector), idx.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	query := normalize(vector)

	idx.mu.RLock()
	hits := make([]Hit, 0, len(idx.entries))
	for chunkID, e := range idx.entries {
		if docFilter != nil && e.docID != *docFilter {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:    chunkID,
			DocumentID: e.docID,
			ChunkIndex: e.index,
			Score:      dot(query, e.vector),
		})
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].ChunkIndex != hits[j].ChunkIndex {
			return hits[i].ChunkIndex < hits[j].ChunkIndex
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Load replaces the whole index with the given persisted chunks. Chunks
// without an embedding are skipped.
func (idx *Index) Load(chunks []types.Chunk) error {
	fresh := make(map[int64]entry, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != idx.dimension {
			return fmt.Errorf("%w: chunk %d dimension %d, index dimension %d",
				types.ErrIndexInconsistent, c.ID, len(c.Embedding), idx.dimension)
		}
		fresh[c.ID] = entry{docID: c.DocumentID, index: c.Index, vector: normalize(c.Embedding)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = fresh
	return nil
}

func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(vector))
	if norm == 0 {
		copy(out, vector)
		return out
	}
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
