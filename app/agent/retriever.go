package agent

import (
	"context"
	"fmt"
	"time"

	"docintel/index"
	"docintel/model"
	"docintel/retry"
	"docintel/store"
	"docintel/types"
)

// Retriever embeds a query, searches the vector index and hydrates the hits
// from the document store. Only chunks of completed documents owned by the
// caller make it into the results, even if the index briefly holds more.
type Retriever struct {
	store       store.DBStorer
	index       *index.Index
	embedder    model.Embedder
	policy      retry.Policy
	callTimeout time.Duration
}

func NewRetriever(st store.DBStorer, idx *index.Index, embedder model.Embedder, policy retry.Policy, callTimeout time.Duration) *Retriever {
	return &Retriever{
		store:       st,
		index:       idx,
		embedder:    embedder,
		policy:      policy,
		callTimeout: callTimeout,
	}
}

func (r *Retriever) Search(ctx context.Context, ownerID int64, query string, docFilter *int64, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		return []types.SearchResult{}, nil
	}

	vectors, err := retry.Do(ctx, r.policy, func(ctx context.Context) ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return r.embedder.Embed(callCtx, []string{query})
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vectors", types.ErrEmbeddingFailed)
	}

	// Over-fetch: hydration drops hits from documents that are not completed
	// or belong to someone else, so ask the index for more than limit.
	candidates := limit * 4
	if candidates < 20 {
		candidates = 20
	}
	hits, err := r.index.Search(vectors[0], candidates, docFilter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []types.SearchResult{}, nil
	}

	docIDs := make([]int64, 0, len(hits))
	seen := make(map[int64]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocumentID]; !ok {
			seen[h.DocumentID] = struct{}{}
			docIDs = append(docIDs, h.DocumentID)
		}
	}
	docs, err := r.store.DocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	chunkIDs := make([]int64, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.DocumentID]
		if !ok || doc.Status != types.StatusCompleted || doc.OwnerID != ownerID {
			continue
		}
		chunkIDs = append(chunkIDs, h.ChunkID)
	}
	chunks, err := r.store.ChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]types.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]types.SearchResult, 0, limit)
	for _, h := range hits {
		chunk, ok := byID[h.ChunkID]
		if !ok {
			continue // dropped at hydration or deleted since the index snapshot
		}
		doc := docs[h.DocumentID]
		results = append(results, types.SearchResult{
			Content:    chunk.Content,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Filename:   doc.Filename,
			Score:      h.Score,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
