package ingest

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/config"
	"docintel/index"
	"docintel/model"
	"docintel/retry"
	"docintel/store"
	"docintel/types"
)

const pipelineDim = 4

type countingEmbedder struct {
	failures int // fail this many calls before succeeding
	calls    int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, float32(i)}
	}
	return out, nil
}

// blockingEmbedder parks every call until its context is cancelled, keeping a
// document in the embedding stage for as long as a test needs.
type blockingEmbedder struct {
	started chan struct{}
}

func (e *blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	select {
	case e.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type pipelineFixture struct {
	store    *store.MemoryStore
	index    *index.Index
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, embedder model.Embedder, cfg config.Config) *pipelineFixture {
	t.Helper()

	if cfg.UploadDir == "" {
		cfg.UploadDir = t.TempDir()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 40
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 10
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = time.Hour
	}
	if cfg.StaleAge == 0 {
		cfg.StaleAge = time.Hour
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}

	st := store.NewMemoryStore()
	idx := index.New(pipelineDim)
	p := NewPipeline(st, idx, embedder, retry.NewPolicy(3, time.Millisecond), cfg)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)

	return &pipelineFixture{store: st, index: idx, pipeline: p}
}

// upload persists a payload the way the HTTP layer does and enqueues it.
func (f *pipelineFixture) upload(t *testing.T, filename, content string) *types.Document {
	t.Helper()
	ctx := context.Background()

	doc, err := f.store.CreateDocument(ctx, 1, filename)
	require.NoError(t, err)
	path := f.pipeline.UploadPath(doc.ID, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, f.pipeline.Enqueue(doc.ID, filename, path))
	return doc
}

func (f *pipelineFixture) waitForStatus(t *testing.T, docID int64, want types.DocumentStatus) *types.Document {
	t.Helper()
	var doc *types.Document
	require.Eventually(t, func() bool {
		var err error
		doc, err = f.store.GetDocument(context.Background(), docID)
		return err == nil && doc.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return doc
}

func TestPipelineIngestsDocument(t *testing.T) {
	f := newPipelineFixture(t, &countingEmbedder{}, config.Config{})

	doc := f.upload(t, "report.txt", strings.Repeat("the quick brown fox ", 10))
	got := f.waitForStatus(t, doc.ID, types.StatusCompleted)

	assert.Equal(t, types.StageDone, got.Stage)
	assert.Empty(t, got.FailReason)

	chunks, err := f.store.EmbeddedChunks(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Len(t, c.Embedding, pipelineDim)
	}
	assert.Equal(t, len(chunks), f.index.Len())
}

func TestPipelineRetriesTransientEmbeddingFailure(t *testing.T) {
	emb := &countingEmbedder{failures: 2}
	f := newPipelineFixture(t, emb, config.Config{})

	doc := f.upload(t, "report.txt", "short enough for one chunk")
	f.waitForStatus(t, doc.ID, types.StatusCompleted)
	assert.Equal(t, 3, emb.calls)
}

func TestPipelineFailsOnUnsupportedFormat(t *testing.T) {
	f := newPipelineFixture(t, &countingEmbedder{}, config.Config{})

	doc := f.upload(t, "image.png", "\x89PNG fake binary")
	got := f.waitForStatus(t, doc.ID, types.StatusFailed)

	assert.True(t, strings.HasPrefix(got.FailReason, string(types.StageExtracting)+":"), got.FailReason)
	assert.Zero(t, f.index.Len())
}

func TestPipelineFailsWhenEmbeddingKeepsFailing(t *testing.T) {
	f := newPipelineFixture(t, &countingEmbedder{failures: 100}, config.Config{})

	doc := f.upload(t, "report.txt", "some text to embed")
	got := f.waitForStatus(t, doc.ID, types.StatusFailed)
	assert.True(t, strings.HasPrefix(got.FailReason, string(types.StageEmbedding)+":"), got.FailReason)
}

func TestPipelineReingestionReplacesChunks(t *testing.T) {
	f := newPipelineFixture(t, &countingEmbedder{}, config.Config{})
	ctx := context.Background()

	doc := f.upload(t, "report.txt", strings.Repeat("alpha beta gamma ", 20))
	f.waitForStatus(t, doc.ID, types.StatusCompleted)

	first, err := f.store.EmbeddedChunks(ctx)
	require.NoError(t, err)
	firstLen := f.index.Len()

	// Simulate a watchdog re-run of the same payload.
	path := f.pipeline.UploadPath(doc.ID, "report.txt")
	require.NoError(t, f.pipeline.Enqueue(doc.ID, "report.txt", path))

	require.Eventually(t, func() bool {
		second, err := f.store.EmbeddedChunks(ctx)
		return err == nil && len(second) == len(first) && f.index.Len() == firstLen
	}, 5*time.Second, 5*time.Millisecond)

	// No duplicate postings even though ingestion ran twice.
	second, err := f.store.EmbeddedChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, second, len(first))
	assert.Equal(t, firstLen, f.index.Len())
}

func TestPipelineSkipsDeletedDocument(t *testing.T) {
	f := newPipelineFixture(t, &countingEmbedder{}, config.Config{})
	ctx := context.Background()

	doc, err := f.store.CreateDocument(ctx, 1, "report.txt")
	require.NoError(t, err)
	path := f.pipeline.UploadPath(doc.ID, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	// Delete before the workers pick the job up.
	require.NoError(t, f.store.DeleteDocument(ctx, doc.ID))
	require.NoError(t, f.pipeline.Enqueue(doc.ID, "report.txt", path))

	// The job drains without creating chunks or index entries.
	require.Eventually(t, func() bool {
		chunks, err := f.store.EmbeddedChunks(ctx)
		return err == nil && len(chunks) == 0 && f.index.Len() == 0
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.index.Len())
}

func TestPipelineCancelPreventsResurrection(t *testing.T) {
	emb := &blockingEmbedder{started: make(chan struct{}, 1)}
	f := newPipelineFixture(t, emb, config.Config{})
	ctx := context.Background()

	doc := f.upload(t, "report.txt", "some content")

	// Wait until the worker is inside the embedding call, then delete.
	select {
	case <-emb.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the embedding stage")
	}
	f.pipeline.Cancel(doc.ID)
	require.NoError(t, f.store.DeleteDocument(ctx, doc.ID))

	// The aborted job must not fail or resurrect the deleted document.
	require.Eventually(t, func() bool {
		_, err := f.store.GetDocument(ctx, doc.ID)
		return errors.Is(err, types.ErrNotFound) && f.index.Len() == 0
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, err := f.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Zero(t, f.index.Len())
}

func TestWatchdogReingestsStuckDocument(t *testing.T) {
	cfg := config.Config{
		WatchdogInterval: 10 * time.Millisecond,
		StaleAge:         time.Nanosecond,
	}
	f := newPipelineFixture(t, &countingEmbedder{}, cfg)
	ctx := context.Background()

	// A document left in processing, as after a crash: payload on disk but no
	// queued job.
	doc, err := f.store.CreateDocument(ctx, 1, "stuck.txt")
	require.NoError(t, err)
	path := f.pipeline.UploadPath(doc.ID, "stuck.txt")
	require.NoError(t, os.WriteFile(path, []byte("recovered content"), 0o644))

	f.waitForStatus(t, doc.ID, types.StatusCompleted)
}

func TestWatchdogFailsDocumentWithoutPayload(t *testing.T) {
	cfg := config.Config{
		WatchdogInterval: 10 * time.Millisecond,
		StaleAge:         time.Nanosecond,
	}
	f := newPipelineFixture(t, &countingEmbedder{}, cfg)

	doc, err := f.store.CreateDocument(context.Background(), 1, "lost.txt")
	require.NoError(t, err)

	got := f.waitForStatus(t, doc.ID, types.StatusFailed)
	assert.Contains(t, got.FailReason, "upload payload missing")
}