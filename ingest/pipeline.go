package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"docintel/config"
	"docintel/index"
	"docintel/model"
	"docintel/retry"
	"docintel/store"
	"docintel/types"
)

type job struct {
	id       uuid.UUID
	docID    int64
	filename string
	path     string
	ctx      context.Context
	cancel   context.CancelFunc
}

// Pipeline ingests uploaded documents: extract, chunk, embed, index, then
// flip the document status. Documents are processed independently on a fixed
// worker pool; the stages of a single document run strictly in sequence.
type Pipeline struct {
	store    store.DBStorer
	index    *index.Index
	embedder model.Embedder
	policy   retry.Policy
	logger   *slog.Logger

	uploadDir     string
	chunkSize     int
	chunkOverlap  int
	workers       int
	callTimeout   time.Duration
	watchInterval time.Duration
	staleAge      time.Duration

	jobs    chan job
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[int64]context.CancelFunc
}

func NewPipeline(st store.DBStorer, idx *index.Index, embedder model.Embedder, policy retry.Policy, cfg config.Config) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		store:    st,
		index:    idx,
		embedder: embedder,
		policy:   policy,
		logger:   slog.Default(),

		uploadDir:     cfg.UploadDir,
		chunkSize:     cfg.ChunkSize,
		chunkOverlap:  cfg.ChunkOverlap,
		workers:       workers,
		callTimeout:   cfg.CallTimeout,
		watchInterval: cfg.WatchdogInterval,
		staleAge:      cfg.StaleAge,

		jobs:     make(chan job, 64),
		inflight: make(map[int64]context.CancelFunc),
	}
}

// Start launches the worker pool and the watchdog that re-enqueues documents
// stuck in processing after a crash.
func (p *Pipeline) Start() error {
	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	p.rootCtx, p.cancel = context.WithCancel(context.Background())

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.rootCtx.Done():
					return
				case j := <-p.jobs:
					p.run(j)
				}
			}
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchdog()
	}()

	p.logger.Info("ingestion pipeline started", "workers", p.workers)
	return nil
}

// Stop cancels all in-flight work and waits for the workers, up to a grace
// period.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingestion pipeline stopped")
	case <-time.After(5 * time.Second):
		p.logger.Warn("timeout waiting for ingestion workers to stop")
	}
}

// UploadPath is where the raw payload of a document lives. The file is kept
// until the document is deleted so the watchdog can re-run ingestion.
func (p *Pipeline) UploadPath(docID int64, filename string) string {
	return filepath.Join(p.uploadDir, fmt.Sprintf("%d_%s", docID, filepath.Base(filename)))
}

// Enqueue schedules ingestion for a document. A document already queued or
// running is left alone.
func (p *Pipeline) Enqueue(docID int64, filename, path string) error {
	p.mu.Lock()
	if _, exists := p.inflight[docID]; exists {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(p.rootCtx)
	p.inflight[docID] = cancel
	p.mu.Unlock()

	j := job{
		id:       uuid.New(),
		docID:    docID,
		filename: filename,
		path:     path,
		ctx:      ctx,
		cancel:   cancel,
	}

	select {
	case p.jobs <- j:
		return nil
	case <-p.rootCtx.Done():
		p.release(docID)
		cancel()
		return p.rootCtx.Err()
	}
}

// Cancel aborts any queued or running ingestion for the document. Used on
// delete so a late stage completion cannot resurrect the document.
func (p *Pipeline) Cancel(docID int64) {
	p.mu.Lock()
	cancel, ok := p.inflight[docID]
	if ok {
		delete(p.inflight, docID)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// RemoveUpload drops the persisted payload of a deleted document.
func (p *Pipeline) RemoveUpload(docID int64, filename string) {
	path := p.UploadPath(docID, filename)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("remove upload file", "path", path, "error", err)
	}
}

func (p *Pipeline) release(docID int64) {
	p.mu.Lock()
	delete(p.inflight, docID)
	p.mu.Unlock()
}

func (p *Pipeline) run(j job) {
	defer func() {
		p.release(j.docID)
		j.cancel()
	}()

	log := p.logger.With("job_id", j.id.String(), "document_id", j.docID, "filename", j.filename)
	start := time.Now()

	if err := p.process(j, log); err != nil {
		log.Error("ingestion failed", "error", err)
		return
	}
	log.Info("ingestion finished", "took", time.Since(start))
}

func (p *Pipeline) process(j job, log *slog.Logger) error {
	ctx := j.ctx

	doc, err := p.store.GetDocument(ctx, j.docID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil // deleted while queued
		}
		return err
	}
	if doc.Status.Terminal() {
		return nil
	}

	// Extraction.
	if err := p.setStage(ctx, j.docID, types.StageExtracting); err != nil {
		return err
	}
	data, err := os.ReadFile(j.path)
	if err != nil {
		return p.fail(j.docID, types.StageExtracting, fmt.Errorf("%w: read upload: %v", types.ErrExtractionFailed, err))
	}
	text, err := Extract(j.filename, data)
	if err != nil {
		return p.fail(j.docID, types.StageExtracting, err)
	}

	// Chunking.
	if err := p.setStage(ctx, j.docID, types.StageChunking); err != nil {
		return err
	}
	pieces := Split(text, p.chunkSize, p.chunkOverlap)
	if len(pieces) == 0 {
		return p.fail(j.docID, types.StageChunking, fmt.Errorf("%w: empty extraction result", types.ErrExtractionFailed))
	}

	// A re-run after a partial failure must not leave stale postings behind;
	// ReplaceChunks below takes care of the persisted rows.
	p.index.RemoveDocument(j.docID)

	// Embedding.
	if err := p.setStage(ctx, j.docID, types.StageEmbedding); err != nil {
		return err
	}
	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
	}
	vectors, err := retry.Do(ctx, p.policy, func(ctx context.Context) ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		return p.embedder.Embed(callCtx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return p.aborted(j.docID)
		}
		return p.fail(j.docID, types.StageEmbedding, fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err))
	}
	if len(vectors) != len(pieces) {
		return p.fail(j.docID, types.StageEmbedding,
			fmt.Errorf("%w: have %d chunks, %d vectors", types.ErrEmbeddingFailed, len(pieces), len(vectors)))
	}

	chunks := make([]types.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = types.Chunk{
			Index:     piece.Index,
			Content:   piece.Content,
			Start:     piece.Start,
			End:       piece.End,
			Embedding: vectors[i],
		}
	}

	if ctx.Err() != nil {
		return p.aborted(j.docID)
	}

	saved, err := p.store.ReplaceChunks(ctx, j.docID, chunks)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return p.aborted(j.docID)
		}
		return p.fail(j.docID, types.StageEmbedding, err)
	}

	// Indexing. Status flips to completed only after every chunk is
	// searchable.
	if err := p.setStage(ctx, j.docID, types.StageIndexing); err != nil {
		return err
	}
	for _, c := range saved {
		if err := p.index.Insert(c.ID, c.DocumentID, c.Index, c.Embedding); err != nil {
			p.index.RemoveDocument(j.docID)
			return p.fail(j.docID, types.StageIndexing, err)
		}
	}

	if err := p.setStage(ctx, j.docID, types.StageDone); err != nil {
		return err
	}
	if err := p.store.UpdateStatus(context.Background(), j.docID, types.StatusCompleted, ""); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return p.aborted(j.docID)
		}
		return err
	}

	log.Info("document indexed", "chunks", len(saved))
	return nil
}

func (p *Pipeline) setStage(ctx context.Context, docID int64, stage types.IngestStage) error {
	if ctx.Err() != nil {
		_ = p.aborted(docID)
		return ctx.Err()
	}
	if err := p.store.SetStage(ctx, docID, stage); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return p.aborted(docID)
		}
		return err
	}
	return nil
}

// aborted cleans up after a cancelled or deleted document without touching
// its status.
func (p *Pipeline) aborted(docID int64) error {
	p.index.RemoveDocument(docID)
	return nil
}

// fail records the failing stage and moves the document to failed. The
// guarded update makes this a no-op for documents that were deleted or
// already terminal.
func (p *Pipeline) fail(docID int64, stage types.IngestStage, cause error) error {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	if err := p.store.UpdateStatus(context.Background(), docID, types.StatusFailed, reason); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return cause
}

func (p *Pipeline) watchdog() {
	ticker := time.NewTicker(p.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.rootCtx.Done():
			return
		case <-ticker.C:
			docs, err := p.store.StaleProcessing(p.rootCtx, p.staleAge)
			if err != nil {
				p.logger.Error("watchdog scan failed", "error", err)
				continue
			}
			for _, doc := range docs {
				path := p.UploadPath(doc.ID, doc.Filename)
				if _, err := os.Stat(path); err != nil {
					// Nothing left to re-run from.
					_ = p.fail(doc.ID, doc.Stage, fmt.Errorf("%w: upload payload missing", types.ErrExtractionFailed))
					continue
				}
				p.logger.Info("watchdog re-enqueueing stuck document", "document_id", doc.ID, "stage", doc.Stage)
				if err := p.Enqueue(doc.ID, doc.Filename, path); err != nil {
					return
				}
			}
		}
	}
}
