package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"docquery/internal/cache"
	"docquery/internal/config"
	"docquery/internal/models"
	"docquery/internal/worker"
)

// DocumentStore is the slice of the relational store the pipeline needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, tenantID, id int64) (*models.Document, error)
	SetDocumentStatus(ctx context.Context, tenantID, id int64, status string) error
	SetDocumentKind(ctx context.Context, tenantID, id int64, kind string) error
	SoftDeleteDocument(ctx context.Context, tenantID, id int64) error
}

type ChunkStore interface {
	ReplaceChunks(ctx context.Context, tenantID, documentID int64, chunks []models.Chunk, batchSize int) (int, error)
	ChunksByStatus(ctx context.Context, tenantID, documentID int64, status string, afterIndex, limit int) ([]models.Chunk, error)
	MarkChunksEmbedded(ctx context.Context, tenantID int64, ids []int64) error
	CountChunks(ctx context.Context, tenantID, documentID int64, status string) (int, error)
}

type VectorIndex interface {
	IndexChunks(ctx context.Context, tenantID, documentID int64, chunks []models.Chunk, vectors [][]float32) error
	DeleteByDocument(ctx context.Context, tenantID, documentID int64, hard bool) error
	Count(ctx context.Context, tenantID, documentID int64) (int, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ResponseCache interface {
	DeletePattern(ctx context.Context, pattern string) int
}

// Service runs document processing and incremental vector indexing. It is
// the taxonomy boundary for ingestion: internal errors leave here as one
// of the models error kinds.
type Service struct {
	docs       DocumentStore
	chunks     ChunkStore
	vectors    VectorIndex
	embedder   Embedder
	cache      ResponseCache
	dispatcher *worker.Dispatcher
	cfg        config.IngestConfig
}

func NewService(docs DocumentStore, chunks ChunkStore, vectors VectorIndex, embedder Embedder, responseCache ResponseCache, workerCfg worker.DispatcherConfig, cfg config.IngestConfig) *Service {
	s := &Service{
		docs:     docs,
		chunks:   chunks,
		vectors:  vectors,
		embedder: embedder,
		cache:    responseCache,
		cfg:      cfg,
	}
	s.dispatcher = worker.NewDispatcher(workerCfg, s)
	return s
}

// Run executes one parse task on a pool worker. Only parsing and chunk
// building happen here; database writes stay on the caller's goroutine.
func (s *Service) Run(task *worker.ParseTask) {
	parsed, err := ParseFile(task.Document.StoredPath, task.Document.MimeType)
	if err != nil {
		task.ResultCh <- worker.ParseResult{Err: err}
		return
	}
	chunks := BuildChunks(parsed, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	task.ResultCh <- worker.ParseResult{Chunks: chunks, Kind: parsed.Kind}
}

// ProcessDocument parses the document on the worker pool and replaces its
// chunk set. Reprocessing any number of times leaves exactly the chunks of
// the latest run. Returns the chunk count.
func (s *Service) ProcessDocument(ctx context.Context, tenantID, documentID int64) (int, error) {
	if tenantID <= 0 || documentID <= 0 {
		return 0, fmt.Errorf("tenant and document ids are required: %w", models.ErrValidation)
	}
	doc, err := s.docs.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return 0, err
	}
	if !s.dispatcher.Begin(documentID) {
		return 0, fmt.Errorf("document %d is already being processed: %w", documentID, models.ErrValidation)
	}
	defer s.dispatcher.End(documentID)

	if err := s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusProcessing); err != nil {
		return 0, err
	}

	resultCh := make(chan worker.ParseResult, 1)
	job := worker.Job{Type: worker.Parse, Task: &worker.ParseTask{
		Context:  ctx,
		TenantID: tenantID,
		Document: doc,
		ResultCh: resultCh,
	}}
	if err := s.dispatcher.Submit(job); err != nil {
		_ = s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusUploaded)
		return 0, err
	}
	result := <-resultCh
	if result.Err != nil {
		_ = s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusError)
		return 0, fmt.Errorf("parse document %d: %v: %w", documentID, result.Err, models.ErrValidation)
	}

	if result.Kind != "" && result.Kind != doc.Kind {
		if err := s.docs.SetDocumentKind(ctx, tenantID, documentID, result.Kind); err != nil {
			return 0, err
		}
	}

	count, err := s.chunks.ReplaceChunks(ctx, tenantID, documentID, result.Chunks, s.cfg.InsertBatch)
	if err != nil {
		_ = s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusError)
		return count, err
	}

	// Stale points from the previous chunk set must not keep serving hits.
	if err := s.vectors.DeleteByDocument(ctx, tenantID, documentID, true); err != nil {
		log.Warn().Err(err).Int64("document", documentID).Msg("drop stale vectors failed")
	}

	if err := s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusProcessed); err != nil {
		return count, err
	}
	s.cache.DeletePattern(ctx, cache.ResponsePattern(tenantID, documentID))

	log.Info().Int64("tenant", tenantID).Int64("document", documentID).
		Int("chunks", count).Msg("document processed")
	return count, nil
}

// EmbedPendingChunks embeds and indexes every chunk still in chunked
// status, walking a forward cursor over the index column in fixed-size
// batches. A mid-batch failure aborts that batch only; re-running is safe
// because embedded chunks drop out of the cursor's status filter.
func (s *Service) EmbedPendingChunks(ctx context.Context, tenantID, documentID int64) (int, error) {
	if tenantID <= 0 || documentID <= 0 {
		return 0, fmt.Errorf("tenant and document ids are required: %w", models.ErrValidation)
	}
	if _, err := s.docs.GetDocument(ctx, tenantID, documentID); err != nil {
		return 0, err
	}

	batchSize := s.cfg.IndexBatch
	if batchSize <= 0 {
		batchSize = 50
	}

	inserted := 0
	cursor := 0
	for {
		batch, err := s.chunks.ChunksByStatus(ctx, tenantID, documentID, models.ChunkStatusChunked, cursor, batchSize)
		if err != nil {
			return inserted, err
		}
		if len(batch) == 0 {
			break
		}

		texts := make([]string, len(batch))
		ids := make([]int64, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
			ids[i] = c.ID
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return inserted, providerErr("embed chunk batch", err)
		}
		if err := s.vectors.IndexChunks(ctx, tenantID, documentID, batch, vectors); err != nil {
			return inserted, providerErr("index chunk batch", err)
		}
		if err := s.chunks.MarkChunksEmbedded(ctx, tenantID, ids); err != nil {
			return inserted, err
		}

		inserted += len(batch)
		cursor = batch[len(batch)-1].Index + 1
	}

	total, err := s.chunks.CountChunks(ctx, tenantID, documentID, "")
	if err != nil {
		return inserted, err
	}
	indexed, err := s.vectors.Count(ctx, tenantID, documentID)
	if err != nil {
		return inserted, providerErr("count indexed vectors", err)
	}
	if indexed != total {
		return inserted, fmt.Errorf("indexed %d vectors for %d chunks: %w", indexed, total, models.ErrBatchMismatch)
	}

	if err := s.docs.SetDocumentStatus(ctx, tenantID, documentID, models.DocStatusReady); err != nil {
		return inserted, err
	}
	s.cache.DeletePattern(ctx, cache.ResponsePattern(tenantID, documentID))

	log.Info().Int64("tenant", tenantID).Int64("document", documentID).
		Int("embedded", inserted).Msg("document indexed")
	return inserted, nil
}

// DeleteDocument soft-deletes the document: the row is hidden, the vector
// points are flagged rather than removed, and cached answers are dropped.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, documentID int64) error {
	if tenantID <= 0 || documentID <= 0 {
		return fmt.Errorf("tenant and document ids are required: %w", models.ErrValidation)
	}
	if err := s.docs.SoftDeleteDocument(ctx, tenantID, documentID); err != nil {
		return err
	}
	if err := s.vectors.DeleteByDocument(ctx, tenantID, documentID, false); err != nil {
		log.Warn().Err(err).Int64("document", documentID).Msg("flag deleted vectors failed")
	}
	s.cache.DeletePattern(ctx, cache.ResponsePattern(tenantID, documentID))
	log.Info().Int64("tenant", tenantID).Int64("document", documentID).Msg("document deleted")
	return nil
}

// providerErr folds an external call failure into the taxonomy, keeping
// batch mismatches and validation errors as-is.
func providerErr(op string, err error) error {
	if errors.Is(err, models.ErrBatchMismatch) || errors.Is(err, models.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, models.ErrProviderFailure)
}
