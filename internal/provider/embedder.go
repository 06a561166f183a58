package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"docquery/internal/config"
	"docquery/internal/models"
)

const (
	// maxInputChars caps a single text before embedding; longer inputs are
	// truncated rather than rejected.
	maxInputChars = 8000

	// tokenBudgetPerCall is the estimated token volume above which the
	// batch size is halved to stay under provider limits.
	tokenBudgetPerCall = 800_000

	minBatchSize = 16
)

// batchEmbedder is the slice of the langchaingo embedder the adaptive
// layer needs; tests substitute a fake.
type batchEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Embedder wraps a langchaingo embedder with preprocessing, adaptive
// batch sizing and bounded parallel batches. The output vector list always
// preserves input order regardless of batch completion order.
type Embedder struct {
	inner       batchEmbedder
	batchSize   int
	maxTexts    int
	concurrency int
}

// NewEmbedder builds the embedding client from the "embedding" provider
// entry (an OpenAI-compatible endpoint).
func NewEmbedder(cfg *config.Config) (*Embedder, error) {
	provCfg, ok := cfg.Providers["embedding"]
	if !ok {
		return nil, fmt.Errorf("provider config for embedding not found")
	}
	opts := []openai.Option{
		openai.WithToken(provCfg.APIKey),
		openai.WithModel(provCfg.Model),
		openai.WithEmbeddingModel(provCfg.Model),
	}
	if provCfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(provCfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init embedding llm: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return newEmbedder(embedder, cfg.Ingest), nil
}

func newEmbedder(inner batchEmbedder, cfg config.IngestConfig) *Embedder {
	return &Embedder{
		inner:       inner,
		batchSize:   cfg.EmbedBatch,
		maxTexts:    cfg.EmbedMaxTexts,
		concurrency: cfg.EmbedConcurrency,
	}
}

// EmbedText embeds a single preprocessed text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.inner.EmbedQuery(ctx, preprocess(text))
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts in adaptive batches. The hard cap on total texts
// per call bounds memory; a count mismatch from the provider is fatal for
// that batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.maxTexts {
		return nil, fmt.Errorf("%d texts exceeds cap of %d: %w", len(texts), e.maxTexts, models.ErrValidation)
	}

	prepared := make([]string, len(texts))
	estimated := 0
	for i, t := range texts {
		prepared[i] = preprocess(t)
		estimated += models.EstimateTokens(prepared[i])
	}

	// Halve the batch while its share of the volume is over budget. The
	// floor applies only when shrinking; a configured size below it is
	// honored as-is.
	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	for volume := estimated; volume > tokenBudgetPerCall && batchSize > minBatchSize; volume /= 2 {
		batchSize /= 2
		if batchSize < minBatchSize {
			batchSize = minBatchSize
		}
	}

	type span struct{ lo, hi int }
	var spans []span
	for lo := 0; lo < len(prepared); lo += batchSize {
		hi := lo + batchSize
		if hi > len(prepared) {
			hi = len(prepared)
		}
		spans = append(spans, span{lo, hi})
	}

	concurrency := e.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, concurrency)
	results := make([][][]float32, len(spans))

	for i, sp := range spans {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sp span) {
			defer wg.Done()
			defer func() { <-sem }()
			vecs, err := e.inner.EmbedDocuments(ctx, prepared[sp.lo:sp.hi])
			if err == nil && len(vecs) != sp.hi-sp.lo {
				err = fmt.Errorf("batch %d returned %d vectors for %d texts: %w",
					i, len(vecs), sp.hi-sp.lo, models.ErrBatchMismatch)
			}
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				results[i] = vecs
			}
			mu.Unlock()
		}(i, sp)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	// Reassemble by batch index so output position i matches input i.
	out := make([][]float32, 0, len(prepared))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	if len(out) != len(prepared) {
		return nil, fmt.Errorf("got %d vectors for %d texts: %w", len(out), len(prepared), models.ErrBatchMismatch)
	}
	return out, nil
}

// preprocess trims, collapses internal whitespace and caps the length so
// a pathological chunk cannot blow the provider's input limit.
func preprocess(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}
	return text
}
