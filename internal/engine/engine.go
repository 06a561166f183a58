package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"docquery/internal/cache"
	"docquery/internal/config"
	"docquery/internal/models"
)

type DocumentStore interface {
	GetDocument(ctx context.Context, tenantID, id int64) (*models.Document, error)
}

type ChunkStore interface {
	TOCChunks(ctx context.Context, tenantID, documentID int64) ([]models.Chunk, error)
	FirstChunks(ctx context.Context, tenantID, documentID int64, n int) ([]models.Chunk, error)
	SearchChunkContent(ctx context.Context, tenantID, documentID int64, term string, limit int) ([]models.Chunk, error)
}

type ConversationStore interface {
	GetOrCreateActiveConversation(ctx context.Context, tenantID, userID, documentID int64) (*models.Conversation, error)
	IncrementMessageCount(ctx context.Context, tenantID, conversationID int64) (int, error)
	AddConversationUsage(ctx context.Context, tenantID, conversationID int64, tokens int, cost float64) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	RecentMessages(ctx context.Context, tenantID, conversationID int64, n int) ([]models.Message, error)
}

type Searcher interface {
	Search(ctx context.Context, tenantID, documentID int64, vector []float32, limit int, scoreThreshold float64) ([]models.SearchHit, error)
}

type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, system, user string) (*models.Completion, error)
	ModelName() string
}

type Summarizer interface {
	GetOrGenerate(ctx context.Context, tenantID, conversationID int64) (*models.ConversationSummary, error)
	Invalidate(ctx context.Context, tenantID, conversationID int64, reason string)
}

type Extractor interface {
	Extract(ctx context.Context, tenantID, userID int64, doc *models.Document) (*models.TableData, error)
}

type AnswerCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// Query is one user question against one document.
type Query struct {
	TenantID   int64
	UserID     int64
	DocumentID int64
	Question   string
}

// cachedAnswer is the response cache payload. Conversation state is
// excluded: the entry is shared by every user of the tenant asking the
// same question about the same document.
type cachedAnswer struct {
	Text          string  `json:"text"`
	ContextChunks []int64 `json:"context_chunks"`
	Intent        string  `json:"intent"`
}

type costFunc func(model string, promptTokens, completionTokens int) float64

// Service answers document questions: intent classification, retrieval,
// prompt assembly, completion, and turn persistence.
type Service struct {
	docs          DocumentStore
	chunks        ChunkStore
	conversations ConversationStore
	messages      MessageStore
	search        Searcher
	embedder      QueryEmbedder
	completer     Completer
	summarizer    Summarizer
	extractor     Extractor
	cache         AnswerCache
	cost          costFunc
	cfg           config.RAGConfig
}

func NewService(
	docs DocumentStore,
	chunks ChunkStore,
	conversations ConversationStore,
	messages MessageStore,
	search Searcher,
	embedder QueryEmbedder,
	completer Completer,
	summarizer Summarizer,
	extractor Extractor,
	answerCache AnswerCache,
	cost costFunc,
	cfg config.RAGConfig,
) *Service {
	return &Service{
		docs:          docs,
		chunks:        chunks,
		conversations: conversations,
		messages:      messages,
		search:        search,
		embedder:      embedder,
		completer:     completer,
		summarizer:    summarizer,
		extractor:     extractor,
		cache:         answerCache,
		cost:          cost,
		cfg:           cfg,
	}
}

// Answer runs the full query pipeline. Every generated answer persists
// the exchange into the user's active conversation; a response-cache hit
// is returned as-is. Only plain semantic answers go through the response
// cache.
func (s *Service) Answer(ctx context.Context, q Query) (*models.Answer, error) {
	if q.TenantID <= 0 || q.UserID <= 0 || q.DocumentID <= 0 {
		return nil, fmt.Errorf("tenant, user and document ids are required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(q.Question) == "" {
		return nil, fmt.Errorf("question is required: %w", models.ErrValidation)
	}

	doc, err := s.docs.GetDocument(ctx, q.TenantID, q.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocStatusProcessed && doc.Status != models.DocStatusReady {
		return nil, fmt.Errorf("document %d is not queryable in status %s: %w", doc.ID, doc.Status, models.ErrValidation)
	}

	intent, lookup := ClassifyIntent(q.Question, doc)
	log.Debug().Int64("tenant", q.TenantID).Int64("document", q.DocumentID).
		Str("intent", intent).Msg("question classified")

	switch intent {
	case IntentDirectLookup:
		return s.answerDirectLookup(ctx, q, lookup)
	case IntentIndexRequest:
		return s.answerIndexRequest(ctx, q)
	case IntentStructuredList:
		answer, err := s.answerStructuredList(ctx, q, doc)
		if err != nil || answer != nil {
			return answer, err
		}
		// no rows extracted: fall through to semantic retrieval
	}
	return s.answerSemantic(ctx, q, doc)
}

// answerDirectLookup resolves the entity from the relational chunks. No
// vector search runs and the response cache is bypassed, but the turn is
// still persisted.
func (s *Service) answerDirectLookup(ctx context.Context, q Query, lookup *LookupRequest) (*models.Answer, error) {
	text, chunkIDs, err := s.directLookup(ctx, q.TenantID, q.DocumentID, lookup)
	if err != nil {
		return nil, err
	}
	convID, err := s.persistTurn(ctx, q, text, chunkIDs, models.TokenUsage{})
	if err != nil {
		return nil, err
	}
	return &models.Answer{
		Text:           text,
		ContextChunks:  chunkIDs,
		ConversationID: convID,
		Intent:         IntentDirectLookup,
	}, nil
}

// answerIndexRequest answers from the table-of-contents chunks, falling
// back to a semantic search with the lower index threshold when none are
// flagged. Index answers always bypass the response cache in both
// directions.
func (s *Service) answerIndexRequest(ctx context.Context, q Query) (*models.Answer, error) {
	tocChunks, err := s.chunks.TOCChunks(ctx, q.TenantID, q.DocumentID)
	if err != nil {
		return nil, err
	}

	var (
		parts    []string
		chunkIDs []int64
	)
	if len(tocChunks) > 0 {
		for _, c := range tocChunks {
			parts = append(parts, c.Content)
			chunkIDs = append(chunkIDs, c.ID)
		}
	} else {
		vector, err := s.embedQuestion(ctx, q.TenantID, q.Question)
		if err != nil {
			return nil, err
		}
		hits, err := s.search.Search(ctx, q.TenantID, q.DocumentID, vector, s.cfg.SearchLimit, s.cfg.IndexScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("index search: %v: %w", err, models.ErrProviderFailure)
		}
		for _, h := range selectContext(hits) {
			parts = append(parts, h.Content)
			chunkIDs = append(chunkIDs, h.ChunkID)
		}
	}
	if len(parts) == 0 {
		text := "The document does not contain a table of contents."
		convID, err := s.persistTurn(ctx, q, text, nil, models.TokenUsage{})
		if err != nil {
			return nil, err
		}
		return &models.Answer{Text: text, ConversationID: convID, Intent: IntentIndexRequest}, nil
	}
	docContext := joinContext(parts, s.cfg.MaxContextLength)

	completion, err := s.completer.Complete(ctx, indexSystemPrompt, buildUserPrompt(docContext, "", q.Question))
	if err != nil {
		return nil, fmt.Errorf("index answer: %v: %w", err, models.ErrProviderFailure)
	}
	usage := s.usageFor(completion)
	convID, err := s.persistTurn(ctx, q, completion.Text, chunkIDs, usage)
	if err != nil {
		return nil, err
	}
	return &models.Answer{
		Text:           completion.Text,
		ContextChunks:  chunkIDs,
		Usage:          usage,
		ConversationID: convID,
		Intent:         IntentIndexRequest,
	}, nil
}

// answerStructuredList materializes the table. Returns (nil, nil) when
// extraction finds nothing so the caller can fall back to semantic
// retrieval.
func (s *Service) answerStructuredList(ctx context.Context, q Query, doc *models.Document) (*models.Answer, error) {
	data, err := s.extractor.Extract(ctx, q.TenantID, q.UserID, doc)
	if err != nil {
		return nil, err
	}
	if data == nil || data.Total == 0 {
		return nil, nil
	}
	text := tableSummaryText(data)
	convID, err := s.persistTurn(ctx, q, text, nil, models.TokenUsage{})
	if err != nil {
		return nil, err
	}
	return &models.Answer{
		Text:           text,
		ConversationID: convID,
		Intent:         IntentStructuredList,
		Structured:     data,
	}, nil
}

// answerSemantic is the retrieval-augmented path: response cache, query
// embedding (cached), filtered vector search with neighbor expansion,
// token-budgeted prompt assembly, and completion.
func (s *Service) answerSemantic(ctx context.Context, q Query, doc *models.Document) (*models.Answer, error) {
	responseKey := cache.ResponseKey(q.TenantID, q.DocumentID, q.Question)

	var hit cachedAnswer
	if s.cache.GetJSON(ctx, responseKey, &hit) {
		// Served straight from the cache: no providers and no new messages.
		conv, err := s.conversations.GetOrCreateActiveConversation(ctx, q.TenantID, q.UserID, q.DocumentID)
		if err != nil {
			return nil, err
		}
		return &models.Answer{
			Text:           hit.Text,
			ContextChunks:  hit.ContextChunks,
			ConversationID: conv.ID,
			Intent:         IntentSemantic,
			Cached:         true,
		}, nil
	}

	vector, err := s.embedQuestion(ctx, q.TenantID, q.Question)
	if err != nil {
		return nil, err
	}
	hits, err := s.search.Search(ctx, q.TenantID, q.DocumentID, vector, s.cfg.SearchLimit, s.cfg.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %v: %w", err, models.ErrProviderFailure)
	}

	var (
		parts    []string
		chunkIDs []int64
	)
	if picked := selectContext(hits); len(picked) > 0 {
		for _, h := range picked {
			parts = append(parts, h.Content)
			chunkIDs = append(chunkIDs, h.ChunkID)
		}
	} else {
		// Nothing scored: fall back to the document's opening chunks so the
		// model can at least refuse with awareness of what the document is.
		first, err := s.chunks.FirstChunks(ctx, q.TenantID, q.DocumentID, s.cfg.FallbackChunks)
		if err != nil {
			return nil, err
		}
		for _, c := range first {
			parts = append(parts, c.Content)
			chunkIDs = append(chunkIDs, c.ID)
		}
	}
	docContext := joinContext(parts, s.cfg.MaxContextLength)
	docContext = fitToTokens(docContext, docTokenBudget(s.cfg.MaxTotalTokens, s.cfg.DocumentPriority))

	history, err := s.buildConversationHistory(ctx, q, docContext)
	if err != nil {
		return nil, err
	}

	completion, err := s.completer.Complete(ctx, answerSystemPrompt, buildUserPrompt(docContext, history, q.Question))
	if err != nil {
		return nil, fmt.Errorf("semantic answer: %v: %w", err, models.ErrProviderFailure)
	}
	usage := s.usageFor(completion)

	convID, err := s.persistTurn(ctx, q, completion.Text, chunkIDs, usage)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, responseKey, cachedAnswer{
		Text:          completion.Text,
		ContextChunks: chunkIDs,
		Intent:        IntentSemantic,
	}, cache.ResponseTTL)

	return &models.Answer{
		Text:           completion.Text,
		ContextChunks:  chunkIDs,
		Usage:          usage,
		ConversationID: convID,
		Intent:         IntentSemantic,
	}, nil
}

// embedQuestion returns the question vector, reusing the embedding cache
// across conversations of the same tenant.
func (s *Service) embedQuestion(ctx context.Context, tenantID int64, question string) ([]float32, error) {
	key := cache.EmbeddingKey(tenantID, question)
	var vector []float32
	if s.cache.GetJSON(ctx, key, &vector) && len(vector) > 0 {
		return vector, nil
	}
	vector, err := s.embedder.EmbedText(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %v: %w", err, models.ErrProviderFailure)
	}
	s.cache.SetJSON(ctx, key, vector, cache.EmbeddingTTL)
	return vector, nil
}

// buildConversationHistory renders summary plus recent turns when the
// conversation is long enough or the question refers back, trimmed to
// whatever token budget the document context left over.
func (s *Service) buildConversationHistory(ctx context.Context, q Query, docContext string) (string, error) {
	conv, err := s.conversations.GetOrCreateActiveConversation(ctx, q.TenantID, q.UserID, q.DocumentID)
	if err != nil {
		return "", err
	}
	if conv.MessageCount < s.cfg.MinMessagesForHistory && !refersBack(q.Question) {
		return "", nil
	}

	summaryText := ""
	if summary, err := s.summarizer.GetOrGenerate(ctx, q.TenantID, conv.ID); err == nil && summary != nil {
		summaryText = summary.Summary
	} else if err != nil {
		log.Warn().Err(err).Int64("conversation", conv.ID).Msg("summary unavailable, using recent turns only")
	}

	recent, err := s.messages.RecentMessages(ctx, q.TenantID, conv.ID, s.cfg.RecentMessages)
	if err != nil {
		return "", err
	}

	history := buildHistory(summaryText, recent)
	budget := s.cfg.MaxTotalTokens - models.EstimateTokens(docContext)
	return fitToTokens(history, budget), nil
}

// persistTurn appends the user question and the assistant answer to the
// active conversation, with indexes derived from the atomic counter, and
// accumulates usage. Crossing the summary refresh threshold drops the hot
// summary entry.
func (s *Service) persistTurn(ctx context.Context, q Query, answerText string, chunkIDs []int64, usage models.TokenUsage) (int64, error) {
	conv, err := s.conversations.GetOrCreateActiveConversation(ctx, q.TenantID, q.UserID, q.DocumentID)
	if err != nil {
		return 0, err
	}

	count, err := s.conversations.IncrementMessageCount(ctx, q.TenantID, conv.ID)
	if err != nil {
		return 0, err
	}
	if _, err := s.messages.AppendMessage(ctx, models.Message{
		TenantID:       q.TenantID,
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Index:          count - 1,
		Content:        q.Question,
		Tokens:         models.EstimateTokens(q.Question),
	}); err != nil {
		return 0, err
	}

	count, err = s.conversations.IncrementMessageCount(ctx, q.TenantID, conv.ID)
	if err != nil {
		return 0, err
	}
	if _, err := s.messages.AppendMessage(ctx, models.Message{
		TenantID:       q.TenantID,
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Index:          count - 1,
		Content:        answerText,
		Tokens:         usage.CompletionTokens,
		ChunkIDs:       chunkIDs,
	}); err != nil {
		return 0, err
	}

	if usage.TotalTokens > 0 || usage.Cost > 0 {
		if err := s.conversations.AddConversationUsage(ctx, q.TenantID, conv.ID, usage.TotalTokens, usage.Cost); err != nil {
			return 0, err
		}
	}

	if count-conv.LastSummarizedIndex >= s.cfg.SummaryRefreshThreshold {
		s.summarizer.Invalidate(ctx, q.TenantID, conv.ID, "refresh threshold crossed")
	}
	return conv.ID, nil
}

func (s *Service) usageFor(completion *models.Completion) models.TokenUsage {
	usage := models.TokenUsage{
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		TotalTokens:      completion.PromptTokens + completion.CompletionTokens,
	}
	if s.cost != nil {
		usage.Cost = s.cost(s.completer.ModelName(), completion.PromptTokens, completion.CompletionTokens)
	}
	return usage
}
