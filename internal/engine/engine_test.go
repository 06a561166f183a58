package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docquery/internal/cache"
	"docquery/internal/config"
	"docquery/internal/models"
)

type engineFakes struct {
	docs          *fakeDocStore
	chunks        *fakeChunkStore
	conversations *fakeConvStore
	messages      *fakeMsgStore
	search        *fakeSearcher
	embedder      *fakeQueryEmbedder
	completer     *fakeCompleter
	summarizer    *fakeSummarizer
	extractor     *fakeExtractor
	cache         *fakeAnswerCache
}

type fakeDocStore struct {
	doc *models.Document
}

func (f *fakeDocStore) GetDocument(_ context.Context, tenantID, id int64) (*models.Document, error) {
	if f.doc == nil || f.doc.ID != id || f.doc.TenantID != tenantID {
		return nil, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	d := *f.doc
	return &d, nil
}

type fakeChunkStore struct {
	toc      []models.Chunk
	first    []models.Chunk
	searched []models.Chunk
}

func (f *fakeChunkStore) TOCChunks(_ context.Context, _, _ int64) ([]models.Chunk, error) {
	return f.toc, nil
}

func (f *fakeChunkStore) FirstChunks(_ context.Context, _, _ int64, n int) ([]models.Chunk, error) {
	if n < len(f.first) {
		return f.first[:n], nil
	}
	return f.first, nil
}

func (f *fakeChunkStore) SearchChunkContent(_ context.Context, _, _ int64, _ string, _ int) ([]models.Chunk, error) {
	return f.searched, nil
}

type fakeConvStore struct {
	conv       models.Conversation
	increments int
	usageCalls int
	lastTokens int
	lastCost   float64
}

func (f *fakeConvStore) GetOrCreateActiveConversation(_ context.Context, tenantID, userID, documentID int64) (*models.Conversation, error) {
	if f.conv.ID == 0 {
		f.conv = models.Conversation{ID: 42, TenantID: tenantID, UserID: userID, DocumentID: documentID, Active: true}
	}
	c := f.conv
	return &c, nil
}

func (f *fakeConvStore) IncrementMessageCount(_ context.Context, _, _ int64) (int, error) {
	f.increments++
	f.conv.MessageCount++
	return f.conv.MessageCount, nil
}

func (f *fakeConvStore) AddConversationUsage(_ context.Context, _, _ int64, tokens int, cost float64) error {
	f.usageCalls++
	f.lastTokens = tokens
	f.lastCost = cost
	return nil
}

type fakeMsgStore struct {
	appended []models.Message
	recent   []models.Message
}

func (f *fakeMsgStore) AppendMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	f.appended = append(f.appended, msg)
	return &msg, nil
}

func (f *fakeMsgStore) RecentMessages(_ context.Context, _, _ int64, _ int) ([]models.Message, error) {
	return f.recent, nil
}

type fakeSearcher struct {
	hits          []models.SearchHit
	calls         int
	lastThreshold float64
}

func (f *fakeSearcher) Search(_ context.Context, _, _ int64, _ []float32, _ int, scoreThreshold float64) ([]models.SearchHit, error) {
	f.calls++
	f.lastThreshold = scoreThreshold
	return f.hits, nil
}

type fakeQueryEmbedder struct {
	calls int
}

func (f *fakeQueryEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return []float32{0.1, 0.2}, nil
}

type fakeCompleter struct {
	calls  int
	answer string
	fail   bool
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string) (*models.Completion, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("model overloaded")
	}
	return &models.Completion{Text: f.answer, PromptTokens: 100, CompletionTokens: 20}, nil
}

func (f *fakeCompleter) ModelName() string { return "gpt-4o-mini" }

type fakeSummarizer struct {
	summary       string
	invalidations int
}

func (f *fakeSummarizer) GetOrGenerate(_ context.Context, _, _ int64) (*models.ConversationSummary, error) {
	return &models.ConversationSummary{Summary: f.summary}, nil
}

func (f *fakeSummarizer) Invalidate(_ context.Context, _, _ int64, _ string) {
	f.invalidations++
}

type fakeExtractor struct {
	data *models.TableData
}

func (f *fakeExtractor) Extract(_ context.Context, _, _ int64, _ *models.Document) (*models.TableData, error) {
	return f.data, nil
}

type fakeAnswerCache struct {
	values map[string][]byte
	sets   int
}

func (f *fakeAnswerCache) GetJSON(_ context.Context, key string, dest interface{}) bool {
	raw, ok := f.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeAnswerCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) {
	f.sets++
	if raw, err := json.Marshal(value); err == nil {
		f.values[key] = raw
	}
}

func newEngineFakes() *engineFakes {
	return &engineFakes{
		docs:          &fakeDocStore{doc: &models.Document{ID: 5, TenantID: 1, Status: models.DocStatusReady, Kind: models.DocKindText, Name: "book.pdf"}},
		chunks:        &fakeChunkStore{},
		conversations: &fakeConvStore{},
		messages:      &fakeMsgStore{},
		search:        &fakeSearcher{},
		embedder:      &fakeQueryEmbedder{},
		completer:     &fakeCompleter{answer: "the warranty lasts two years"},
		summarizer:    &fakeSummarizer{},
		extractor:     &fakeExtractor{},
		cache:         &fakeAnswerCache{values: map[string][]byte{}},
	}
}

func newTestEngine(f *engineFakes) *Service {
	cfg := config.RAGConfig{
		MinMessagesForHistory:   3,
		RecentMessages:          3,
		MaxTotalTokens:          3500,
		DocumentPriority:        0.7,
		SummaryRefreshThreshold: 30,
		SearchLimit:             20,
		ScoreThreshold:          0.3,
		IndexScoreThreshold:     0.2,
		MaxContextLength:        4000,
		FallbackChunks:          5,
	}
	return NewService(f.docs, f.chunks, f.conversations, f.messages, f.search, f.embedder,
		f.completer, f.summarizer, f.extractor, f.cache,
		func(_ string, p, c int) float64 { return float64(p+c) / 1e6 }, cfg)
}

func testQuery() Query {
	return Query{TenantID: 1, UserID: 7, DocumentID: 5, Question: "how long is the warranty?"}
}

func TestAnswerSemanticAndCacheReplay(t *testing.T) {
	f := newEngineFakes()
	f.search.hits = []models.SearchHit{
		{ChunkID: 110, DocumentID: 5, Index: 10, Page: 4, Score: 0.9, Content: "warranty text"},
	}
	svc := newTestEngine(f)

	answer, err := svc.Answer(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentSemantic || answer.Cached {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Text != "the warranty lasts two years" {
		t.Fatalf("text = %q", answer.Text)
	}
	if len(answer.ContextChunks) != 1 || answer.ContextChunks[0] != 110 {
		t.Fatalf("context chunks = %v", answer.ContextChunks)
	}
	if answer.Usage.TotalTokens != 120 {
		t.Fatalf("usage = %+v", answer.Usage)
	}
	if len(f.messages.appended) != 2 {
		t.Fatalf("appended %d messages, want user+assistant", len(f.messages.appended))
	}
	if f.messages.appended[0].Index != 0 || f.messages.appended[1].Index != 1 {
		t.Fatalf("message indexes: %d %d", f.messages.appended[0].Index, f.messages.appended[1].Index)
	}
	if f.conversations.usageCalls != 1 || f.conversations.lastTokens != 120 {
		t.Fatalf("usage accounting: calls=%d tokens=%d", f.conversations.usageCalls, f.conversations.lastTokens)
	}

	// second identical question is served from the cache without provider
	// work and without touching the conversation
	answer, err = svc.Answer(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("second Answer error: %v", err)
	}
	if !answer.Cached {
		t.Fatalf("expected cached answer")
	}
	if answer.ConversationID == 0 {
		t.Fatalf("cached answer missing conversation id")
	}
	if f.completer.calls != 1 || f.search.calls != 1 || f.embedder.calls != 1 {
		t.Fatalf("provider re-invoked: complete=%d search=%d embed=%d",
			f.completer.calls, f.search.calls, f.embedder.calls)
	}
	if len(f.messages.appended) != 2 || f.conversations.increments != 2 {
		t.Fatalf("cached hit persisted a turn: messages=%d increments=%d",
			len(f.messages.appended), f.conversations.increments)
	}
}

func TestAnswerDirectLookupSkipsVectorSearch(t *testing.T) {
	f := newEngineFakes()
	f.chunks.searched = []models.Chunk{
		{ID: 21, Index: 3, Content: "Name: Ana García | Email: ana@example.com | Phone: 555-0101"},
	}
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "what is the email of Ana García?"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentDirectLookup {
		t.Fatalf("intent = %s", answer.Intent)
	}
	if answer.Text != "The email address of Ana García is ana@example.com." {
		t.Fatalf("text = %q", answer.Text)
	}
	if f.search.calls != 0 || f.embedder.calls != 0 || f.completer.calls != 0 {
		t.Fatalf("lookup touched providers: search=%d embed=%d complete=%d",
			f.search.calls, f.embedder.calls, f.completer.calls)
	}
	if f.cache.sets != 0 {
		t.Fatalf("lookup wrote response cache")
	}
	if len(f.messages.appended) != 2 {
		t.Fatalf("lookup turn not persisted")
	}
}

func TestAnswerDirectLookupMiss(t *testing.T) {
	f := newEngineFakes()
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "email de Zoe"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if !strings.Contains(answer.Text, "couldn't find Zoe") {
		t.Fatalf("text = %q", answer.Text)
	}
}

func TestAnswerIndexRequest(t *testing.T) {
	f := newEngineFakes()
	f.chunks.toc = []models.Chunk{
		{ID: 1, Index: 0, Content: "Chapter 1 .... 3\nChapter 2 .... 9"},
	}
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "show me the table of contents"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentIndexRequest {
		t.Fatalf("intent = %s", answer.Intent)
	}
	if f.completer.calls != 1 {
		t.Fatalf("completer calls = %d", f.completer.calls)
	}
	if f.cache.sets != 0 {
		t.Fatalf("index answer must bypass the response cache")
	}
}

func TestAnswerIndexRequestWithoutTOC(t *testing.T) {
	f := newEngineFakes()
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "muéstrame el índice"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if !strings.Contains(answer.Text, "does not contain a table of contents") {
		t.Fatalf("text = %q", answer.Text)
	}
	// no toc chunks: the lower-threshold search ran, found nothing, and
	// the model was never called
	if f.search.calls != 1 || f.search.lastThreshold != 0.2 {
		t.Fatalf("fallback search: calls=%d threshold=%v", f.search.calls, f.search.lastThreshold)
	}
	if f.completer.calls != 0 {
		t.Fatalf("completer calls = %d", f.completer.calls)
	}
	if _, ok := f.cache.values[cache.ResponseKey(q.TenantID, q.DocumentID, q.Question)]; ok {
		t.Fatalf("index answer wrote the response cache")
	}
}

func TestAnswerIndexRequestSemanticFallback(t *testing.T) {
	f := newEngineFakes()
	f.search.hits = []models.SearchHit{
		{ChunkID: 3, DocumentID: 5, Index: 2, Page: 1, Score: 0.25, Content: "1. Intro  2. Methods  3. Results"},
	}
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "show me the table of contents"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentIndexRequest {
		t.Fatalf("intent = %s", answer.Intent)
	}
	if f.search.lastThreshold != 0.2 {
		t.Fatalf("threshold = %v, want the index threshold", f.search.lastThreshold)
	}
	if f.completer.calls != 1 {
		t.Fatalf("completer calls = %d", f.completer.calls)
	}
	if len(answer.ContextChunks) != 1 || answer.ContextChunks[0] != 3 {
		t.Fatalf("context chunks = %v", answer.ContextChunks)
	}
	if _, ok := f.cache.values[cache.ResponseKey(q.TenantID, q.DocumentID, q.Question)]; ok {
		t.Fatalf("index answer wrote the response cache")
	}
}

func TestAnswerStructuredList(t *testing.T) {
	f := newEngineFakes()
	f.docs.doc.Kind = models.DocKindTabular
	f.docs.doc.Name = "people.csv"
	f.extractor.data = &models.TableData{
		Rows:      []models.TableRow{{Name: "Ana", Email: "ana@x.com"}},
		Total:     30,
		Truncated: true,
		ExportID:  "exp-1",
	}
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "list all the clients"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentStructuredList {
		t.Fatalf("intent = %s", answer.Intent)
	}
	if answer.Structured == nil || answer.Structured.ExportID != "exp-1" {
		t.Fatalf("structured = %+v", answer.Structured)
	}
	if f.completer.calls != 0 {
		t.Fatalf("structured answer invoked the model")
	}
}

func TestAnswerStructuredListFallsThrough(t *testing.T) {
	f := newEngineFakes()
	f.docs.doc.Kind = models.DocKindTabular
	f.docs.doc.Name = "people.csv"
	f.extractor.data = &models.TableData{} // nothing extracted
	f.search.hits = []models.SearchHit{
		{ChunkID: 1, DocumentID: 5, Index: 0, Page: 1, Score: 0.8, Content: "row"},
	}
	svc := newTestEngine(f)

	q := testQuery()
	q.Question = "list all the clients"
	answer, err := svc.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if answer.Intent != IntentSemantic {
		t.Fatalf("intent = %s, want fall-through to semantic", answer.Intent)
	}
	if f.completer.calls != 1 {
		t.Fatalf("completer calls = %d", f.completer.calls)
	}
}

func TestAnswerWeakFallback(t *testing.T) {
	f := newEngineFakes()
	f.chunks.first = []models.Chunk{
		{ID: 1, Index: 0, Page: 1, Content: "opening"},
		{ID: 2, Index: 1, Page: 1, Content: "chunks"},
	}
	svc := newTestEngine(f)

	answer, err := svc.Answer(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("Answer error: %v", err)
	}
	if len(answer.ContextChunks) != 2 {
		t.Fatalf("fallback chunks = %v", answer.ContextChunks)
	}
}

func TestAnswerProviderFailure(t *testing.T) {
	f := newEngineFakes()
	f.completer.fail = true
	svc := newTestEngine(f)

	_, err := svc.Answer(context.Background(), testQuery())
	if !errors.Is(err, models.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
}

func TestAnswerValidation(t *testing.T) {
	svc := newTestEngine(newEngineFakes())

	q := testQuery()
	q.Question = "   "
	if _, err := svc.Answer(context.Background(), q); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("blank question err = %v", err)
	}

	q = testQuery()
	q.DocumentID = 0
	if _, err := svc.Answer(context.Background(), q); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing document err = %v", err)
	}
}

func TestAnswerRejectsUnprocessedDocument(t *testing.T) {
	f := newEngineFakes()
	f.docs.doc.Status = models.DocStatusUploaded
	svc := newTestEngine(f)

	if _, err := svc.Answer(context.Background(), testQuery()); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
