package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docquery/internal/cache"
	"docquery/internal/models"
)

type fakeConvStore struct {
	conv       *models.Conversation
	getCalls   int
	savedText  string
	savedIndex int
	savedCount int
	saveCalls  int
}

func (f *fakeConvStore) GetConversation(_ context.Context, tenantID, id int64) (*models.Conversation, error) {
	f.getCalls++
	if f.conv == nil || f.conv.ID != id || f.conv.TenantID != tenantID {
		return nil, fmt.Errorf("conversation %d: %w", id, models.ErrNotFound)
	}
	c := *f.conv
	return &c, nil
}

func (f *fakeConvStore) SaveConversationSummary(_ context.Context, _, _ int64, summary string, lastSummarizedIndex, summaryMessageCount int) error {
	f.saveCalls++
	f.savedText = summary
	f.savedIndex = lastSummarizedIndex
	f.savedCount = summaryMessageCount
	return nil
}

type fakeMsgStore struct {
	msgs     []models.Message
	lastFrom int
}

func (f *fakeMsgStore) MessagesFromIndex(_ context.Context, _, _ int64, from int) ([]models.Message, error) {
	f.lastFrom = from
	var out []models.Message
	for _, m := range f.msgs {
		if m.Index >= from {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeCompleter struct {
	calls      int
	lastPrompt string
	fail       bool
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (*models.Completion, error) {
	f.calls++
	f.lastPrompt = user
	if f.fail {
		return nil, errors.New("model overloaded")
	}
	return &models.Completion{Text: " fresh summary \n"}, nil
}

type fakeSummaryCache struct {
	values  map[string][]byte
	deleted []string
}

func newFakeSummaryCache() *fakeSummaryCache {
	return &fakeSummaryCache{values: map[string][]byte{}}
}

func (f *fakeSummaryCache) GetJSON(_ context.Context, key string, dest interface{}) bool {
	raw, ok := f.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeSummaryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) {
	if raw, err := json.Marshal(value); err == nil {
		f.values[key] = raw
	}
}

func (f *fakeSummaryCache) Delete(_ context.Context, keys ...string) {
	for _, k := range keys {
		f.deleted = append(f.deleted, k)
		delete(f.values, k)
	}
}

func TestGetOrGenerateHotCacheHit(t *testing.T) {
	convs := &fakeConvStore{}
	cacheFake := newFakeSummaryCache()
	cacheFake.SetJSON(context.Background(), cache.SummaryKey(1, 42),
		&models.ConversationSummary{Summary: "hot summary", MessageCount: 10}, cache.SummaryTTL)
	svc := NewService(convs, &fakeMsgStore{}, &fakeCompleter{}, cacheFake, 30)

	got, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("GetOrGenerate error: %v", err)
	}
	if got.Summary != "hot summary" {
		t.Fatalf("summary = %q", got.Summary)
	}
	if convs.getCalls != 0 {
		t.Fatalf("hot hit touched the store")
	}
}

func TestGetOrGeneratePersistedFresh(t *testing.T) {
	generatedAt := time.Now().Add(-time.Hour).UTC()
	convs := &fakeConvStore{conv: &models.Conversation{
		ID: 42, TenantID: 1, MessageCount: 20,
		Summary: "persisted summary", LastSummarizedIndex: 18,
		SummaryMessageCount: 18, SummaryGeneratedAt: &generatedAt,
	}}
	completer := &fakeCompleter{}
	cacheFake := newFakeSummaryCache()
	svc := NewService(convs, &fakeMsgStore{}, completer, cacheFake, 30)

	got, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("GetOrGenerate error: %v", err)
	}
	if got.Summary != "persisted summary" {
		t.Fatalf("summary = %q", got.Summary)
	}
	if completer.calls != 0 {
		t.Fatalf("fresh persisted summary regenerated")
	}
	// the persisted read repopulates the hot tier
	var hot models.ConversationSummary
	if !cacheFake.GetJSON(context.Background(), cache.SummaryKey(1, 42), &hot) {
		t.Fatalf("hot tier not repopulated")
	}
}

func TestGetOrGenerateStaleRegenerates(t *testing.T) {
	convs := &fakeConvStore{conv: &models.Conversation{
		ID: 42, TenantID: 1, MessageCount: 40,
		Summary: "old summary", LastSummarizedIndex: 5,
	}}
	msgs := &fakeMsgStore{msgs: []models.Message{
		{Index: 4, Role: models.RoleUser, Content: "already summarized"},
		{Index: 5, Role: models.RoleUser, Content: "what about delivery?"},
		{Index: 6, Role: models.RoleAssistant, Content: "delivery takes five days"},
	}}
	completer := &fakeCompleter{}
	cacheFake := newFakeSummaryCache()
	svc := NewService(convs, msgs, completer, cacheFake, 30)

	got, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("GetOrGenerate error: %v", err)
	}
	if got.Summary != "fresh summary" {
		t.Fatalf("summary = %q, want trimmed completion", got.Summary)
	}
	if msgs.lastFrom != 5 {
		t.Fatalf("regeneration read from index %d, want 5", msgs.lastFrom)
	}
	// the transcript seeds the previous summary and skips summarized turns
	if !strings.Contains(completer.lastPrompt, "Summary so far:\nold summary") {
		t.Fatalf("prompt missing previous summary: %q", completer.lastPrompt)
	}
	if strings.Contains(completer.lastPrompt, "already summarized") {
		t.Fatalf("prompt includes summarized messages")
	}
	if convs.saveCalls != 1 || convs.savedText != "fresh summary" {
		t.Fatalf("save: calls=%d text=%q", convs.saveCalls, convs.savedText)
	}
	if convs.savedIndex != 40 || convs.savedCount != 40 {
		t.Fatalf("save watermark: index=%d count=%d, want 40/40", convs.savedIndex, convs.savedCount)
	}
}

func TestGetOrGenerateStaleWithNoTail(t *testing.T) {
	convs := &fakeConvStore{conv: &models.Conversation{
		ID: 42, TenantID: 1, MessageCount: 40,
		Summary: "old summary", LastSummarizedIndex: 50,
	}}
	completer := &fakeCompleter{}
	svc := NewService(convs, &fakeMsgStore{}, completer, newFakeSummaryCache(), 30)

	got, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("GetOrGenerate error: %v", err)
	}
	if got.Summary != "old summary" || completer.calls != 0 {
		t.Fatalf("empty tail: summary=%q calls=%d", got.Summary, completer.calls)
	}
}

func TestGetOrGenerateProviderFailure(t *testing.T) {
	convs := &fakeConvStore{conv: &models.Conversation{
		ID: 42, TenantID: 1, MessageCount: 40, LastSummarizedIndex: 0,
	}}
	msgs := &fakeMsgStore{msgs: []models.Message{
		{Index: 0, Role: models.RoleUser, Content: "hi"},
	}}
	svc := NewService(convs, msgs, &fakeCompleter{fail: true}, newFakeSummaryCache(), 30)

	_, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if !errors.Is(err, models.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if convs.saveCalls != 0 {
		t.Fatalf("failed regeneration was persisted")
	}
}

func TestInvalidateDropsOnlyHotEntry(t *testing.T) {
	convs := &fakeConvStore{conv: &models.Conversation{
		ID: 42, TenantID: 1, MessageCount: 20,
		Summary: "persisted summary", LastSummarizedIndex: 18,
	}}
	cacheFake := newFakeSummaryCache()
	cacheFake.SetJSON(context.Background(), cache.SummaryKey(1, 42),
		&models.ConversationSummary{Summary: "hot summary"}, cache.SummaryTTL)
	svc := NewService(convs, &fakeMsgStore{}, &fakeCompleter{}, cacheFake, 30)

	svc.Invalidate(context.Background(), 1, 42, "test")
	if len(cacheFake.deleted) != 1 || cacheFake.deleted[0] != cache.SummaryKey(1, 42) {
		t.Fatalf("deleted = %v", cacheFake.deleted)
	}

	// next read falls back to the persisted summary, not a regeneration
	got, err := svc.GetOrGenerate(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("GetOrGenerate error: %v", err)
	}
	if got.Summary != "persisted summary" {
		t.Fatalf("summary = %q", got.Summary)
	}
}
