package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"docquery/internal/cache"
	"docquery/internal/models"
)

const systemPrompt = "You are a conversation summarizer. " +
	"Produce a concise summary of the dialogue between the user and the assistant, " +
	"keeping names, figures and decisions. Limit the summary to 6 sentences. " +
	"Output only the summary."

type ConversationStore interface {
	GetConversation(ctx context.Context, tenantID, id int64) (*models.Conversation, error)
	SaveConversationSummary(ctx context.Context, tenantID, conversationID int64, summary string, lastSummarizedIndex, summaryMessageCount int) error
}

type MessageStore interface {
	MessagesFromIndex(ctx context.Context, tenantID, conversationID int64, from int) ([]models.Message, error)
}

type Completer interface {
	Complete(ctx context.Context, system, user string) (*models.Completion, error)
}

type SummaryCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// Service reads conversation summaries through three tiers: the hot cache
// entry, the persisted summary while still fresh, and finally a
// regeneration over the unsummarized message tail.
type Service struct {
	conversations    ConversationStore
	messages         MessageStore
	completer        Completer
	cache            SummaryCache
	refreshThreshold int
}

func NewService(conversations ConversationStore, messages MessageStore, completer Completer, summaryCache SummaryCache, refreshThreshold int) *Service {
	if refreshThreshold <= 0 {
		refreshThreshold = 30
	}
	return &Service{
		conversations:    conversations,
		messages:         messages,
		completer:        completer,
		cache:            summaryCache,
		refreshThreshold: refreshThreshold,
	}
}

// GetOrGenerate returns the conversation summary, regenerating only when
// both the hot cache misses and the persisted summary has gone stale.
func (s *Service) GetOrGenerate(ctx context.Context, tenantID, conversationID int64) (*models.ConversationSummary, error) {
	key := cache.SummaryKey(tenantID, conversationID)

	var cached models.ConversationSummary
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	conv, err := s.conversations.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	// Persisted summary is valid while fewer than refreshThreshold new
	// messages arrived since it was generated.
	newMessages := conv.MessageCount - conv.LastSummarizedIndex
	if conv.Summary != "" && newMessages < s.refreshThreshold {
		result := &models.ConversationSummary{
			Summary:      conv.Summary,
			MessageCount: conv.SummaryMessageCount,
		}
		if conv.SummaryGeneratedAt != nil {
			result.GeneratedAt = *conv.SummaryGeneratedAt
		}
		s.cache.SetJSON(ctx, key, result, cache.SummaryTTL)
		return result, nil
	}

	msgs, err := s.messages.MessagesFromIndex(ctx, tenantID, conversationID, conv.LastSummarizedIndex)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		result := &models.ConversationSummary{
			Summary:      conv.Summary,
			MessageCount: conv.MessageCount,
		}
		return result, nil
	}

	completion, err := s.completer.Complete(ctx, systemPrompt, buildTranscript(conv.Summary, msgs))
	if err != nil {
		return nil, fmt.Errorf("summarize conversation %d: %v: %w", conversationID, err, models.ErrProviderFailure)
	}
	text := strings.TrimSpace(completion.Text)

	if err := s.conversations.SaveConversationSummary(ctx, tenantID, conversationID, text, conv.MessageCount, conv.MessageCount); err != nil {
		return nil, err
	}
	result := &models.ConversationSummary{
		Summary:      text,
		GeneratedAt:  time.Now().UTC(),
		MessageCount: conv.MessageCount,
	}
	s.cache.SetJSON(ctx, key, result, cache.SummaryTTL)
	return result, nil
}

// Invalidate drops only the hot cache entry. The persisted summary stays
// and is re-evaluated against the refresh threshold on the next read.
func (s *Service) Invalidate(ctx context.Context, tenantID, conversationID int64, reason string) {
	s.cache.Delete(ctx, cache.SummaryKey(tenantID, conversationID))
	log.Debug().Int64("tenant", tenantID).Int64("conversation", conversationID).
		Str("reason", reason).Msg("summary cache invalidated")
}

// buildTranscript renders the unsummarized tail, seeding the previous
// summary so regeneration keeps earlier context.
func buildTranscript(previous string, msgs []models.Message) string {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("Summary so far:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\nNew messages:\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			sb.WriteString("User: ")
		case models.RoleAssistant:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
