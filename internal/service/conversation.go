package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/models"
)

// ConversationManager owns the thread lifecycle: one ACTIVE conversation per
// (tenant, customer, channel), append-only message history, and status
// transitions.
type ConversationManager struct {
	Store         Store
	Logger        zerolog.Logger
	HistoryWindow int
}

func (m *ConversationManager) GetOrCreateActive(ctx context.Context, businessID, customerID string, channel models.Channel) (models.Conversation, error) {
	return m.Store.GetOrCreateActiveConversation(ctx, businessID, customerID, channel)
}

// Append is the only mutator of message history. It also bumps the
// conversation's last-activity timestamp (done at the storage layer).
func (m *ConversationManager) Append(ctx context.Context, conversationID string, role models.MessageRole, content string, metadata models.MessageMetadata) (models.Message, error) {
	return m.Store.InsertMessage(ctx, conversationID, role, content, metadata)
}

// History returns the bounded most-recent window of messages in chronological
// order. Older history is dropped, not summarized.
func (m *ConversationManager) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	window := m.HistoryWindow
	if window <= 0 {
		window = 10
	}
	return m.Store.ListRecentMessages(ctx, conversationID, window)
}

// Transition moves the conversation to a new status. ESCALATED requires a
// non-empty reason; RESOLVED is terminal.
func (m *ConversationManager) Transition(ctx context.Context, conversationID string, status models.ConversationStatus, reason string) error {
	if status == models.ConversationEscalated && reason == "" {
		return errors.New("escalation requires a reason")
	}
	return m.Store.TransitionConversation(ctx, conversationID, status, reason)
}
