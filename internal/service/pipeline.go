package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ingress"
	"github.com/omni-assistant/backend/internal/models"
)

// Pipeline runs one inbound message through the full exchange: dedup, rate
// limit, identity resolution, conversation lookup, model orchestration,
// persistence, and outbound dispatch.
type Pipeline struct {
	Store         Store
	Identity      *Resolver
	Conversations *ConversationManager
	Orchestrator  *Orchestrator
	Dispatcher    *Dispatcher
	Limiter       *SenderLimiter
	Logger        zerolog.Logger
}

// Handle processes an asynchronous (webhook-originated) inbound message.
// Duplicate deliveries return ErrDuplicate with no side effects. Outbound
// delivery failure is logged but does not unwind the stored exchange.
func (p *Pipeline) Handle(ctx context.Context, msg ingress.InboundMessage) error {
	if msg.PlatformMessageID != "" {
		seen, err := p.Store.MessageSeen(ctx, msg.BusinessID, msg.Channel, msg.PlatformMessageID)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			p.Logger.Debug().
				Str("business_id", msg.BusinessID).
				Str("platform_message_id", msg.PlatformMessageID).
				Msg("duplicate delivery dropped")
			return ErrDuplicate
		}
	}

	if p.Limiter != nil && !p.Limiter.Allow(msg.BusinessID, msg.SenderID) {
		p.Logger.Warn().
			Str("business_id", msg.BusinessID).
			Str("sender_id", msg.SenderID).
			Msg("sender rate limit exceeded, message dropped")
		return nil
	}

	result, conv, err := p.process(ctx, msg)
	if err != nil {
		return err
	}

	if p.Dispatcher != nil && msg.Channel != models.ChannelWebchat {
		// Best effort: the exchange is already recorded.
		_ = p.Dispatcher.Dispatch(ctx, msg.Integration, msg.Channel, msg.SenderID, result.Content)
	}

	p.Logger.Info().
		Str("business_id", msg.BusinessID).
		Str("conversation_id", conv.ID).
		Str("channel", string(msg.Channel)).
		Int("token_count", result.TokenCount).
		Int64("latency_ms", result.LatencyMs).
		Bool("fell_back", result.FellBack).
		Msg("inbound message processed")
	return nil
}

// ChatRequest is one synchronous web-chat turn. SessionID is the browser's
// stable visitor identifier; ConversationID or CustomerID, when known from an
// earlier turn, pin the exchange to that thread directly.
type ChatRequest struct {
	BusinessID     string
	SessionID      string
	ConversationID string
	CustomerID     string
	Message        string
}

// ChatReply is the synchronous web-chat response.
type ChatReply struct {
	ConversationID string                 `json:"conversation_id"`
	CustomerID     string                 `json:"customer_id"`
	Content        string                 `json:"message"`
	Metadata       models.MessageMetadata `json:"metadata"`
}

// Chat handles the synchronous web-chat channel: same exchange as Handle but
// the reply travels back on the HTTP response instead of a platform send.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	senderID := req.SessionID
	if req.ConversationID != "" {
		conv, found, err := p.Store.GetConversation(ctx, req.BusinessID, req.ConversationID)
		if err != nil {
			return ChatReply{}, fmt.Errorf("load conversation: %w", err)
		}
		if found {
			req.CustomerID = conv.CustomerID
		}
	}
	if req.CustomerID != "" {
		// Known returning customer: key the session to their record so the
		// exchange lands on their active thread.
		if customer, found, err := p.Store.GetCustomer(ctx, req.BusinessID, req.CustomerID); err != nil {
			return ChatReply{}, fmt.Errorf("load customer: %w", err)
		} else if found && customer.WebchatID != "" {
			senderID = customer.WebchatID
		}
	}

	msg := ingress.InboundMessage{
		BusinessID: req.BusinessID,
		Channel:    models.ChannelWebchat,
		SenderID:   senderID,
		Text:       req.Message,
	}
	result, conv, err := p.process(ctx, msg)
	if err != nil {
		return ChatReply{}, err
	}
	reply := ChatReply{
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Content:        result.Content,
		Metadata: models.MessageMetadata{
			TokenCount:  result.TokenCount,
			LatencyMs:   result.LatencyMs,
			Model:       result.Model,
			ToolResults: result.ToolResults,
		},
	}
	return reply, nil
}

// process is the shared core of one exchange. History is captured before the
// user turn is stored so the stored utterance is never duplicated into the
// prompt window; the user message itself is persisted before the model runs,
// so a provider failure still leaves the utterance on record.
func (p *Pipeline) process(ctx context.Context, msg ingress.InboundMessage) (ChatResult, models.Conversation, error) {
	business, err := p.Store.GetBusiness(ctx, msg.BusinessID)
	if err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("load business: %w", err)
	}

	customer, err := p.Identity.Resolve(ctx, business.ID, msg.Channel, msg.SenderID, Hints{
		Phone: msg.Phone,
		Name:  msg.Name,
		Email: msg.Email,
	})
	if err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("resolve customer: %w", err)
	}

	conv, err := p.Conversations.GetOrCreateActive(ctx, business.ID, customer.ID, msg.Channel)
	if err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("resolve conversation: %w", err)
	}

	history, err := p.Conversations.History(ctx, conv.ID)
	if err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("load history: %w", err)
	}

	userMeta := models.MessageMetadata{PlatformMessageID: msg.PlatformMessageID}
	if !msg.ReceivedAt.IsZero() {
		received := msg.ReceivedAt
		userMeta.ReceivedAt = &received
	}
	if _, err := p.Conversations.Append(ctx, conv.ID, models.RoleUser, msg.Text, userMeta); err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("store user message: %w", err)
	}

	if err := p.Store.TouchCustomer(ctx, customer.ID); err != nil {
		p.Logger.Warn().Err(err).Str("customer_id", customer.ID).Msg("visit bump failed")
	}

	result := p.Orchestrator.Respond(ctx, ToolContext{
		Business:     business,
		Conversation: conv,
		Customer:     &customer,
	}, history, msg.Text)

	meta := models.MessageMetadata{
		TokenCount:  result.TokenCount,
		LatencyMs:   result.LatencyMs,
		Model:       result.Model,
		ToolResults: result.ToolResults,
	}
	if len(result.ToolCalls) > 0 {
		if raw, err := json.Marshal(result.ToolCalls); err == nil {
			meta.ToolCalls = raw
		}
	}
	if _, err := p.Conversations.Append(ctx, conv.ID, models.RoleAssistant, result.Content, meta); err != nil {
		return ChatResult{}, models.Conversation{}, fmt.Errorf("store assistant message: %w", err)
	}

	if err := p.Store.IncrementBusinessUsage(ctx, business.ID); err != nil {
		p.Logger.Warn().Err(err).Str("business_id", business.ID).Msg("usage bump failed")
	}

	return result, conv, nil
}
