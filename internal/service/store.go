package service

import (
	"context"
	"errors"
	"time"

	"github.com/omni-assistant/backend/internal/models"
)

// ErrDuplicate marks a replayed webhook delivery. Not an error condition:
// the pipeline drops the event without side effects.
var ErrDuplicate = errors.New("duplicate platform message")

// Store is the persistence collaborator consumed by the pipeline. Implemented
// by *db.Store in production and by in-memory fakes in tests. Every query is
// tenant-scoped; implementations must never cross tenant boundaries.
type Store interface {
	GetBusiness(ctx context.Context, id string) (models.Business, error)
	IncrementBusinessUsage(ctx context.Context, businessID string) error

	GetCustomer(ctx context.Context, businessID, id string) (models.Customer, bool, error)
	FindCustomerByChannelID(ctx context.Context, businessID string, channel models.Channel, channelID string) (models.Customer, bool, error)
	FindCustomerByPhone(ctx context.Context, businessID, phone string) (models.Customer, bool, error)
	AttachChannelID(ctx context.Context, customerID string, channel models.Channel, channelID string) (models.Customer, error)
	CreateCustomerByChannelID(ctx context.Context, businessID string, channel models.Channel, channelID, name, phone, email string) (models.Customer, error)
	CreateCustomer(ctx context.Context, businessID, name, phone, email string) (models.Customer, error)
	TouchCustomer(ctx context.Context, customerID string) error

	GetOrCreateActiveConversation(ctx context.Context, businessID, customerID string, channel models.Channel) (models.Conversation, error)
	GetConversation(ctx context.Context, businessID, id string) (models.Conversation, bool, error)
	TransitionConversation(ctx context.Context, conversationID string, status models.ConversationStatus, reason string) error
	InsertMessage(ctx context.Context, conversationID string, role models.MessageRole, content string, metadata models.MessageMetadata) (models.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MessageSeen(ctx context.Context, businessID string, channel models.Channel, platformMessageID string) (bool, error)

	CreateAppointment(ctx context.Context, appt models.Appointment) (models.Appointment, error)
	ListAppointmentsBetween(ctx context.Context, businessID string, from, to time.Time) ([]models.Appointment, error)
	AppointmentExistsAt(ctx context.Context, customerID string, start time.Time) (bool, error)

	FindIntegration(ctx context.Context, channel models.Channel, platformID string) (models.Integration, bool, error)
	InsertWebhookLog(ctx context.Context, source, event string, payload []byte) error
}
