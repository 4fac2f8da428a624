package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a conversation status change conflicts
// with its current state, e.g. escalating a RESOLVED conversation.
var ErrInvalidTransition = errors.New("invalid conversation transition")

type Channel string

const (
	ChannelWebchat   Channel = "WEBCHAT"
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelFacebook  Channel = "FACEBOOK"
	ChannelVoice     Channel = "VOICE"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "ACTIVE"
	ConversationResolved  ConversationStatus = "RESOLVED"
	ConversationEscalated ConversationStatus = "ESCALATED"
	ConversationAbandoned ConversationStatus = "ABANDONED"
)

type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleSystem    MessageRole = "SYSTEM"
	RoleHuman     MessageRole = "HUMAN"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentCanceled  AppointmentStatus = "CANCELED"
	AppointmentNoShow    AppointmentStatus = "NO_SHOW"
)

// DayHours is one day's opening window, times as "HH:MM" in the business timezone.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// BusinessHours maps lowercase weekday names ("monday".."sunday") to opening
// windows. Days without an entry are closed.
type BusinessHours map[string]DayHours

type Business struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Industry            string        `json:"industry"`
	Phone               string        `json:"phone,omitempty"`
	Email               string        `json:"email,omitempty"`
	Address             string        `json:"address,omitempty"`
	Website             string        `json:"website,omitempty"`
	Timezone            string        `json:"timezone"`
	Hours               BusinessHours `json:"business_hours,omitempty"`
	ServicesOffered     string        `json:"services_offered,omitempty"`
	AIPersonality       string        `json:"ai_personality,omitempty"`
	AIGreeting          string        `json:"ai_greeting,omitempty"`
	AIInstructions      string        `json:"ai_instructions,omitempty"`
	AIFallbackMessage   string        `json:"ai_fallback_message,omitempty"`
	EscalationKeywords  string        `json:"escalation_keywords,omitempty"`
	MonthlyInteractions int           `json:"monthly_interactions"`
	CreatedAt           time.Time     `json:"created_at"`
}

type Customer struct {
	ID            string     `json:"id"`
	BusinessID    string     `json:"business_id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	WhatsAppID    string     `json:"whatsapp_id,omitempty"`
	InstagramID   string     `json:"instagram_id,omitempty"`
	FacebookID    string     `json:"facebook_id,omitempty"`
	WebchatID     string     `json:"webchat_session_id,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	VisitCount    int        `json:"visit_count"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Conversation struct {
	ID             string             `json:"id"`
	BusinessID     string             `json:"business_id"`
	CustomerID     string             `json:"customer_id"`
	Channel        Channel            `json:"channel"`
	Status         ConversationStatus `json:"status"`
	EscalateReason string             `json:"escalate_reason,omitempty"`
	AssignedUserID *string            `json:"assigned_user_id,omitempty"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	EscalatedAt    *time.Time         `json:"escalated_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// MessageMetadata is free-form per-message annotation persisted as JSONB.
// PlatformMessageID is the upstream provider id used for webhook dedup;
// ReceivedAt is the platform's delivery timestamp, kept alongside the insert
// time so queueing delay stays visible.
type MessageMetadata struct {
	TokenCount        int             `json:"tokenCount,omitempty"`
	LatencyMs         int64           `json:"latencyMs,omitempty"`
	Model             string          `json:"model,omitempty"`
	PlatformMessageID string          `json:"platformMessageId,omitempty"`
	ReceivedAt        *time.Time      `json:"receivedAt,omitempty"`
	ToolCalls         json.RawMessage `json:"toolCalls,omitempty"`
	ToolResults       []string        `json:"toolResults,omitempty"`
}

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Metadata       MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Appointment struct {
	ID             string            `json:"id"`
	BusinessID     string            `json:"business_id"`
	CustomerID     string            `json:"customer_id"`
	ConversationID *string           `json:"conversation_id,omitempty"`
	ServiceName    string            `json:"service_name"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	Duration       int               `json:"duration"` // minutes
	Timezone       string            `json:"timezone"`
	Status         AppointmentStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Integration is a per-business channel credential. AccessToken is stored
// encrypted (see internal/crypto) and decrypted only at send time.
type Integration struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	Type        Channel   `json:"type"`
	PlatformID  string    `json:"platform_id"`
	AccessToken string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type WebhookLog struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Event     string    `json:"event"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
