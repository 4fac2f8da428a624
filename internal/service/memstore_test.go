package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omni-assistant/backend/internal/models"
)

// memStore is an in-memory Store with the same convergence semantics as the
// SQL layer: channel-id and active-conversation creation behave as upserts,
// so racing calls settle on a single row.
type memStore struct {
	mu            sync.Mutex
	seq           int
	businesses    map[string]models.Business
	customers     map[string]*models.Customer
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	appointments  []models.Appointment
	integrations  []models.Integration
	usage         map[string]int
	webhookLogs   int
}

func newMemStore() *memStore {
	return &memStore{
		businesses:    make(map[string]models.Business),
		customers:     make(map[string]*models.Customer),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		usage:         make(map[string]int),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) addBusiness(b models.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
}

func (s *memStore) GetBusiness(_ context.Context, id string) (models.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return models.Business{}, fmt.Errorf("business %s not found", id)
	}
	return b, nil
}

func (s *memStore) IncrementBusinessUsage(_ context.Context, businessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[businessID]++
	return nil
}

func channelID(c *models.Customer, channel models.Channel) *string {
	switch channel {
	case models.ChannelWhatsApp:
		return &c.WhatsAppID
	case models.ChannelInstagram:
		return &c.InstagramID
	case models.ChannelFacebook:
		return &c.FacebookID
	case models.ChannelWebchat:
		return &c.WebchatID
	default:
		return nil
	}
}

func (s *memStore) GetCustomer(_ context.Context, businessID, id string) (models.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok || c.BusinessID != businessID {
		return models.Customer{}, false, nil
	}
	return *c, true, nil
}

func (s *memStore) FindCustomerByChannelID(_ context.Context, businessID string, channel models.Channel, id string) (models.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.BusinessID != businessID {
			continue
		}
		if field := channelID(c, channel); field != nil && *field == id {
			return *c, true, nil
		}
	}
	return models.Customer{}, false, nil
}

func (s *memStore) FindCustomerByPhone(_ context.Context, businessID, phone string) (models.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.BusinessID == businessID && c.Phone == phone && phone != "" {
			return *c, true, nil
		}
	}
	return models.Customer{}, false, nil
}

func (s *memStore) AttachChannelID(_ context.Context, customerID string, channel models.Channel, id string) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return models.Customer{}, fmt.Errorf("customer %s not found", customerID)
	}
	if field := channelID(c, channel); field != nil {
		*field = id
	}
	return *c, nil
}

func (s *memStore) CreateCustomerByChannelID(_ context.Context, businessID string, channel models.Channel, id, name, phone, email string) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.BusinessID != businessID {
			continue
		}
		if field := channelID(c, channel); field != nil && *field == id {
			return *c, nil
		}
	}
	c := &models.Customer{
		ID:         s.nextID("cust"),
		BusinessID: businessID,
		Name:       name,
		Phone:      phone,
		Email:      email,
		CreatedAt:  time.Now(),
	}
	if field := channelID(c, channel); field != nil {
		*field = id
	}
	s.customers[c.ID] = c
	return *c, nil
}

func (s *memStore) CreateCustomer(_ context.Context, businessID, name, phone, email string) (models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Customer{
		ID:         s.nextID("cust"),
		BusinessID: businessID,
		Name:       name,
		Phone:      phone,
		Email:      email,
		CreatedAt:  time.Now(),
	}
	s.customers[c.ID] = c
	return *c, nil
}

func (s *memStore) TouchCustomer(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %s not found", customerID)
	}
	now := time.Now()
	c.VisitCount++
	c.LastContactAt = &now
	return nil
}

func (s *memStore) GetOrCreateActiveConversation(_ context.Context, businessID, customerID string, channel models.Channel) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.BusinessID == businessID && conv.CustomerID == customerID &&
			conv.Channel == channel && conv.Status == models.ConversationActive {
			conv.UpdatedAt = time.Now()
			return *conv, nil
		}
	}
	conv := &models.Conversation{
		ID:         s.nextID("conv"),
		BusinessID: businessID,
		CustomerID: customerID,
		Channel:    channel,
		Status:     models.ConversationActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	s.conversations[conv.ID] = conv
	return *conv, nil
}

func (s *memStore) GetConversation(_ context.Context, businessID, id string) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.BusinessID != businessID {
		return models.Conversation{}, false, nil
	}
	return *conv, true, nil
}

func (s *memStore) TransitionConversation(_ context.Context, conversationID string, status models.ConversationStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	if conv.Status == models.ConversationResolved {
		return models.ErrInvalidTransition
	}
	now := time.Now()
	conv.Status = status
	conv.UpdatedAt = now
	switch status {
	case models.ConversationEscalated:
		conv.EscalateReason = reason
		conv.EscalatedAt = &now
	case models.ConversationResolved:
		conv.ResolvedAt = &now
	}
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, conversationID string, role models.MessageRole, content string, metadata models.MessageMetadata) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{
		ID:             s.nextID("msg"),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = m.CreatedAt
	}
	return m, nil
}

func (s *memStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) MessageSeen(_ context.Context, businessID string, channel models.Channel, platformMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, msgs := range s.messages {
		conv := s.conversations[convID]
		if conv == nil || conv.BusinessID != businessID || conv.Channel != channel {
			continue
		}
		for _, m := range msgs {
			if m.Metadata.PlatformMessageID == platformMessageID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *memStore) CreateAppointment(_ context.Context, appt models.Appointment) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt.ID = s.nextID("appt")
	appt.CreatedAt = time.Now()
	s.appointments = append(s.appointments, appt)
	return appt, nil
}

func (s *memStore) ListAppointmentsBetween(_ context.Context, businessID string, from, to time.Time) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.appointments {
		if a.BusinessID != businessID {
			continue
		}
		if a.Status != models.AppointmentScheduled && a.Status != models.AppointmentConfirmed {
			continue
		}
		if a.EndTime.After(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memStore) AppointmentExistsAt(_ context.Context, customerID string, start time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.CustomerID == customerID && a.StartTime.Equal(start) && a.Status != models.AppointmentCanceled {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) FindIntegration(_ context.Context, channel models.Channel, platformID string) (models.Integration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.integrations {
		if i.Type == channel && i.PlatformID == platformID && i.IsActive {
			return i, true, nil
		}
	}
	return models.Integration{}, false, nil
}

func (s *memStore) InsertWebhookLog(_ context.Context, source, event string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookLogs++
	return nil
}

func (s *memStore) messageCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}

func (s *memStore) activeConversations(businessID string) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, conv := range s.conversations {
		if conv.BusinessID == businessID && conv.Status == models.ConversationActive {
			out = append(out, *conv)
		}
	}
	return out
}

func (s *memStore) allAppointments() []models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Appointment, len(s.appointments))
	copy(out, s.appointments)
	return out
}
