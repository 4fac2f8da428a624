package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omni-assistant/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// customerChannelColumn maps a messaging channel to its identifier column.
// The column name is interpolated into SQL, so it must come from this
// whitelist only.
func customerChannelColumn(channel models.Channel) (string, error) {
	switch channel {
	case models.ChannelWhatsApp:
		return "whatsapp_id", nil
	case models.ChannelInstagram:
		return "instagram_id", nil
	case models.ChannelFacebook:
		return "facebook_id", nil
	case models.ChannelWebchat:
		return "webchat_session_id", nil
	default:
		return "", fmt.Errorf("channel %s has no customer identifier column", channel)
	}
}

const businessColumns = `id, name, industry, phone, email, address, website, timezone,
	business_hours, services_offered, ai_personality, ai_greeting, ai_instructions,
	ai_fallback_message, escalation_keywords, monthly_interactions, created_at`

func scanBusiness(row pgx.Row) (models.Business, error) {
	var b models.Business
	var hours []byte
	err := row.Scan(&b.ID, &b.Name, &b.Industry, &b.Phone, &b.Email, &b.Address, &b.Website,
		&b.Timezone, &hours, &b.ServicesOffered, &b.AIPersonality, &b.AIGreeting,
		&b.AIInstructions, &b.AIFallbackMessage, &b.EscalationKeywords,
		&b.MonthlyInteractions, &b.CreatedAt)
	if err != nil {
		return models.Business{}, err
	}
	if len(hours) > 0 {
		_ = json.Unmarshal(hours, &b.Hours)
	}
	return b, nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (models.Business, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	return scanBusiness(row)
}

func (s *Store) IncrementBusinessUsage(ctx context.Context, businessID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE businesses SET monthly_interactions = monthly_interactions + 1 WHERE id = $1`, businessID)
	return err
}

const customerColumns = `id, business_id, name, email, phone, whatsapp_id, instagram_id,
	facebook_id, webchat_session_id, notes, visit_count, last_contact_at, created_at`

func scanCustomer(row pgx.Row) (models.Customer, error) {
	var c models.Customer
	var whatsappID, instagramID, facebookID, webchatID *string
	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Email, &c.Phone,
		&whatsappID, &instagramID, &facebookID, &webchatID,
		&c.Notes, &c.VisitCount, &c.LastContactAt, &c.CreatedAt)
	if err != nil {
		return models.Customer{}, err
	}
	if whatsappID != nil {
		c.WhatsAppID = *whatsappID
	}
	if instagramID != nil {
		c.InstagramID = *instagramID
	}
	if facebookID != nil {
		c.FacebookID = *facebookID
	}
	if webchatID != nil {
		c.WebchatID = *webchatID
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, businessID, id string) (models.Customer, bool, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 AND business_id = $2`, id, businessID)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, false, nil
	}
	if err != nil {
		return models.Customer{}, false, err
	}
	return c, true, nil
}

func (s *Store) FindCustomerByChannelID(ctx context.Context, businessID string, channel models.Channel, channelID string) (models.Customer, bool, error) {
	col, err := customerChannelColumn(channel)
	if err != nil {
		return models.Customer{}, false, err
	}
	row := s.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM customers WHERE business_id = $1 AND %s = $2`, customerColumns, col),
		businessID, channelID)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, false, nil
	}
	if err != nil {
		return models.Customer{}, false, err
	}
	return c, true, nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, businessID, phone string) (models.Customer, bool, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE business_id = $1 AND phone = $2 ORDER BY created_at LIMIT 1`,
		businessID, phone)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Customer{}, false, nil
	}
	if err != nil {
		return models.Customer{}, false, err
	}
	return c, true, nil
}

// AttachChannelID links a channel identifier to an existing customer
// (cross-channel linking by phone).
func (s *Store) AttachChannelID(ctx context.Context, customerID string, channel models.Channel, channelID string) (models.Customer, error) {
	col, err := customerChannelColumn(channel)
	if err != nil {
		return models.Customer{}, err
	}
	row := s.Pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE customers SET %s = $2 WHERE id = $1 RETURNING %s`, col, customerColumns),
		customerID, channelID)
	return scanCustomer(row)
}

// CreateCustomerByChannelID inserts a customer keyed by channel identifier.
// Two racing first-contact events resolve to the same row: the partial unique
// index on (business_id, <channel column>) turns the loser's insert into a
// no-op update that returns the winner's row.
func (s *Store) CreateCustomerByChannelID(ctx context.Context, businessID string, channel models.Channel, channelID, name, phone, email string) (models.Customer, error) {
	col, err := customerChannelColumn(channel)
	if err != nil {
		return models.Customer{}, err
	}
	query := fmt.Sprintf(`
		INSERT INTO customers (id, business_id, %s, name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (business_id, %s) WHERE %s IS NOT NULL
		DO UPDATE SET %s = EXCLUDED.%s
		RETURNING %s`, col, col, col, col, col, customerColumns)
	row := s.Pool.QueryRow(ctx, query, uuid.NewString(), businessID, channelID, name, phone, email)
	return scanCustomer(row)
}

func (s *Store) CreateCustomer(ctx context.Context, businessID, name, phone, email string) (models.Customer, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO customers (id, business_id, name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+customerColumns,
		uuid.NewString(), businessID, name, phone, email)
	return scanCustomer(row)
}

// TouchCustomer bumps the visit counter and last-contact timestamp.
func (s *Store) TouchCustomer(ctx context.Context, customerID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE customers SET visit_count = visit_count + 1, last_contact_at = now() WHERE id = $1`,
		customerID)
	return err
}

const conversationColumns = `id, business_id, customer_id, channel, status, escalate_reason,
	assigned_user_id, resolved_at, escalated_at, created_at, updated_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.BusinessID, &c.CustomerID, &c.Channel, &c.Status,
		&c.EscalateReason, &c.AssignedUserID, &c.ResolvedAt, &c.EscalatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetOrCreateActiveConversation returns the ACTIVE conversation for the
// (business, customer, channel) triple, creating it if absent. The partial
// unique index makes this race-safe: concurrent first contacts converge on a
// single row.
func (s *Store) GetOrCreateActiveConversation(ctx context.Context, businessID, customerID string, channel models.Channel) (models.Conversation, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO conversations (id, business_id, customer_id, channel, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'ACTIVE', now(), now())
		ON CONFLICT (business_id, customer_id, channel) WHERE status = 'ACTIVE'
		DO UPDATE SET updated_at = now()
		RETURNING `+conversationColumns,
		uuid.NewString(), businessID, customerID, channel)
	return scanConversation(row)
}

func (s *Store) GetConversation(ctx context.Context, businessID, id string) (models.Conversation, bool, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND business_id = $2`,
		id, businessID)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, err
	}
	return c, true, nil
}

// TransitionConversation moves a conversation to a new status. RESOLVED is
// terminal: any transition attempt on a RESOLVED conversation returns
// models.ErrInvalidTransition and leaves the row unchanged.
func (s *Store) TransitionConversation(ctx context.Context, conversationID string, status models.ConversationStatus, reason string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $2,
			escalate_reason = CASE WHEN $2 = 'ESCALATED' THEN $3 ELSE escalate_reason END,
			escalated_at    = CASE WHEN $2 = 'ESCALATED' THEN now() ELSE escalated_at END,
			resolved_at     = CASE WHEN $2 = 'RESOLVED' THEN now() ELSE resolved_at END,
			updated_at      = now()
		WHERE id = $1 AND status <> 'RESOLVED'`,
		conversationID, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return models.ErrInvalidTransition
		}
		return pgx.ErrNoRows
	}
	return nil
}

// InsertMessage appends one immutable turn and bumps the conversation's
// last-activity timestamp in the same transaction.
func (s *Store) InsertMessage(ctx context.Context, conversationID string, role models.MessageRole, content string, metadata models.MessageMetadata) (models.Message, error) {
	md, err := json.Marshal(metadata)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
	}
	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING created_at`,
			msg.ID, conversationID, role, content, md)
		if err := row.Scan(&msg.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListRecentMessages returns the last `limit` messages in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM (
			SELECT id, conversation_id, role, content, metadata, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var md []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &md, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(md) > 0 {
			_ = json.Unmarshal(md, &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageSeen reports whether a platform message id has already been stored
// for this tenant and channel. Backs webhook dedup under at-least-once
// delivery.
func (s *Store) MessageSeen(ctx context.Context, businessID string, channel models.Channel, platformMessageID string) (bool, error) {
	var seen bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE c.business_id = $1 AND c.channel = $2
			  AND m.metadata->>'platformMessageId' = $3
		)`, businessID, channel, platformMessageID).Scan(&seen)
	return seen, err
}

const appointmentColumns = `id, business_id, customer_id, conversation_id, service_name,
	start_time, end_time, duration, timezone, status, notes, created_at`

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(&a.ID, &a.BusinessID, &a.CustomerID, &a.ConversationID, &a.ServiceName,
		&a.StartTime, &a.EndTime, &a.Duration, &a.Timezone, &a.Status, &a.Notes, &a.CreatedAt)
	return a, err
}

func (s *Store) CreateAppointment(ctx context.Context, appt models.Appointment) (models.Appointment, error) {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO appointments (id, business_id, customer_id, conversation_id, service_name,
			start_time, end_time, duration, timezone, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.BusinessID, appt.CustomerID, appt.ConversationID, appt.ServiceName,
		appt.StartTime, appt.EndTime, appt.Duration, appt.Timezone, appt.Status, appt.Notes)
	return scanAppointment(row)
}

// ListAppointmentsBetween returns blocking (scheduled or confirmed)
// appointments overlapping the window.
func (s *Store) ListAppointmentsBetween(ctx context.Context, businessID string, from, to time.Time) ([]models.Appointment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE business_id = $1 AND status IN ('SCHEDULED', 'CONFIRMED')
		  AND start_time < $3 AND end_time > $2
		ORDER BY start_time`,
		businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AppointmentExistsAt(ctx context.Context, customerID string, start time.Time) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE customer_id = $1 AND start_time = $2 AND status <> 'CANCELED'
		)`, customerID, start).Scan(&exists)
	return exists, err
}

func (s *Store) FindIntegration(ctx context.Context, channel models.Channel, platformID string) (models.Integration, bool, error) {
	var i models.Integration
	err := s.Pool.QueryRow(ctx, `
		SELECT id, business_id, type, platform_id, access_token, is_active, created_at, updated_at
		FROM integrations
		WHERE type = $1 AND platform_id = $2 AND is_active`,
		channel, platformID).Scan(&i.ID, &i.BusinessID, &i.Type, &i.PlatformID,
		&i.AccessToken, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Integration{}, false, nil
	}
	if err != nil {
		return models.Integration{}, false, err
	}
	return i, true, nil
}

// UpsertIntegration inserts or refreshes a channel credential. Reconnecting
// the same external account updates the existing row instead of duplicating.
func (s *Store) UpsertIntegration(ctx context.Context, integ models.Integration) (models.Integration, error) {
	if integ.ID == "" {
		integ.ID = uuid.NewString()
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO integrations (id, business_id, type, platform_id, access_token, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
		ON CONFLICT (business_id, type, platform_id)
		DO UPDATE SET access_token = EXCLUDED.access_token, is_active = TRUE, updated_at = now()
		RETURNING id, business_id, type, platform_id, access_token, is_active, created_at, updated_at`,
		integ.ID, integ.BusinessID, integ.Type, integ.PlatformID, integ.AccessToken)
	var i models.Integration
	err := row.Scan(&i.ID, &i.BusinessID, &i.Type, &i.PlatformID, &i.AccessToken,
		&i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

// InsertWebhookLog persists a raw webhook payload verbatim, before any
// processing, so deliveries can be replayed when debugging.
func (s *Store) InsertWebhookLog(ctx context.Context, source, event string, payload []byte) error {
	if len(payload) == 0 || !json.Valid(payload) {
		wrapped, _ := json.Marshal(map[string]string{"raw": string(payload)})
		payload = wrapped
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_logs (id, source, event, payload, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), source, event, payload)
	return err
}
