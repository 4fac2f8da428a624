package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ingress"
	"github.com/omni-assistant/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func webhookRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/api/webhooks/meta", h.MetaVerify)
	r.POST("/api/webhooks/meta", h.MetaWebhook)
	r.POST("/api/chat", h.Chat)
	return r
}

func TestMetaVerifyHandshake(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop(), MetaVerifyToken: "verify-me"}
	r := webhookRouter(h)

	req, _ := http.NewRequest(http.MethodGet,
		"/api/webhooks/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %q", w.Body.String())
	}
}

func TestMetaVerifyRejectsBadToken(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop(), MetaVerifyToken: "verify-me"}
	r := webhookRouter(h)

	req, _ := http.NewRequest(http.MethodGet,
		"/api/webhooks/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestMetaWebhookRejectsBadSignature(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop(), MetaAppSecret: "app-secret"}
	r := webhookRouter(h)

	req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/meta",
		strings.NewReader(`{"object":"page","entry":[]}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMetaWebhookRejectsBadPayload(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop(), MetaAppSecret: "app-secret"}
	r := webhookRouter(h)

	body := `{"entry":[]}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/meta", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// webhookStore serves the lookups MetaWebhook performs; everything else is
// unreachable from that handler.
type webhookStore struct {
	integration models.Integration
	logged      int
}

func (s *webhookStore) Ping(context.Context) error { return nil }

func (s *webhookStore) GetBusiness(context.Context, string) (models.Business, error) {
	return models.Business{}, nil
}

func (s *webhookStore) FindIntegration(_ context.Context, channel models.Channel, platformID string) (models.Integration, bool, error) {
	if channel == s.integration.Type && platformID == s.integration.PlatformID {
		return s.integration, true, nil
	}
	return models.Integration{}, false, nil
}

func (s *webhookStore) UpsertIntegration(_ context.Context, i models.Integration) (models.Integration, error) {
	return i, nil
}

func (s *webhookStore) InsertWebhookLog(context.Context, string, string, []byte) error {
	s.logged++
	return nil
}

type recordingQueue struct {
	msgs []ingress.InboundMessage
}

func (q *recordingQueue) Enqueue(msg ingress.InboundMessage) bool {
	q.msgs = append(q.msgs, msg)
	return true
}

func TestMetaWebhookEnqueuesEvent(t *testing.T) {
	store := &webhookStore{integration: models.Integration{
		ID:         "int-1",
		BusinessID: "biz-1",
		Type:       models.ChannelWhatsApp,
		PlatformID: "555000111",
		IsActive:   true,
	}}
	queue := &recordingQueue{}
	h := &Handler{Store: store, Queue: queue, Logger: zerolog.Nop(), MetaAppSecret: "app-secret"}
	r := webhookRouter(h)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"555000111"},
		"contacts":[{"wa_id":"15551234567","profile":{"name":"Dana"}}],
		"messages":[{"from":"15551234567","id":"wamid.abc123","type":"text",
			"timestamp":"1756300000","text":{"body":"Do you have openings tomorrow?"}}]
	}}]}]}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/meta", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", w.Code, w.Body.String())
	}
	if store.logged != 1 {
		t.Fatalf("expected 1 audit log entry, got %d", store.logged)
	}
	if len(queue.msgs) != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", len(queue.msgs))
	}

	msg := queue.msgs[0]
	if msg.PlatformMessageID != "wamid.abc123" {
		t.Fatalf("expected platform message id carried through, got %q", msg.PlatformMessageID)
	}
	if msg.BusinessID != "biz-1" || msg.Channel != models.ChannelWhatsApp {
		t.Fatalf("unexpected routing: %s %s", msg.BusinessID, msg.Channel)
	}
	if msg.SenderID != "15551234567" || msg.Phone != "+15551234567" || msg.Name != "Dana" {
		t.Fatalf("unexpected sender identity: %+v", msg)
	}
	if msg.ReceivedAt.IsZero() {
		t.Fatal("expected the webhook timestamp on the enqueued message")
	}
}

func TestMetaWebhookDropsUnknownIntegration(t *testing.T) {
	store := &webhookStore{integration: models.Integration{
		Type:       models.ChannelWhatsApp,
		PlatformID: "other-number",
	}}
	queue := &recordingQueue{}
	h := &Handler{Store: store, Queue: queue, Logger: zerolog.Nop(), MetaAppSecret: "app-secret"}
	r := webhookRouter(h)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"555000111"},
		"messages":[{"from":"15551234567","id":"wamid.abc124","type":"text",
			"timestamp":"1756300000","text":{"body":"hello"}}]
	}}]}]}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/meta", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(queue.msgs) != 0 {
		t.Fatalf("expected no enqueued messages, got %d", len(queue.msgs))
	}
}

func TestKnowledgeIndexRequiresContent(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop(), Validator: validator.New()}
	r := gin.New()
	r.POST("/api/knowledge", h.KnowledgeIndex)

	req, _ := http.NewRequest(http.MethodPost, "/api/knowledge",
		strings.NewReader(`{"business_id":"biz-1","doc_id":"doc-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChatRequiresFields(t *testing.T) {
	h := &Handler{Logger: zerolog.Nop()}
	r := webhookRouter(h)

	req, _ := http.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"business_id":"biz-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
