package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ai"
	"github.com/omni-assistant/backend/internal/crypto"
	"github.com/omni-assistant/backend/internal/ingress"
	"github.com/omni-assistant/backend/internal/knowledge"
	"github.com/omni-assistant/backend/internal/models"
	"github.com/omni-assistant/backend/internal/service"
	"github.com/omni-assistant/backend/internal/transport"
)

// Store is the slice of persistence the HTTP layer touches directly; the rest
// goes through the pipeline.
type Store interface {
	Ping(ctx context.Context) error
	GetBusiness(ctx context.Context, id string) (models.Business, error)
	FindIntegration(ctx context.Context, channel models.Channel, platformID string) (models.Integration, bool, error)
	UpsertIntegration(ctx context.Context, integ models.Integration) (models.Integration, error)
	InsertWebhookLog(ctx context.Context, source, event string, payload []byte) error
}

// Enqueuer hands an accepted webhook event off for asynchronous processing.
// Implemented by *service.Queue.
type Enqueuer interface {
	Enqueue(msg ingress.InboundMessage) bool
}

type Handler struct {
	Store     Store
	Pipeline  *service.Pipeline
	Queue     Enqueuer
	Identity  *service.Resolver
	Tools     *service.ToolExecutor
	Knowledge *knowledge.Store
	Cipher    *crypto.Cipher
	Vapi      *transport.VapiClient
	Validator *validator.Validate
	Logger    zerolog.Logger

	MetaAppSecret   string
	MetaVerifyToken string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Meta webhook verification
// @Description Echoes hub.challenge when the verify token matches
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "shared verify token"
// @Param hub.challenge query string true "challenge to echo"
// @Success 200 {string} string
// @Failure 403 {object} map[string]any
// @Router /api/webhooks/meta [get]
func (h *Handler) MetaVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.MetaVerifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	writeError(c, http.StatusForbidden, "VERIFY_FAILED", "Webhook verification failed", nil)
}

// @Summary Meta webhook receiver
// @Description Accepts WhatsApp, Instagram, and Facebook events and enqueues them for processing
// @Tags webhooks
// @Accept json
// @Produce plain
// @Success 200 {string} string "OK"
// @Failure 400 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Router /api/webhooks/meta [post]
func (h *Handler) MetaWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		writeError(c, http.StatusBadRequest, "READ_FAILED", "Could not read request body", nil)
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !ingress.VerifyMetaSignature(body, signature, h.MetaAppSecret) {
		h.Logger.Warn().Str("remote", c.ClientIP()).Msg("webhook signature mismatch")
		writeError(c, http.StatusUnauthorized, "BAD_SIGNATURE", "Webhook signature mismatch", nil)
		return
	}

	object, events, err := ingress.ParseMetaPayload(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "BAD_PAYLOAD", "Unrecognized webhook payload", nil)
		return
	}

	if err := h.Store.InsertWebhookLog(c.Request.Context(), "meta", object, body); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook audit log failed")
	}

	for _, ev := range events {
		integration, found, err := h.Store.FindIntegration(c.Request.Context(), ev.Channel, ev.PlatformID)
		if err != nil {
			h.Logger.Error().Err(err).Str("platform_id", ev.PlatformID).Msg("integration lookup failed")
			continue
		}
		if !found {
			h.Logger.Warn().
				Str("channel", string(ev.Channel)).
				Str("platform_id", ev.PlatformID).
				Msg("event for unknown integration dropped")
			continue
		}
		h.Queue.Enqueue(ingress.InboundMessage{
			BusinessID:        integration.BusinessID,
			Integration:       integration,
			Channel:           ev.Channel,
			SenderID:          ev.SenderID,
			Text:              ev.Text,
			PlatformMessageID: ev.PlatformMessageID,
			ReceivedAt:        ev.Timestamp,
			Phone:             ev.SenderPhone,
			Name:              ev.SenderName,
		})
	}

	// Meta expects a plain 200 regardless of how many events were usable.
	c.String(http.StatusOK, "OK")
}

type chatRequest struct {
	BusinessID     string `json:"business_id" binding:"required"`
	SessionID      string `json:"session_id" binding:"required"`
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id"`
}

// @Summary Web chat
// @Description Synchronous chat exchange for the website widget
// @Tags chat
// @Accept json
// @Produce json
// @Param request body chatRequest true "chat turn"
// @Success 200 {object} service.ChatReply
// @Failure 400 {object} map[string]any
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "business_id, session_id, and message are required", err.Error())
		return
	}

	reply, err := h.Pipeline.Chat(c.Request.Context(), service.ChatRequest{
		BusinessID:     req.BusinessID,
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		CustomerID:     req.CustomerID,
		Message:        req.Message,
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("business_id", req.BusinessID).Msg("chat exchange failed")
		writeError(c, http.StatusInternalServerError, "CHAT_FAILED", "Could not process the message", nil)
		return
	}
	c.JSON(http.StatusOK, reply)
}

type voiceToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type voiceWebhookRequest struct {
	Message struct {
		Type         string          `json:"type"`
		ToolCallList []voiceToolCall `json:"toolCallList"`
		Call         struct {
			Customer struct {
				Number string `json:"number"`
			} `json:"customer"`
		} `json:"call"`
	} `json:"message"`
}

// @Summary Voice tool-call webhook
// @Description Executes tool calls issued by the voice assistant during a call
// @Tags webhooks
// @Accept json
// @Produce json
// @Param businessId query string true "business id"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/webhooks/voice [post]
func (h *Handler) VoiceWebhook(c *gin.Context) {
	businessID := c.Query("businessId")
	if businessID == "" {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "businessId query parameter is required", nil)
		return
	}

	var req voiceWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_PAYLOAD", "Unrecognized voice webhook payload", err.Error())
		return
	}
	if req.Message.Type != "tool-calls" || len(req.Message.ToolCallList) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []any{}})
		return
	}

	business, err := h.Store.GetBusiness(c.Request.Context(), businessID)
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Business not found", nil)
		return
	}

	tc := service.ToolContext{Business: business}
	if phone := req.Message.Call.Customer.Number; phone != "" {
		customer, err := h.Identity.Resolve(c.Request.Context(), business.ID, models.ChannelVoice, phone,
			service.Hints{Phone: phone})
		if err == nil {
			tc.Customer = &customer
		} else {
			h.Logger.Warn().Err(err).Str("business_id", business.ID).Msg("voice caller resolution failed")
		}
	}

	results := make([]gin.H, 0, len(req.Message.ToolCallList))
	for _, call := range req.Message.ToolCallList {
		result := h.Tools.Execute(c.Request.Context(), tc, call.toAICall())
		results = append(results, gin.H{"toolCallId": call.ID, "result": result})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Content is validated separately because the delete route shares this
// struct and only needs the identifiers.
type knowledgeRequest struct {
	BusinessID string `json:"business_id" binding:"required"`
	DocID      string `json:"doc_id" binding:"required"`
	Content    string `json:"content" validate:"required"`
}

// @Summary Index a knowledge document
// @Tags knowledge
// @Accept json
// @Produce json
// @Param request body knowledgeRequest true "document"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/knowledge [post]
func (h *Handler) KnowledgeIndex(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "business_id, doc_id, and content are required", nil)
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "business_id, doc_id, and content are required", err.Error())
		return
	}

	chunks, err := h.Knowledge.IndexDocument(c.Request.Context(), req.BusinessID, req.DocID, req.Content)
	if err != nil {
		h.Logger.Error().Err(err).Str("business_id", req.BusinessID).Msg("knowledge indexing failed")
		writeError(c, http.StatusInternalServerError, "INDEX_FAILED", "Could not index the document", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexed": true, "doc_id": req.DocID, "chunks": len(chunks)})
}

// @Summary Remove a knowledge document
// @Tags knowledge
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/knowledge [delete]
func (h *Handler) KnowledgeDelete(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "business_id and doc_id are required", nil)
		return
	}
	if err := h.Knowledge.DeleteDocument(c.Request.Context(), req.BusinessID, req.DocID); err != nil {
		writeError(c, http.StatusInternalServerError, "DELETE_FAILED", "Could not remove the document", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "doc_id": req.DocID})
}

type integrationRequest struct {
	BusinessID  string `json:"business_id" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=WHATSAPP INSTAGRAM FACEBOOK"`
	PlatformID  string `json:"platform_id" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

// @Summary Connect a Meta channel
// @Description Stores a channel integration with its access token encrypted at rest
// @Tags integrations
// @Accept json
// @Produce json
// @Param request body integrationRequest true "integration"
// @Success 200 {object} models.Integration
// @Failure 400 {object} map[string]any
// @Router /api/integrations/meta [post]
func (h *Handler) IntegrationUpsert(c *gin.Context) {
	var req integrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "Invalid integration payload", err.Error())
		return
	}

	encrypted, err := h.Cipher.Encrypt(req.AccessToken)
	if err != nil {
		h.Logger.Error().Err(err).Msg("token encryption failed")
		writeError(c, http.StatusInternalServerError, "ENCRYPT_FAILED", "Could not store the integration", nil)
		return
	}

	saved, err := h.Store.UpsertIntegration(c.Request.Context(), models.Integration{
		BusinessID:  req.BusinessID,
		Type:        models.Channel(req.Type),
		PlatformID:  req.PlatformID,
		AccessToken: encrypted,
		IsActive:    true,
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("business_id", req.BusinessID).Msg("integration upsert failed")
		writeError(c, http.StatusInternalServerError, "SAVE_FAILED", "Could not store the integration", nil)
		return
	}
	c.JSON(http.StatusOK, saved)
}

type assistantRequest struct {
	BusinessID string `json:"business_id" binding:"required"`
	ServerURL  string `json:"server_url" binding:"required,url"`
}

// @Summary Provision a voice assistant
// @Tags integrations
// @Accept json
// @Produce json
// @Param request body assistantRequest true "assistant"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/voice/assistants [post]
func (h *Handler) VoiceAssistantCreate(c *gin.Context) {
	var req assistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "business_id and server_url are required", err.Error())
		return
	}

	business, err := h.Store.GetBusiness(c.Request.Context(), req.BusinessID)
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Business not found", nil)
		return
	}

	assistantID, err := h.Vapi.CreateAssistant(c.Request.Context(), business, req.ServerURL)
	if err != nil {
		h.Logger.Error().Err(err).Str("business_id", business.ID).Msg("assistant provisioning failed")
		writeError(c, http.StatusBadGateway, "PROVISION_FAILED", "Could not provision the assistant", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assistant_id": assistantID})
}

func (v voiceToolCall) toAICall() ai.ToolCall {
	return ai.ToolCall{
		ID:   v.ID,
		Type: "function",
		Function: ai.FunctionCall{
			Name:      v.Function.Name,
			Arguments: string(v.Function.Arguments),
		},
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
