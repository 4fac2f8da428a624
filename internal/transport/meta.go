package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/crypto"
	"github.com/omni-assistant/backend/internal/models"
	"github.com/omni-assistant/backend/internal/service"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// graphClient is the shared plumbing for Meta Graph API sends. Access tokens
// live encrypted on the integration row and are decrypted per send.
type graphClient struct {
	BaseURL string
	Cipher  *crypto.Cipher
	Client  *http.Client
	Logger  zerolog.Logger
}

func (g *graphClient) post(ctx context.Context, integration models.Integration, body any) error {
	token, err := g.Cipher.Decrypt(integration.AccessToken)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", g.BaseURL, integration.PlatformID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph api status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// WhatsAppSender delivers over the WhatsApp Cloud API. The integration's
// platform id is the phone number id issued by Meta.
type WhatsAppSender struct {
	graphClient
}

func (s *WhatsAppSender) Send(ctx context.Context, integration models.Integration, recipientID, text string) error {
	return s.post(ctx, integration, map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipientID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

// MessengerSender delivers over the Messenger Send API, which serves both
// Facebook pages and Instagram professional accounts. The integration's
// platform id is the page id.
type MessengerSender struct {
	graphClient
}

func (s *MessengerSender) Send(ctx context.Context, integration models.Integration, recipientID, text string) error {
	return s.post(ctx, integration, map[string]any{
		"recipient":      map[string]string{"id": recipientID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	})
}

// NewSenderRegistry wires one sender per asynchronous channel. baseURL
// overrides the Graph endpoint in tests; empty selects the production host.
func NewSenderRegistry(cipher *crypto.Cipher, logger zerolog.Logger, baseURL string) map[models.Channel]service.Sender {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	gc := graphClient{
		BaseURL: baseURL,
		Cipher:  cipher,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Logger:  logger,
	}
	messenger := &MessengerSender{graphClient: gc}
	return map[models.Channel]service.Sender{
		models.ChannelWhatsApp:  &WhatsAppSender{graphClient: gc},
		models.ChannelInstagram: messenger,
		models.ChannelFacebook:  messenger,
	}
}
