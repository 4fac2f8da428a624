package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/omni-assistant/backend/internal/models"
)

var (
	// ErrInvalid marks a payload that cannot be parsed. Logged and dropped,
	// never retried.
	ErrInvalid = errors.New("invalid payload")
	// ErrUnauthenticated marks a failed signature check. Logged and dropped
	// before any side effect.
	ErrUnauthenticated = errors.New("webhook signature mismatch")
)

// InboundMessage is the canonical event produced by the ingress normalizer.
// One InboundMessage triggers exactly one pass through the pipeline.
type InboundMessage struct {
	BusinessID        string
	Integration       models.Integration
	Channel           models.Channel
	SenderID          string
	Text              string
	PlatformMessageID string
	ReceivedAt        time.Time

	// Optional identity hints extracted from the payload.
	Phone string
	Name  string
	Email string
}

// VerifyMetaSignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC-SHA256 of the raw body keyed with the shared app secret.
func VerifyMetaSignature(body []byte, header, appSecret string) bool {
	if header == "" || appSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	received := strings.TrimPrefix(header, "sha256=")
	return hmac.Equal([]byte(expected), []byte(received))
}
