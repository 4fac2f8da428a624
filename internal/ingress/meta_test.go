package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/omni-assistant/backend/internal/models"
)

const whatsappPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "wba-1",
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "pn-123"},
        "contacts": [{"wa_id": "15551234567", "profile": {"name": "Dana"}}],
        "messages": [
          {"from": "15551234567", "id": "wamid.1", "type": "text", "timestamp": "1756300000", "text": {"body": "hello"}},
          {"from": "15551234567", "id": "wamid.2", "type": "image"}
        ]
      }
    }]
  }]
}`

const instagramPayload = `{
  "object": "instagram",
  "entry": [{
    "id": "page-77",
    "messaging": [
      {"sender": {"id": "ig-user-9"}, "message": {"mid": "mid.1", "text": "price?"}},
      {"sender": {"id": "ig-user-9"}}
    ]
  }]
}`

func TestParseMetaPayloadWhatsApp(t *testing.T) {
	object, events, err := ParseMetaPayload([]byte(whatsappPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if object != "whatsapp_business_account" {
		t.Fatalf("unexpected object: %s", object)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 text event (image skipped), got %d", len(events))
	}
	e := events[0]
	if e.Channel != models.ChannelWhatsApp || e.PlatformID != "pn-123" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.SenderID != "15551234567" || e.Text != "hello" || e.PlatformMessageID != "wamid.1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.SenderPhone != "+15551234567" || e.SenderName != "Dana" {
		t.Fatalf("unexpected identity hints: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be parsed")
	}
}

func TestParseMetaPayloadInstagram(t *testing.T) {
	_, events, err := ParseMetaPayload([]byte(instagramPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Channel != models.ChannelInstagram || e.PlatformID != "page-77" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.PlatformMessageID != "mid.1" {
		t.Fatalf("unexpected message id: %s", e.PlatformMessageID)
	}
}

func TestParseMetaPayloadFacebookPageObject(t *testing.T) {
	payload := `{"object":"page","entry":[{"id":"page-5","messaging":[{"sender":{"id":"fb-1"},"message":{"mid":"m.1","text":"hi"}}]}]}`
	_, events, err := ParseMetaPayload([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Channel != models.ChannelFacebook {
		t.Fatalf("expected facebook event, got %+v", events)
	}
}

func TestParseMetaPayloadInvalid(t *testing.T) {
	if _, _, err := ParseMetaPayload([]byte("{not json")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, _, err := ParseMetaPayload([]byte(`{"entry":[]}`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing object, got %v", err)
	}
}

func TestVerifyMetaSignature(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	secret := "app-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !VerifyMetaSignature(body, header, secret) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifyMetaSignature(body, header, "wrong-secret") {
		t.Fatal("expected mismatch with wrong secret")
	}
	if VerifyMetaSignature(body, "", secret) {
		t.Fatal("expected missing header to fail")
	}
	if VerifyMetaSignature([]byte("tampered"), header, secret) {
		t.Fatal("expected tampered body to fail")
	}
}
