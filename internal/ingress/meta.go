package ingress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/omni-assistant/backend/internal/models"
)

// MetaEvent is one text message lifted out of a Meta webhook envelope, before
// tenant resolution. PlatformID is the phone-number id (WhatsApp) or page id
// (Instagram/Facebook) that identifies the receiving integration.
type MetaEvent struct {
	Channel           models.Channel
	PlatformID        string
	SenderID          string
	Text              string
	PlatformMessageID string
	Timestamp         time.Time

	// Identity hints, present on WhatsApp envelopes only.
	SenderPhone string
	SenderName  string
}

type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				Metadata *struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
		Messaging []struct {
			Timestamp int64 `json:"timestamp"`
			Sender    struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				MID  string `json:"mid"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseMetaPayload normalizes a Meta webhook envelope into text-message
// events. Non-text messages (media, reactions, delivery receipts) are skipped.
// Returns the envelope object name for audit logging.
func ParseMetaPayload(body []byte) (string, []MetaEvent, error) {
	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if payload.Object == "" {
		return "", nil, fmt.Errorf("%w: missing object field", ErrInvalid)
	}

	var events []MetaEvent
	for _, entry := range payload.Entry {
		// WhatsApp Business envelope: messages keyed by phone-number id.
		for _, change := range entry.Changes {
			meta := change.Value.Metadata
			if meta == nil {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || msg.Text.Body == "" {
					continue
				}
				ev := MetaEvent{
					Channel:           models.ChannelWhatsApp,
					PlatformID:        meta.PhoneNumberID,
					SenderID:          msg.From,
					Text:              msg.Text.Body,
					PlatformMessageID: msg.ID,
					SenderPhone:       "+" + msg.From,
					SenderName:        names[msg.From],
				}
				if secs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
					ev.Timestamp = time.Unix(secs, 0)
				}
				events = append(events, ev)
			}
		}

		// Instagram/Facebook envelope: messaging events keyed by page id.
		channel := models.ChannelInstagram
		if payload.Object == "page" {
			channel = models.ChannelFacebook
		}
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.Text == "" {
				continue
			}
			ev := MetaEvent{
				Channel:           channel,
				PlatformID:        entry.ID,
				SenderID:          event.Sender.ID,
				Text:              event.Message.Text,
				PlatformMessageID: event.Message.MID,
			}
			if event.Timestamp > 0 {
				ev.Timestamp = time.UnixMilli(event.Timestamp)
			}
			events = append(events, ev)
		}
	}
	return payload.Object, events, nil
}
