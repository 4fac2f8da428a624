package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/models"
)

// Platform message ceilings. Truncation keeps room for the ellipsis so the
// formatted text never exceeds the ceiling.
const (
	metaTextLimit     = 1600
	facebookTextLimit = 2000
)

// FormatForChannel adapts reply text to the destination channel's constraints.
// Web chat and voice pass through unmodified.
func FormatForChannel(text string, channel models.Channel) string {
	switch channel {
	case models.ChannelWhatsApp, models.ChannelInstagram:
		return truncate(text, metaTextLimit)
	case models.ChannelFacebook:
		return truncate(text, facebookTextLimit)
	default:
		return text
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit-3] + "..."
}

// Sender delivers one outbound message over a platform transport. The access
// token travels encrypted inside the integration; implementations decrypt it.
type Sender interface {
	Send(ctx context.Context, integration models.Integration, recipientID, text string) error
}

// Dispatcher routes formatted replies to the per-channel transport. Delivery
// failure is logged and surfaced but never unwinds the stored conversation:
// by the time dispatch runs the assistant message is already persisted.
type Dispatcher struct {
	Senders map[models.Channel]Sender
	Logger  zerolog.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, integration models.Integration, channel models.Channel, recipientID, text string) error {
	sender, ok := d.Senders[channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %s", channel)
	}
	formatted := FormatForChannel(text, channel)
	if err := sender.Send(ctx, integration, recipientID, formatted); err != nil {
		d.Logger.Error().Err(err).
			Str("channel", string(channel)).
			Str("recipient_id", recipientID).
			Msg("outbound delivery failed")
		return err
	}
	return nil
}
