package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/models"
)

// Resolver maps (tenant, channel, channel sender id) to a customer record,
// creating one lazily on first contact.
type Resolver struct {
	Store  Store
	Logger zerolog.Logger
}

// Hints carries optional identity attributes extracted from the inbound
// payload.
type Hints struct {
	Phone string
	Name  string
	Email string
}

// Resolve looks up a customer in three steps: by the channel identifier, then
// by phone hint (linking the channel id to the match), then by creating a new
// record. Creation is an upsert so racing first contacts converge on one row.
func (r *Resolver) Resolve(ctx context.Context, businessID string, channel models.Channel, channelSenderID string, hints Hints) (models.Customer, error) {
	if channel == models.ChannelVoice {
		return r.resolveByPhone(ctx, businessID, hints)
	}

	customer, found, err := r.Store.FindCustomerByChannelID(ctx, businessID, channel, channelSenderID)
	if err != nil {
		return models.Customer{}, err
	}
	if found {
		return customer, nil
	}

	if hints.Phone != "" {
		customer, found, err = r.Store.FindCustomerByPhone(ctx, businessID, hints.Phone)
		if err != nil {
			return models.Customer{}, err
		}
		if found {
			linked, err := r.Store.AttachChannelID(ctx, customer.ID, channel, channelSenderID)
			if err != nil {
				return models.Customer{}, err
			}
			r.Logger.Info().
				Str("business_id", businessID).
				Str("customer_id", linked.ID).
				Str("channel", string(channel)).
				Msg("linked channel identifier to existing customer")
			return linked, nil
		}
	}

	created, err := r.Store.CreateCustomerByChannelID(ctx, businessID, channel, channelSenderID,
		hints.Name, hints.Phone, hints.Email)
	if err != nil {
		return models.Customer{}, err
	}
	return created, nil
}

// resolveByPhone serves voice calls, which carry no durable channel
// identifier beyond the caller's number.
func (r *Resolver) resolveByPhone(ctx context.Context, businessID string, hints Hints) (models.Customer, error) {
	if hints.Phone != "" {
		customer, found, err := r.Store.FindCustomerByPhone(ctx, businessID, hints.Phone)
		if err != nil {
			return models.Customer{}, err
		}
		if found {
			return customer, nil
		}
	}
	return r.Store.CreateCustomer(ctx, businessID, hints.Name, hints.Phone, hints.Email)
}
