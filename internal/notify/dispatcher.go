// Package notify matches variant events against subscriptions and delivers
// alerts.
//
// Dedup is write-first: matched subscriptions have their per-event ping
// timestamp advanced in one transaction before any send is attempted, so a
// crash mid-dispatch drops alerts rather than duplicating them.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/metrics"
)

// DefaultCooldown is the minimum gap between two alerts of the same event
// type for the same subscription.
const DefaultCooldown = 24 * time.Hour

// DefaultSendConcurrency bounds parallel deliveries per event.
const DefaultSendConcurrency = 10

type matcher interface {
	ClaimMatches(ctx context.Context, event database.EventType, productVariantID string, newPriceInCents int, cooldown time.Duration) ([]database.MatchedSubscription, error)
}

// VariantEvent is a price drop or restock observed for one variant listing.
type VariantEvent struct {
	Event            database.EventType
	ProductVariantID string
	ProductName      string
	StoreName        string
	ProductURL       string
	PriceInCents     int
}

type Dispatcher struct {
	catalog         matcher
	sender          Sender
	cooldown        time.Duration
	sendConcurrency int
	logger          zerolog.Logger
}

type Option func(*Dispatcher)

func WithCooldown(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.cooldown = d }
}

func WithSendConcurrency(n int) Option {
	return func(dp *Dispatcher) { dp.sendConcurrency = n }
}

func NewDispatcher(cat matcher, sender Sender, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:         cat,
		sender:          sender,
		cooldown:        DefaultCooldown,
		sendConcurrency: DefaultSendConcurrency,
		logger:          logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch claims every matching subscription for the event, then sends
// alerts concurrently. Individual send failures are logged and counted but
// never fail the dispatch: the ping timestamps are already advanced, and a
// retry here would re-alert the subscriptions that did succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, event VariantEvent) error {
	metrics.VariantEventsTotal.WithLabelValues(string(event.Event)).Inc()

	matches, err := d.catalog.ClaimMatches(ctx, event.Event, event.ProductVariantID, event.PriceInCents, d.cooldown)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.sendConcurrency)

	for _, match := range matches {
		if match.Email == nil || *match.Email == "" {
			// Claimed (ping advanced) but nowhere to deliver.
			d.logger.Debug().
				Str("subscription_id", match.SubscriptionID).
				Msg("subscriber has no contact address, skipping send")
			continue
		}

		msg := Message{
			Event:          event.Event,
			Email:          *match.Email,
			ProductName:    event.ProductName,
			StoreName:      event.StoreName,
			ProductURL:     event.ProductURL,
			PriceInCents:   event.PriceInCents,
			PriceCeiling:   match.PriceInCents,
			SubscriptionID: match.SubscriptionID,
		}
		g.Go(func() error {
			if err := d.sender.Send(ctx, msg); err != nil {
				metrics.NotificationSendFailuresTotal.WithLabelValues(string(event.Event)).Inc()
				d.logger.Error().Err(err).
					Str("subscription_id", msg.SubscriptionID).
					Str("event", string(msg.Event)).
					Msg("alert delivery failed")
				return nil
			}
			metrics.NotificationsSentTotal.WithLabelValues(string(event.Event)).Inc()
			return nil
		})
	}

	return g.Wait()
}
