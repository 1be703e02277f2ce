package database

import (
	"context"
	"fmt"
	"time"

	"github.com/stockwatch/monitor-service/internal/pkg/cuid2"
)

// EventType selects which subscription flag and ping timestamp an event
// targets.
type EventType string

const (
	EventPriceDrop EventType = "price-drop"
	EventRestock   EventType = "restock"
)

// MatchedSubscription is a subscription that survived matching and cooldown
// for one event, joined with its owner's contact address.
type MatchedSubscription struct {
	SubscriptionID string
	UserID         string
	Email          *string // nil when the user has no contact address
	PriceInCents   *int    // the subscription's ceiling, for message rendering
}

// ClaimMatches finds the subscriptions to notify for an event and updates
// their ping timestamps, all in one transaction. The ping update is the
// de-duplication barrier: it commits before any message is sent, so a crash
// mid-send cannot cause duplicate re-sends on retry.
//
// A subscription matches when its event flag is set, its price ceiling is
// null or met, and its last ping for this event type is older than the
// cooldown window.
func (c *Catalog) ClaimMatches(ctx context.Context, event EventType, productVariantID string, newPriceInCents int, cooldown time.Duration) ([]MatchedSubscription, error) {
	var flagCol, pingCol string
	switch event {
	case EventPriceDrop:
		flagCol, pingCol = "on_price_drop", "last_price_drop_ping"
	case EventRestock:
		flagCol, pingCol = "on_restock", "last_restock_ping"
	default:
		return nil, fmt.Errorf("unknown event type %q", event)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row locks serialize concurrent dispatch passes for the same variant:
	// the second pass sees the updated ping and matches nothing.
	query := fmt.Sprintf(`
		WITH claimed AS (
			SELECT ns.id
			FROM notification_subscriptions ns
			WHERE ns.product_variant_id = $1
			  AND ns.%s = TRUE
			  AND (ns.price_in_cents IS NULL OR $2 <= ns.price_in_cents)
			  AND (ns.%s IS NULL OR ns.%s < NOW() - make_interval(secs => $3))
			FOR UPDATE OF ns
		)
		UPDATE notification_subscriptions ns
		SET %s = NOW()
		FROM users u
		WHERE u.id = ns.user_id
		  AND ns.id IN (SELECT id FROM claimed)
		RETURNING ns.id, ns.user_id, u.email, ns.price_in_cents
	`, flagCol, pingCol, pingCol, pingCol)

	rows, err := tx.Query(ctx, query, productVariantID, newPriceInCents, cooldown.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claiming %s matches for variant %s: %w", event, productVariantID, err)
	}

	var matches []MatchedSubscription
	for rows.Next() {
		var m MatchedSubscription
		if err := rows.Scan(&m.SubscriptionID, &m.UserID, &m.Email, &m.PriceInCents); err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing ping update: %w", err)
	}
	return matches, nil
}

// EnsureUser finds or creates a user by email. Used by the CLI and test
// harness when seeding subscriptions.
func (c *Catalog) EnsureUser(ctx context.Context, email string) (*User, error) {
	var u User
	err := c.pool.QueryRow(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at
	`, cuid2.New("usr"), email).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}
	return &u, nil
}

// CreateSubscription registers a user's standing alert request for a variant.
func (c *Catalog) CreateSubscription(ctx context.Context, userID, productVariantID string, priceInCents *int, onPriceDrop, onRestock bool) (*NotificationSubscription, error) {
	var s NotificationSubscription
	err := c.pool.QueryRow(ctx, `
		INSERT INTO notification_subscriptions
			(id, user_id, product_variant_id, price_in_cents, on_price_drop, on_restock)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, product_variant_id, price_in_cents, on_price_drop, on_restock,
		          last_price_drop_ping, last_restock_ping, created_at
	`, cuid2.New("sub"), userID, productVariantID, priceInCents, onPriceDrop, onRestock).Scan(
		&s.ID, &s.UserID, &s.ProductVariantID, &s.PriceInCents, &s.OnPriceDrop, &s.OnRestock,
		&s.LastPriceDropPing, &s.LastRestockPing, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return &s, nil
}

// DeleteSubscription removes a subscription. Subscriptions never auto-expire;
// this is the only removal path besides the variant cascade.
func (c *Catalog) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM notification_subscriptions WHERE id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("deleting subscription %s: %w", subscriptionID, err)
	}
	return nil
}
