package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/internal/database"
)

// Message is one alert addressed to one subscriber.
type Message struct {
	Event          database.EventType `json:"event"`
	Email          string             `json:"email"`
	ProductName    string             `json:"productName"`
	StoreName      string             `json:"storeName"`
	ProductURL     string             `json:"productUrl"`
	PriceInCents   int                `json:"priceInCents"`
	PriceCeiling   *int               `json:"priceCeiling,omitempty"`
	SubscriptionID string             `json:"subscriptionId"`
}

// Sender delivers a single alert. Implementations must be safe for
// concurrent use; the dispatcher fans sends out in parallel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes alerts to the structured log. Default when no delivery
// webhook is configured, and useful in development.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Info().
		Str("event", string(msg.Event)).
		Str("email", msg.Email).
		Str("product", msg.ProductName).
		Str("store", msg.StoreName).
		Int("price_in_cents", msg.PriceInCents).
		Str("subscription_id", msg.SubscriptionID).
		Msg("alert")
	return nil
}

// WebhookSender POSTs each alert as JSON to a delivery endpoint (mail relay,
// Slack bridge, whatever sits behind the URL).
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
