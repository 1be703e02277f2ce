package taskqueue

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusClaimed   TaskStatus = "claimed"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusExpired   TaskStatus = "expired"
	StatusCancelled TaskStatus = "cancelled"
)

// Job kinds the workers know how to handle.
const (
	KindPollStoreListing   = "poll-store-listing"
	KindInsertStoreListing = "insert-store-listing"
	KindReconcileStore     = "reconcile-store"
)

// PollStoreListingPayload targets a single known listing.
type PollStoreListingPayload struct {
	StoreListingID string `json:"storeListingId"`
}

// InsertStoreListingPayload carries a listing the reconciler discovered but
// has not yet polled.
type InsertStoreListingPayload struct {
	Store             string `json:"store"`
	ExternalListingID string `json:"externalListingId"`
}

// ReconcileStorePayload triggers a full catalog sweep for one store.
type ReconcileStorePayload struct {
	Store string `json:"store"`
}

type Task struct {
	ID           string          `db:"id"`
	Kind         string          `db:"kind"`
	Payload      json.RawMessage `db:"payload"`
	SingletonKey *string         `db:"singleton_key"`
	Status       TaskStatus      `db:"status"`
	ScheduledFor time.Time       `db:"scheduled_for"`
	ExpiresAt    time.Time       `db:"expires_at"`
	ClaimedBy    *string         `db:"claimed_by"`
	ClaimedAt    *time.Time      `db:"claimed_at"`
	RetryCount   int             `db:"retry_count"`
	MaxRetries   int             `db:"max_retries"`
	ErrorMessage *string         `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

type ClaimedTask struct {
	ID      string          `db:"id"`
	Kind    string          `db:"kind"`
	Payload json.RawMessage `db:"payload"`
}
