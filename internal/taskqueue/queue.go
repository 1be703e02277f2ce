// Package taskqueue is a Postgres-backed job queue with singleton dedup.
//
// Enqueues carrying a singleton key collapse against any pending or claimed
// job with the same (kind, key), so a slow poll cycle never stacks duplicate
// work behind itself. Claims use FOR UPDATE SKIP LOCKED so any number of
// workers can drain the queue concurrently.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockwatch/monitor-service/internal/pkg/cuid2"
)

type TaskQueue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *TaskQueue {
	return &TaskQueue{pool: pool}
}

type EnqueueInput struct {
	Kind         string
	Payload      any
	SingletonKey string        // empty disables dedup
	ScheduledFor time.Time     // zero means now
	TTL          time.Duration // zero falls back to DefaultTTL
	MaxRetries   int
}

// DefaultTTL bounds how long an unclaimed job stays eligible. A job that sat
// in the queue longer than this describes a world that no longer exists.
const DefaultTTL = 30 * time.Minute

// Enqueue inserts a job. It returns the new job id, or "" when a singleton
// key collapsed the insert into an existing pending/claimed job.
func (q *TaskQueue) Enqueue(ctx context.Context, input EnqueueInput) (string, error) {
	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", input.Kind, err)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	scheduledFor := input.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	var singleton *string
	if input.SingletonKey != "" {
		singleton = &input.SingletonKey
	}

	id := cuid2.New("tsk")
	tag, err := q.pool.Exec(ctx, `
		INSERT INTO task_queue (id, kind, payload, singleton_key, scheduled_for, expires_at, max_retries)
		VALUES ($1, $2, $3, $4, $5, $5 + make_interval(secs => $6), $7)
		ON CONFLICT (kind, singleton_key) WHERE status IN ('pending', 'claimed') AND singleton_key IS NOT NULL
		DO NOTHING
	`, id, input.Kind, payload, singleton, scheduledFor, ttl.Seconds(), maxRetries)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", input.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return "", nil
	}
	return id, nil
}

type ClaimInput struct {
	WorkerID string
	Kinds    []string
	MaxTasks int
}

// Claim atomically marks up to MaxTasks due, unexpired jobs as claimed and
// returns them. Jobs past their expiry are skipped here and left for the
// sweeper to mark expired.
func (q *TaskQueue) Claim(ctx context.Context, input ClaimInput) ([]ClaimedTask, error) {
	maxTasks := input.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 1
	}

	rows, err := q.pool.Query(ctx, `
		UPDATE task_queue
		SET status = 'claimed', claimed_by = $1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM task_queue
			WHERE status = 'pending'
			  AND kind = ANY($2)
			  AND scheduled_for <= NOW()
			  AND expires_at > NOW()
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload
	`, input.WorkerID, input.Kinds, maxTasks)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]ClaimedTask, 0, maxTasks)
	for rows.Next() {
		var task ClaimedTask
		if err := rows.Scan(&task.ID, &task.Kind, &task.Payload); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *TaskQueue) Complete(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, taskID)
	return err
}

// Fail records a failure. When retry is true and retries remain, the job is
// rescheduled with a short delay; otherwise it is terminally failed.
func (q *TaskQueue) Fail(ctx context.Context, taskID, errorMessage string, retry bool) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    status = CASE
		        WHEN $3 AND retry_count + 1 <= max_retries THEN 'pending'
		        ELSE 'failed'
		    END,
		    scheduled_for = CASE
		        WHEN $3 AND retry_count + 1 <= max_retries THEN NOW() + INTERVAL '30 seconds'
		        ELSE scheduled_for
		    END,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'claimed'
	`, taskID, errorMessage, retry)
	return err
}

func (q *TaskQueue) Cancel(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'claimed')
	`, taskID)
	return err
}

// ExpireOverdue marks pending jobs whose expiry has passed. Run by the
// queue sweeper.
func (q *TaskQueue) ExpireOverdue(ctx context.Context) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReleaseStuck returns claimed jobs back to pending when their worker went
// away without completing them.
func (q *TaskQueue) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'claimed' AND claimed_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteFinished prunes terminal jobs older than the retention window.
func (q *TaskQueue) DeleteFinished(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM task_queue
		WHERE status IN ('completed', 'failed', 'expired', 'cancelled')
		  AND updated_at < NOW() - make_interval(secs => $1)
	`, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PendingByKind reports queue depth for the metrics gauge.
func (q *TaskQueue) PendingByKind(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT kind, COUNT(*) FROM task_queue WHERE status = 'pending' GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		depth[kind] = n
	}
	return depth, rows.Err()
}

func (q *TaskQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	err := q.pool.QueryRow(ctx, `
		SELECT id, kind, payload, singleton_key, status,
		       scheduled_for, expires_at, claimed_by, claimed_at,
		       retry_count, max_retries, error_message, created_at, updated_at
		FROM task_queue
		WHERE id = $1
	`, taskID).Scan(
		&task.ID, &task.Kind, &task.Payload, &task.SingletonKey, &task.Status,
		&task.ScheduledFor, &task.ExpiresAt, &task.ClaimedBy, &task.ClaimedAt,
		&task.RetryCount, &task.MaxRetries, &task.ErrorMessage, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
