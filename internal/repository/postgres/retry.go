package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// RetryRepo is the retry_items work table.
type RetryRepo struct{ db *sql.DB }

// NewRetryRepo creates a Postgres-backed retry queue.
func NewRetryRepo(db *sql.DB) *RetryRepo { return &RetryRepo{db: db} }

var retryClaim = claimSpec{
	table:     "retry_items",
	due:       "q.status = 'pending' AND q.next_attempt_at <= NOW()",
	order:     "q.next_attempt_at",
	returning: "t.id, t.send_log_id, t.status, t.attempt_count, COALESCE(t.last_error,''), t.next_attempt_at, t.claimed_at, t.created_at, t.updated_at",
}

func (r *RetryRepo) EnqueueRetry(ctx context.Context, item *domain.RetryItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_items (id, send_log_id, status, attempt_count, last_error, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, item.ID, item.SendLogID, item.Status, item.AttemptCount, nullString(item.LastError), item.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (r *RetryRepo) ClaimDueRetries(ctx context.Context, limit int) ([]domain.RetryItem, error) {
	rows, err := r.db.QueryContext(ctx, retryClaim.claimQuery(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim retries: %w", err)
	}
	defer rows.Close()

	var out []domain.RetryItem
	for rows.Next() {
		var it domain.RetryItem
		var claimed sql.NullTime
		if err := rows.Scan(&it.ID, &it.SendLogID, &it.Status, &it.AttemptCount, &it.LastError,
			&it.NextAttemptAt, &claimed, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retry: %w", err)
		}
		it.ClaimedAt = timePtr(claimed)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *RetryRepo) RecoverStaleRetries(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, retryClaim.recoverQuery(), seconds(olderThan))
	if err != nil {
		return 0, fmt.Errorf("recover retries: %w", err)
	}
	return res.RowsAffected()
}

func (r *RetryRepo) CompleteRetry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_items SET status = 'succeeded', claimed_at = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("complete retry: %w", err)
	}
	return nil
}

func (r *RetryRepo) AbandonRetry(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_items SET status = 'failed', last_error = $2, claimed_at = NULL, updated_at = NOW() WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("abandon retry: %w", err)
	}
	return nil
}

// FailRetryAttempt counts the attempt and either reschedules the item or
// marks it failed once maxAttempts is reached.
func (r *RetryRepo) FailRetryAttempt(ctx context.Context, id, errMsg string, maxAttempts int, next time.Time) (domain.RetryStatus, error) {
	var status domain.RetryStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE retry_items
		SET attempt_count   = attempt_count + 1,
		    last_error      = $2,
		    claimed_at      = NULL,
		    updated_at      = NOW(),
		    status          = CASE WHEN attempt_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    next_attempt_at = CASE WHEN attempt_count + 1 >= $3 THEN next_attempt_at ELSE $4 END
		WHERE id = $1
		RETURNING status
	`, id, errMsg, maxAttempts, next).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("record retry attempt: %w", err)
	}
	return status, nil
}

// PurgeFinishedRetries deletes up to limit succeeded or failed items last
// touched before the cutoff.
func (r *RetryRepo) PurgeFinishedRetries(ctx context.Context, before time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM retry_items
		WHERE id IN (
			SELECT id FROM retry_items
			WHERE status IN ('succeeded', 'failed')
			  AND updated_at < $1
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge retries: %w", err)
	}
	return res.RowsAffected()
}
