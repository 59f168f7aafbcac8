package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// TouchRepo is the scheduled_touches work table.
type TouchRepo struct{ db *sql.DB }

// NewTouchRepo creates a Postgres-backed touch slot repository.
func NewTouchRepo(db *sql.DB) *TouchRepo { return &TouchRepo{db: db} }

// touchClaim only claims slots whose enrollment is still active and still on
// that touch, so a stop that lands before the claim is never sent.
var touchClaim = claimSpec{
	table: "scheduled_touches",
	join:  "JOIN enrollments e ON e.id = q.enrollment_id",
	due: `q.status = 'pending' AND q.scheduled_at <= NOW()
			  AND e.status = 'active' AND e.current_touch = q.touch_number`,
	order:     "q.scheduled_at",
	returning: "t.id, t.enrollment_id, t.touch_number, t.channel, t.scheduled_at, t.status, t.claimed_at",
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTouch(ctx context.Context, db execer, t *domain.ScheduledTouch) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_touches
			(id, enrollment_id, touch_number, channel, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, t.ID, t.EnrollmentID, t.TouchNumber, t.Channel, t.ScheduledAt, t.Status)
	if err != nil {
		return fmt.Errorf("insert touch: %w", err)
	}
	return nil
}

func (r *TouchRepo) ClaimDueTouches(ctx context.Context, limit int) ([]domain.ScheduledTouch, error) {
	rows, err := r.db.QueryContext(ctx, touchClaim.claimQuery(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim touches: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledTouch
	for rows.Next() {
		var t domain.ScheduledTouch
		var claimed sql.NullTime
		if err := rows.Scan(&t.ID, &t.EnrollmentID, &t.TouchNumber, &t.Channel, &t.ScheduledAt, &t.Status, &claimed); err != nil {
			return nil, fmt.Errorf("scan touch: %w", err)
		}
		t.ClaimedAt = timePtr(claimed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TouchRepo) RecoverStaleTouches(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, touchClaim.recoverQuery(), seconds(olderThan))
	if err != nil {
		return 0, fmt.Errorf("recover touches: %w", err)
	}
	return res.RowsAffected()
}

func (r *TouchRepo) SetTouchStatus(ctx context.Context, id string, status domain.TouchStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_touches SET status = $2, claimed_at = NULL, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set touch status: %w", err)
	}
	return nil
}
