package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// EnrollmentRepo stores enrollments. The partial unique index
// enrollments_one_active_per_customer enforces at most one active
// enrollment per customer.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `id, campaign_id, customer_id, business_id, COALESCE(job_id,''), status,
	current_touch, COALESCE(stop_reason,''), enrolled_at, stopped_at, completed_at`

func scanEnrollment(row rowScanner) (*domain.Enrollment, error) {
	var e domain.Enrollment
	var stopped, completed sql.NullTime
	if err := row.Scan(&e.ID, &e.CampaignID, &e.CustomerID, &e.BusinessID, &e.JobID, &e.Status,
		&e.CurrentTouch, &e.StopReason, &e.EnrolledAt, &stopped, &completed); err != nil {
		return nil, err
	}
	e.StoppedAt = timePtr(stopped)
	e.CompletedAt = timePtr(completed)
	return &e, nil
}

func (r *EnrollmentRepo) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) ListForCustomer(ctx context.Context, customerID string, since time.Time) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE customer_id = $1 AND (enrolled_at >= $2 OR status = 'active')
		ORDER BY enrolled_at DESC
	`, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Create supersedes the customer's active enrollment and inserts the new one
// with its first touch slot in one transaction. A concurrent create for the
// same customer surfaces as ErrDuplicateActive.
func (r *EnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment, first *domain.ScheduledTouch) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	superseded, err := stopReturning(ctx, tx, `customer_id = $1`, e.CustomerID, domain.StopRepeatJob, e.EnrolledAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrollments
			(id, campaign_id, customer_id, business_id, job_id, status, current_touch, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.CampaignID, e.CustomerID, e.BusinessID, nullString(e.JobID), e.Status, e.CurrentTouch, e.EnrolledAt)
	if isUniqueViolation(err) {
		return nil, enrollment.ErrDuplicateActive
	}
	if err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}

	if first != nil {
		if err := insertTouch(ctx, tx, first); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, enrollment.ErrDuplicateActive
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return superseded, nil
}

// Advance moves the enrollment off fromTouch only if it is still active and
// still on that touch. The next slot is inserted in the same statement.
func (r *EnrollmentRepo) Advance(ctx context.Context, id string, fromTouch int, next *domain.ScheduledTouch, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	if next == nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE enrollments SET status = 'completed', completed_at = $3
			WHERE id = $1 AND status = 'active' AND current_touch = $2
		`, id, fromTouch, at)
	} else {
		res, err = r.db.ExecContext(ctx, `
			WITH moved AS (
				UPDATE enrollments SET current_touch = $3
				WHERE id = $1 AND status = 'active' AND current_touch = $2
				RETURNING id
			)
			INSERT INTO scheduled_touches
				(id, enrollment_id, touch_number, channel, scheduled_at, status, created_at, updated_at)
			SELECT $4, moved.id, $3, $5, $6, 'pending', NOW(), NOW() FROM moved
		`, id, fromTouch, next.TouchNumber, next.ID, next.Channel, next.ScheduledAt)
	}
	if err != nil {
		return false, fmt.Errorf("advance enrollment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EnrollmentRepo) Stop(ctx context.Context, id string, reason domain.StopReason, at time.Time) (bool, error) {
	ids, err := stopReturning(ctx, r.db, `id = $1`, id, reason, at)
	if err != nil {
		return false, err
	}
	if len(ids) > 0 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM enrollments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	if !exists {
		return false, enrollment.ErrNotFound
	}
	return false, nil
}

func (r *EnrollmentRepo) StopActiveForCustomer(ctx context.Context, customerID string, reason domain.StopReason, at time.Time) ([]string, error) {
	return stopReturning(ctx, r.db, `customer_id = $1`, customerID, reason, at)
}

func (r *EnrollmentRepo) StopActiveForCampaign(ctx context.Context, campaignID string, reason domain.StopReason, at time.Time) ([]string, error) {
	return stopReturning(ctx, r.db, `campaign_id = $1`, campaignID, reason, at)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// stopReturning stops the active enrollments matching where (which binds $1)
// and cancels their pending slots in one statement.
func stopReturning(ctx context.Context, q queryer, where, arg string, reason domain.StopReason, at time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		WITH stopped AS (
			UPDATE enrollments
			SET status = 'stopped', stop_reason = $2, stopped_at = $3
			WHERE `+where+` AND status = 'active'
			RETURNING id
		), cancelled AS (
			UPDATE scheduled_touches
			SET status = 'cancelled', updated_at = NOW()
			WHERE enrollment_id IN (SELECT id FROM stopped) AND status = 'pending'
		)
		SELECT id FROM stopped
	`, arg, reason, at)
	if err != nil {
		return nil, fmt.Errorf("stop enrollments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
