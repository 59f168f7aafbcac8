package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/delivery"
)

// SendLogRepo stores one row per dispatched message.
type SendLogRepo struct{ db *sql.DB }

// NewSendLogRepo creates a Postgres-backed send log repository.
func NewSendLogRepo(db *sql.DB) *SendLogRepo { return &SendLogRepo{db: db} }

const sendLogColumns = `id, COALESCE(enrollment_id,''), COALESCE(touch_id,''), touch_number, customer_id,
	business_id, channel, recipient, COALESCE(subject,''), body, status,
	COALESCE(provider_message_id,''), COALESCE(last_error,''), reviewed_at, sent_at, created_at, updated_at`

func scanSendLog(row rowScanner) (*domain.SendLog, error) {
	var l domain.SendLog
	var reviewed, sent sql.NullTime
	if err := row.Scan(&l.ID, &l.EnrollmentID, &l.TouchID, &l.TouchNumber, &l.CustomerID,
		&l.BusinessID, &l.Channel, &l.Recipient, &l.Subject, &l.Body, &l.Status,
		&l.ProviderMessageID, &l.LastError, &reviewed, &sent, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.ReviewedAt = timePtr(reviewed)
	l.SentAt = timePtr(sent)
	return &l, nil
}

func (r *SendLogRepo) CreateSendLog(ctx context.Context, l *domain.SendLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_logs
			(id, enrollment_id, touch_id, touch_number, customer_id, business_id, channel,
			 recipient, subject, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, l.ID, nullString(l.EnrollmentID), nullString(l.TouchID), l.TouchNumber, l.CustomerID, l.BusinessID,
		l.Channel, l.Recipient, nullString(l.Subject), l.Body, l.Status)
	if err != nil {
		return fmt.Errorf("insert send log: %w", err)
	}
	return nil
}

func (r *SendLogRepo) GetSendLog(ctx context.Context, id string) (*domain.SendLog, error) {
	l, err := scanSendLog(r.db.QueryRowContext(ctx, `SELECT `+sendLogColumns+` FROM send_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("get send log: %w", err)
	}
	return l, nil
}

func (r *SendLogRepo) FindSendLogByProviderID(ctx context.Context, channel domain.Channel, providerMessageID string) (*domain.SendLog, error) {
	if providerMessageID == "" {
		return nil, delivery.ErrUnknownMessage
	}
	l, err := scanSendLog(r.db.QueryRowContext(ctx, `
		SELECT `+sendLogColumns+`
		FROM send_logs
		WHERE channel = $1 AND provider_message_id = $2
	`, channel, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("find send log: %w", err)
	}
	return l, nil
}

// MarkSendLogSent records the provider's acceptance. A status that a fast
// callback already moved past pending is left alone.
func (r *SendLogRepo) MarkSendLogSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE send_logs
		SET status = CASE WHEN status = 'pending' THEN 'sent' ELSE status END,
		    provider_message_id = $2, sent_at = $3, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, providerMessageID, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *SendLogRepo) RecordSendError(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE send_logs SET last_error = $2, updated_at = NOW() WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("record send error: %w", err)
	}
	return nil
}

func (r *SendLogRepo) FailSendLog(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE send_logs SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("fail send log: %w", err)
	}
	return nil
}

func (r *SendLogRepo) CompareAndSetSendStatus(ctx context.Context, id string, from, to domain.SendStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_logs SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update send status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SendLogRepo) MarkReviewed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_logs SET reviewed_at = $2, updated_at = NOW() WHERE id = $1 AND reviewed_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reviewed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SendLogRepo) LatestSendLogForEnrollment(ctx context.Context, enrollmentID string) (*domain.SendLog, error) {
	l, err := scanSendLog(r.db.QueryRowContext(ctx, `
		SELECT `+sendLogColumns+`
		FROM send_logs
		WHERE enrollment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, enrollmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest send log: %w", err)
	}
	return l, nil
}
