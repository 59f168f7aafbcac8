package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/feedback"
)

// FeedbackRepo stores ratings and private feedback.
type FeedbackRepo struct{ db *sql.DB }

// NewFeedbackRepo creates a Postgres-backed rating and feedback repository.
func NewFeedbackRepo(db *sql.DB) *FeedbackRepo { return &FeedbackRepo{db: db} }

func (r *FeedbackRepo) SaveRating(ctx context.Context, rt *domain.Rating) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ratings (id, customer_id, business_id, enrollment_id, rating, destination, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rt.ID, rt.CustomerID, rt.BusinessID, nullString(rt.EnrollmentID), rt.Rating, nullString(rt.Destination), rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (r *FeedbackRepo) LatestRating(ctx context.Context, customerID, enrollmentID string) (*domain.Rating, error) {
	rt := &domain.Rating{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, business_id, COALESCE(enrollment_id,''), rating, COALESCE(destination,''), created_at
		FROM ratings
		WHERE customer_id = $1 AND ($2::text = '' OR enrollment_id = $2::text)
		ORDER BY created_at DESC
		LIMIT 1
	`, customerID, enrollmentID).Scan(&rt.ID, &rt.CustomerID, &rt.BusinessID, &rt.EnrollmentID, &rt.Rating, &rt.Destination, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, feedback.ErrNoRating
	}
	if err != nil {
		return nil, fmt.Errorf("latest rating: %w", err)
	}
	return rt, nil
}

func (r *FeedbackRepo) SaveFeedback(ctx context.Context, f *domain.Feedback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feedback (id, rating_id, customer_id, business_id, enrollment_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.RatingID, f.CustomerID, f.BusinessID, nullString(f.EnrollmentID), f.Message, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}
