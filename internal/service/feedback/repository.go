package feedback

import (
	"context"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// Store persists ratings and feedback.
type Store interface {
	SaveRating(ctx context.Context, r *domain.Rating) error
	// LatestRating returns the newest rating for the enrollment, or for the
	// customer when enrollmentID is empty. ErrNoRating when none.
	LatestRating(ctx context.Context, customerID, enrollmentID string) (*domain.Rating, error)
	SaveFeedback(ctx context.Context, f *domain.Feedback) error
	// LatestSendLogForEnrollment returns nil, nil when nothing was sent yet.
	LatestSendLogForEnrollment(ctx context.Context, enrollmentID string) (*domain.SendLog, error)
	MarkReviewed(ctx context.Context, sendLogID string, at time.Time) (bool, error)
}

// SettingsReader looks up business settings.
type SettingsReader interface {
	Settings(ctx context.Context, businessID string) (domain.BusinessSettings, error)
}

// ContactStore updates customer channel permissions.
type ContactStore interface {
	SetEmailOptOut(ctx context.Context, customerID string, optOut bool) error
	SetSMSConsent(ctx context.Context, customerID string, consent domain.SMSConsent) error
}

// EnrollmentStopper stops enrollments.
type EnrollmentStopper interface {
	Stop(ctx context.Context, enrollmentID string, reason domain.StopReason) (bool, error)
	StopForCustomer(ctx context.Context, customerID string, reason domain.StopReason) ([]string, error)
}
