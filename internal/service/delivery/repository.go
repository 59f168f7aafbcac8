package delivery

import (
	"context"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// SendLogStore reads and conditionally updates send logs.
type SendLogStore interface {
	// GetSendLog returns ErrUnknownMessage when missing.
	GetSendLog(ctx context.Context, id string) (*domain.SendLog, error)
	// FindSendLogByProviderID returns ErrUnknownMessage when missing.
	FindSendLogByProviderID(ctx context.Context, channel domain.Channel, providerMessageID string) (*domain.SendLog, error)
	// CompareAndSetSendStatus writes to only if the row still has from.
	CompareAndSetSendStatus(ctx context.Context, id string, from, to domain.SendStatus) (bool, error)
	// MarkReviewed stamps reviewed_at once; later calls are no-ops.
	MarkReviewed(ctx context.Context, id string, at time.Time) (bool, error)
}

// ContactStore updates customer channel permissions.
type ContactStore interface {
	SetEmailOptOut(ctx context.Context, customerID string, optOut bool) error
	SetSMSConsent(ctx context.Context, customerID string, consent domain.SMSConsent) error
	CustomerIDsByPhone(ctx context.Context, phone string) ([]string, error)
}

// EnrollmentStopper is the slice of the enrollment service the reconciler uses.
type EnrollmentStopper interface {
	Stop(ctx context.Context, enrollmentID string, reason domain.StopReason) (bool, error)
	StopForCustomer(ctx context.Context, customerID string, reason domain.StopReason) ([]string, error)
}
