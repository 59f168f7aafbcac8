package worker

import (
	"context"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// TouchQueue is the scheduled-touch table.
type TouchQueue interface {
	RecoverStaleTouches(ctx context.Context, olderThan time.Duration) (int64, error)
	ClaimDueTouches(ctx context.Context, limit int) ([]domain.ScheduledTouch, error)
	SetTouchStatus(ctx context.Context, id string, status domain.TouchStatus) error
}

// Directory resolves what a dispatch needs to render a message.
type Directory interface {
	// GetCustomer returns enrollment.ErrCustomerNotFound when missing.
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	// GetCampaign returns enrollment.ErrCampaignNotFound when missing.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	Settings(ctx context.Context, businessID string) (domain.BusinessSettings, error)
}

// SendLogWriter records dispatched messages.
type SendLogWriter interface {
	CreateSendLog(ctx context.Context, l *domain.SendLog) error
	// GetSendLog returns delivery.ErrUnknownMessage when missing.
	GetSendLog(ctx context.Context, id string) (*domain.SendLog, error)
	MarkSendLogSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	// RecordSendError keeps the log pending and stores the error.
	RecordSendError(ctx context.Context, id, errMsg string) error
	// FailSendLog moves a pending log to failed.
	FailSendLog(ctx context.Context, id, errMsg string) error
}

// RetryQueue is the retry-item table.
type RetryQueue interface {
	EnqueueRetry(ctx context.Context, item *domain.RetryItem) error
	RecoverStaleRetries(ctx context.Context, olderThan time.Duration) (int64, error)
	ClaimDueRetries(ctx context.Context, limit int) ([]domain.RetryItem, error)
	CompleteRetry(ctx context.Context, id string) error
	// FailRetryAttempt counts a failed attempt. The item goes back to
	// pending at nextAttemptAt, or to failed once maxAttempts is reached.
	FailRetryAttempt(ctx context.Context, id, errMsg string, maxAttempts int, nextAttemptAt time.Time) (domain.RetryStatus, error)
	// AbandonRetry moves the item to failed without another attempt.
	AbandonRetry(ctx context.Context, id, reason string) error
}

// Enrollments is the slice of the enrollment service workers use.
type Enrollments interface {
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	Advance(ctx context.Context, enrollmentID string, fromTouch int) (*enrollment.AdvanceResult, error)
}
