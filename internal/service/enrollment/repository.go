package enrollment

import (
	"context"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// Repository persists campaigns, settings, enrollments, and touch slots.
type Repository interface {
	// ActiveCampaigns returns the business's campaigns in active status.
	ActiveCampaigns(ctx context.Context, businessID string) ([]domain.Campaign, error)
	// GetCampaign returns ErrCampaignNotFound when missing.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	// Settings returns stored settings or domain.DefaultBusinessSettings.
	Settings(ctx context.Context, businessID string) (domain.BusinessSettings, error)

	// Get returns ErrNotFound when missing.
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	// ListForCustomer returns enrollments started at or after since, plus
	// any that are still active regardless of age.
	ListForCustomer(ctx context.Context, customerID string, since time.Time) ([]domain.Enrollment, error)

	// Create atomically stops the customer's active enrollments with
	// repeat_job (cancelling their pending slots), then inserts e and its
	// first slot. Returns the superseded IDs, or ErrDuplicateActive when a
	// concurrent create won the at-most-one-active constraint.
	Create(ctx context.Context, e *domain.Enrollment, first *domain.ScheduledTouch) (superseded []string, err error)
	// Advance moves an active enrollment off fromTouch. A nil next marks it
	// completed. Returns false when the enrollment is no longer active or
	// has already moved past fromTouch.
	Advance(ctx context.Context, enrollmentID string, fromTouch int, next *domain.ScheduledTouch, at time.Time) (bool, error)
	// Stop transitions an active enrollment to stopped and cancels its
	// pending slots. Returns false when it was not active.
	Stop(ctx context.Context, enrollmentID string, reason domain.StopReason, at time.Time) (bool, error)
	StopActiveForCustomer(ctx context.Context, customerID string, reason domain.StopReason, at time.Time) ([]string, error)
	StopActiveForCampaign(ctx context.Context, campaignID string, reason domain.StopReason, at time.Time) ([]string, error)
}
