package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// historyWindow bounds the enrollment history loaded for cooldown checks.
const historyWindow = domain.MaxCooldownDays * 24 * time.Hour

// Outcome is the result kind of Enroll.
type Outcome string

const (
	OutcomeEnrolled Outcome = "enrolled"
	OutcomeSkipped  Outcome = "skipped"
)

// EnrollOptions modifies Enroll.
type EnrollOptions struct {
	// Override bypasses the cooldown window (manual enrollment by the owner).
	Override bool
}

// Result reports what Enroll did.
type Result struct {
	Outcome    Outcome                `json:"outcome"`
	SkipReason SkipReason             `json:"skip_reason,omitempty"`
	Enrollment *domain.Enrollment     `json:"enrollment,omitempty"`
	FirstTouch *domain.ScheduledTouch `json:"first_touch,omitempty"`
	Superseded []string               `json:"superseded,omitempty"`
}

// AdvanceResult reports what Advance did.
type AdvanceResult struct {
	Advanced  bool
	Completed bool
	Next      *domain.ScheduledTouch
}

// Service implements the enrollment state machine. It is safe for
// concurrent use if the repository is.
type Service struct {
	repo Repository
	now  func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an enrollment service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a single enrollment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.Get(ctx, id)
}

// Enroll runs the resolver for a completed job and, unless it skips,
// creates the enrollment, superseding any active one with repeat_job.
func (s *Service) Enroll(ctx context.Context, job domain.Job, opts EnrollOptions) (*Result, error) {
	if job.BusinessID == "" || job.CustomerID == "" || job.ServiceType == "" {
		return nil, ErrInvalidJob
	}
	now := s.now()

	campaigns, err := s.repo.ActiveCampaigns(ctx, job.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	settings, err := s.repo.Settings(ctx, job.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	history, err := s.repo.ListForCustomer(ctx, job.CustomerID, now.Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("load enrollment history: %w", err)
	}

	d := Resolve(ResolveInput{
		Job:       job,
		Campaigns: campaigns,
		History:   history,
		Settings:  settings,
		Override:  opts.Override,
		Now:       now,
	})
	if d.Action == ActionSkip {
		logger.Info("enrollment skipped",
			"component", "enrollment", "job_id", job.ID, "customer_id", job.CustomerID, "reason", d.Reason)
		return &Result{Outcome: OutcomeSkipped, SkipReason: d.Reason}, nil
	}

	e := &domain.Enrollment{
		ID:           uuid.New().String(),
		CampaignID:   d.Campaign.ID,
		CustomerID:   job.CustomerID,
		BusinessID:   job.BusinessID,
		JobID:        job.ID,
		Status:       domain.EnrollmentActive,
		CurrentTouch: 1,
		EnrolledAt:   now,
	}
	first := &domain.ScheduledTouch{
		ID:           uuid.New().String(),
		EnrollmentID: e.ID,
		TouchNumber:  1,
		Channel:      d.FirstTouch.Channel,
		ScheduledAt:  d.FirstTouchAt,
		Status:       domain.TouchPending,
	}

	superseded, err := s.repo.Create(ctx, e, first)
	if errors.Is(err, ErrDuplicateActive) {
		logger.Info("enrollment lost create race",
			"component", "enrollment", "job_id", job.ID, "customer_id", job.CustomerID)
		return &Result{Outcome: OutcomeSkipped, SkipReason: SkipAlreadyEnrolled}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	logger.Info("customer enrolled",
		"component", "enrollment", "enrollment_id", e.ID, "campaign_id", e.CampaignID,
		"job_id", job.ID, "first_touch_at", first.ScheduledAt.Format(time.RFC3339),
		"superseded", len(superseded), "override", opts.Override)

	return &Result{Outcome: OutcomeEnrolled, Enrollment: e, FirstTouch: first, Superseded: superseded}, nil
}

// Advance moves an enrollment past fromTouch after that touch was sent or
// skipped. The next slot is scheduled delay_hours from now; past the last
// touch the enrollment completes. A stopped enrollment is left alone.
func (s *Service) Advance(ctx context.Context, enrollmentID string, fromTouch int) (*AdvanceResult, error) {
	e, err := s.repo.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() || e.CurrentTouch != fromTouch {
		return &AdvanceResult{}, nil
	}

	now := s.now()
	var next *domain.ScheduledTouch
	campaign, err := s.repo.GetCampaign(ctx, e.CampaignID)
	switch {
	case errors.Is(err, ErrCampaignNotFound):
	case err != nil:
		return nil, fmt.Errorf("load campaign: %w", err)
	default:
		if t, ok := campaign.Touch(fromTouch + 1); ok {
			next = &domain.ScheduledTouch{
				ID:           uuid.New().String(),
				EnrollmentID: e.ID,
				TouchNumber:  t.TouchNumber,
				Channel:      t.Channel,
				ScheduledAt:  now.Add(t.Delay()),
				Status:       domain.TouchPending,
			}
		}
	}

	ok, err := s.repo.Advance(ctx, e.ID, fromTouch, next, now)
	if err != nil {
		return nil, fmt.Errorf("advance enrollment: %w", err)
	}
	if !ok {
		return &AdvanceResult{}, nil
	}
	if next == nil {
		logger.Info("enrollment completed", "component", "enrollment", "enrollment_id", e.ID)
	}
	return &AdvanceResult{Advanced: true, Completed: next == nil, Next: next}, nil
}

// Stop ends an active enrollment. A second stop is a no-op returning false.
func (s *Service) Stop(ctx context.Context, enrollmentID string, reason domain.StopReason) (bool, error) {
	if !reason.Valid() {
		return false, ErrInvalidStopReason
	}
	ok, err := s.repo.Stop(ctx, enrollmentID, reason, s.now())
	if err != nil {
		return false, fmt.Errorf("stop enrollment: %w", err)
	}
	if ok {
		logger.Info("enrollment stopped", "component", "enrollment", "enrollment_id", enrollmentID, "reason", reason)
	}
	return ok, nil
}

// StopForCustomer stops whatever enrollment the customer has active.
func (s *Service) StopForCustomer(ctx context.Context, customerID string, reason domain.StopReason) ([]string, error) {
	if !reason.Valid() {
		return nil, ErrInvalidStopReason
	}
	ids, err := s.repo.StopActiveForCustomer(ctx, customerID, reason, s.now())
	if err != nil {
		return nil, fmt.Errorf("stop customer enrollments: %w", err)
	}
	if len(ids) > 0 {
		logger.Info("customer enrollments stopped", "component", "enrollment", "customer_id", customerID, "reason", reason, "count", len(ids))
	}
	return ids, nil
}

// StopForCampaign stops every active enrollment of a campaign, used when the
// owner pauses or deletes it.
func (s *Service) StopForCampaign(ctx context.Context, campaignID string, reason domain.StopReason) ([]string, error) {
	if reason != domain.StopCampaignPaused && reason != domain.StopCampaignDeleted && reason != domain.StopOwnerStopped {
		return nil, ErrInvalidStopReason
	}
	ids, err := s.repo.StopActiveForCampaign(ctx, campaignID, reason, s.now())
	if err != nil {
		return nil, fmt.Errorf("stop campaign enrollments: %w", err)
	}
	logger.Info("campaign enrollments stopped", "component", "enrollment", "campaign_id", campaignID, "reason", reason, "count", len(ids))
	return ids, nil
}
