package enrollment

import (
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// Action is the resolver's verdict for a completed job.
type Action string

const (
	ActionEnroll   Action = "enroll"
	ActionSkip     Action = "skip"
	ActionConflict Action = "conflict"
)

// SkipReason explains a skip. Skips are outcomes, not errors.
type SkipReason string

const (
	SkipNoCampaign      SkipReason = "no_matching_campaign"
	SkipNoTouches       SkipReason = "campaign_has_no_touches"
	SkipCooldown        SkipReason = "cooldown_active"
	SkipAlreadyEnrolled SkipReason = "already_enrolled"
)

// ResolveInput is everything Resolve looks at.
type ResolveInput struct {
	Job       domain.Job
	Campaigns []domain.Campaign
	History   []domain.Enrollment
	Settings  domain.BusinessSettings
	Override  bool // manual enrollment bypasses cooldown
	Now       time.Time
}

// Decision is the outcome of Resolve.
type Decision struct {
	Action       Action
	Reason       SkipReason
	Campaign     *domain.Campaign
	Existing     *domain.Enrollment // set on ActionConflict
	FirstTouch   domain.Touch
	FirstTouchAt time.Time
}

// MatchCampaign picks the active campaign for a service type: an exact match
// first, then the catch-all. Returns nil when neither exists.
func MatchCampaign(campaigns []domain.Campaign, serviceType string) *domain.Campaign {
	var catchAll *domain.Campaign
	for i := range campaigns {
		c := &campaigns[i]
		if !c.IsActive() {
			continue
		}
		if c.ServiceType == serviceType {
			return c
		}
		if c.IsCatchAll() && catchAll == nil {
			catchAll = c
		}
	}
	return catchAll
}

// Resolve decides whether the job's customer should be enrolled.
//
// An existing active enrollment yields ActionConflict; the caller supersedes
// it (the most recent job wins). Cooldown only counts finished enrollments
// and never those superseded by a repeat job.
func Resolve(in ResolveInput) Decision {
	campaign := MatchCampaign(in.Campaigns, in.Job.ServiceType)
	if campaign == nil {
		return Decision{Action: ActionSkip, Reason: SkipNoCampaign}
	}
	first, ok := campaign.Touch(1)
	if !ok {
		return Decision{Action: ActionSkip, Reason: SkipNoTouches, Campaign: campaign}
	}

	var active *domain.Enrollment
	for i := range in.History {
		if in.History[i].IsActive() {
			active = &in.History[i]
			break
		}
	}
	if active != nil && in.Job.ID != "" && active.JobID == in.Job.ID {
		// Replayed job event.
		return Decision{Action: ActionSkip, Reason: SkipAlreadyEnrolled, Campaign: campaign, Existing: active}
	}

	if !in.Override {
		window := in.Settings.Cooldown()
		for i := range in.History {
			e := &in.History[i]
			if e.CountsForCooldown() && in.Now.Sub(e.EnrolledAt) < window {
				return Decision{Action: ActionSkip, Reason: SkipCooldown, Campaign: campaign}
			}
		}
	}

	delay := first.Delay()
	if d, ok := in.Settings.FirstTouchDelay(in.Job.ServiceType); ok {
		delay = d
	}

	d := Decision{
		Action:       ActionEnroll,
		Campaign:     campaign,
		FirstTouch:   first,
		FirstTouchAt: in.Now.Add(delay),
	}
	if active != nil {
		d.Action = ActionConflict
		d.Existing = active
	}
	return d
}
