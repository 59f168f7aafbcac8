package domain

import "time"

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentStopped   EnrollmentStatus = "stopped"
)

// StopReason records why an enrollment left the active state early.
type StopReason string

const (
	StopReviewClicked     StopReason = "review_clicked"
	StopFeedbackSubmitted StopReason = "feedback_submitted"
	StopOptedOutSMS       StopReason = "opted_out_sms"
	StopOptedOutEmail     StopReason = "opted_out_email"
	StopOwnerStopped      StopReason = "owner_stopped"
	StopCampaignPaused    StopReason = "campaign_paused"
	StopCampaignDeleted   StopReason = "campaign_deleted"
	StopRepeatJob         StopReason = "repeat_job"
)

// Valid reports whether r belongs to the fixed stop-reason vocabulary.
func (r StopReason) Valid() bool {
	switch r {
	case StopReviewClicked, StopFeedbackSubmitted, StopOptedOutSMS, StopOptedOutEmail,
		StopOwnerStopped, StopCampaignPaused, StopCampaignDeleted, StopRepeatJob:
		return true
	}
	return false
}

// OptOutStopReason maps a channel to its opt-out stop reason.
func OptOutStopReason(ch Channel) StopReason {
	if ch == ChannelSMS {
		return StopOptedOutSMS
	}
	return StopOptedOutEmail
}

// Enrollment is one customer's pass through one campaign.
type Enrollment struct {
	ID           string           `json:"id" db:"id"`
	CampaignID   string           `json:"campaign_id" db:"campaign_id"`
	CustomerID   string           `json:"customer_id" db:"customer_id"`
	BusinessID   string           `json:"business_id" db:"business_id"`
	JobID        string           `json:"job_id" db:"job_id"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	CurrentTouch int              `json:"current_touch" db:"current_touch"`
	StopReason   StopReason       `json:"stop_reason,omitempty" db:"stop_reason"`
	EnrolledAt   time.Time        `json:"enrolled_at" db:"enrolled_at"`
	StoppedAt    *time.Time       `json:"stopped_at,omitempty" db:"stopped_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// IsActive returns true while touches may still be sent.
func (e *Enrollment) IsActive() bool {
	return e.Status == EnrollmentActive
}

// CountsForCooldown reports whether this enrollment should block a new one
// inside the cooldown window. Active enrollments go through conflict handling
// instead, and enrollments superseded by a repeat job roll into the new one.
func (e *Enrollment) CountsForCooldown() bool {
	if e.Status == EnrollmentActive {
		return false
	}
	return !(e.Status == EnrollmentStopped && e.StopReason == StopRepeatJob)
}

// TouchStatus is the state of a scheduled touch slot.
type TouchStatus string

const (
	TouchPending    TouchStatus = "pending"
	TouchProcessing TouchStatus = "processing"
	TouchSent       TouchStatus = "sent"
	TouchSkipped    TouchStatus = "skipped"
	TouchFailed     TouchStatus = "failed"
	TouchCancelled  TouchStatus = "cancelled"
)

// ScheduledTouch is the claimable slot for the next touch of an enrollment.
type ScheduledTouch struct {
	ID           string      `json:"id" db:"id"`
	EnrollmentID string      `json:"enrollment_id" db:"enrollment_id"`
	TouchNumber  int         `json:"touch_number" db:"touch_number"`
	Channel      Channel     `json:"channel" db:"channel"`
	ScheduledAt  time.Time   `json:"scheduled_at" db:"scheduled_at"`
	Status       TouchStatus `json:"status" db:"status"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
}
