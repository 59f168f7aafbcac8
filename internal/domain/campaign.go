package domain

import (
	"time"
)

// CatchAllServiceType marks a campaign that applies to any service type the
// business has no dedicated campaign for.
const CatchAllServiceType = "*"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// Channel is the delivery medium of a touch.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Touch is one step of a campaign sequence.
type Touch struct {
	TouchNumber int     `json:"touch_number"`
	Channel     Channel `json:"channel"`
	DelayHours  int     `json:"delay_hours"`
	Subject     string  `json:"subject,omitempty"`
	Body        string  `json:"body"`
}

// Delay returns the touch delay as a duration.
func (t Touch) Delay() time.Duration {
	return time.Duration(t.DelayHours) * time.Hour
}

// Campaign is a business's ordered sequence of touches for a service type.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	BusinessID  string         `json:"business_id" db:"business_id"`
	Name        string         `json:"name" db:"name"`
	ServiceType string         `json:"service_type" db:"service_type"`
	Status      CampaignStatus `json:"status" db:"status"`
	Touches     []Touch        `json:"touches" db:"touches"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// IsActive returns true if the campaign accepts new enrollments.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive
}

// IsCatchAll returns true if the campaign matches any service type.
func (c *Campaign) IsCatchAll() bool {
	return c.ServiceType == CatchAllServiceType
}

// Touch returns the touch with the given 1-based number.
func (c *Campaign) Touch(n int) (Touch, bool) {
	for _, t := range c.Touches {
		if t.TouchNumber == n {
			return t, true
		}
	}
	return Touch{}, false
}

// Job is a completed unit of work that can trigger an enrollment.
type Job struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	CustomerID  string    `json:"customer_id"`
	ServiceType string    `json:"service_type"`
	CompletedAt time.Time `json:"completed_at"`
}
