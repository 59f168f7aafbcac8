package domain

import "time"

// Cooldown bounds, in days.
const (
	DefaultCooldownDays = 30
	MinCooldownDays     = 7
	MaxCooldownDays     = 90
)

// BusinessSettings holds the per-business knobs the engine reads.
type BusinessSettings struct {
	BusinessID   string `json:"business_id" db:"business_id"`
	BusinessName string `json:"business_name" db:"business_name"`
	CooldownDays int    `json:"cooldown_days" db:"cooldown_days"`
	// TouchDelayOverrides maps a service type to a touch-1 delay in hours.
	TouchDelayOverrides map[string]int `json:"touch_delay_overrides" db:"touch_delay_overrides"`
	// ReviewLinks maps a review destination (e.g. "google") to its public URL.
	ReviewLinks              map[string]string `json:"review_links" db:"review_links"`
	DefaultReviewDestination string            `json:"default_review_destination" db:"default_review_destination"`
}

// DefaultBusinessSettings returns the settings used when a business has none stored.
func DefaultBusinessSettings(businessID string) BusinessSettings {
	return BusinessSettings{
		BusinessID:   businessID,
		CooldownDays: DefaultCooldownDays,
	}
}

// Cooldown returns the cooldown window clamped to [MinCooldownDays, MaxCooldownDays].
// Zero means unset and yields the default.
func (s BusinessSettings) Cooldown() time.Duration {
	days := s.CooldownDays
	switch {
	case days == 0:
		days = DefaultCooldownDays
	case days < MinCooldownDays:
		days = MinCooldownDays
	case days > MaxCooldownDays:
		days = MaxCooldownDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// FirstTouchDelay returns the per-service override for the touch-1 delay.
func (s BusinessSettings) FirstTouchDelay(serviceType string) (time.Duration, bool) {
	hours, ok := s.TouchDelayOverrides[serviceType]
	if !ok || hours < 0 {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}

// ReviewURL resolves the public review link for destination, falling back to
// the default destination.
func (s BusinessSettings) ReviewURL(destination string) (string, bool) {
	if u, ok := s.ReviewLinks[destination]; ok && u != "" {
		return u, true
	}
	if u, ok := s.ReviewLinks[s.DefaultReviewDestination]; ok && u != "" {
		return u, true
	}
	return "", false
}
