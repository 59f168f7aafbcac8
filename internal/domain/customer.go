package domain

import "time"

// SMSConsent is the customer's SMS permission state.
type SMSConsent string

const (
	SMSConsentUnknown SMSConsent = "unknown"
	SMSConsentGranted SMSConsent = "granted"
	SMSConsentRevoked SMSConsent = "revoked"
)

// Customer is the recipient of review outreach.
type Customer struct {
	ID          string     `json:"id" db:"id"`
	BusinessID  string     `json:"business_id" db:"business_id"`
	FirstName   string     `json:"first_name" db:"first_name"`
	LastName    string     `json:"last_name" db:"last_name"`
	Email       string     `json:"email" db:"email"`
	Phone       string     `json:"phone" db:"phone"`
	EmailOptOut bool       `json:"email_opt_out" db:"email_opt_out"`
	SMSConsent  SMSConsent `json:"sms_consent" db:"sms_consent"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Address returns the customer's address for the channel.
func (c *Customer) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return ""
}

// CanReceive reports whether a message on ch may be sent to the customer.
// SMS requires explicit consent.
func (c *Customer) CanReceive(ch Channel) bool {
	if c.Address(ch) == "" {
		return false
	}
	switch ch {
	case ChannelEmail:
		return !c.EmailOptOut
	case ChannelSMS:
		return c.SMSConsent == SMSConsentGranted
	}
	return false
}
