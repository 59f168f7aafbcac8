package delivery

import (
	"strings"
	"time"
)

// Event is a normalized provider callback. Concrete types: EmailEvent,
// SMSStatusEvent, InboundSMSEvent.
type Event interface {
	eventKind() string
}

// EmailEventType is a normalized email provider event.
type EmailEventType string

const (
	EmailDelivered  EmailEventType = "delivered"
	EmailBounced    EmailEventType = "bounced"
	EmailComplained EmailEventType = "complained"
	EmailOpened     EmailEventType = "opened"
	EmailClicked    EmailEventType = "clicked"
)

// EmailEvent is a status callback for an email.
type EmailEvent struct {
	Provider  string
	Type      EmailEventType
	MessageID string
	// SendLogID is the correlation tag attached at send time, when the
	// provider echoes it back.
	SendLogID  string
	Recipient  string
	URL        string
	OccurredAt time.Time
}

// SMSStatusEvent is a delivery status callback for an SMS.
type SMSStatusEvent struct {
	MessageSID string
	Status     string
	ErrorCode  string
}

// InboundSMSEvent is a reply sent by a customer.
type InboundSMSEvent struct {
	From string
	To   string
	Body string
}

func (EmailEvent) eventKind() string      { return "email" }
func (SMSStatusEvent) eventKind() string  { return "sms_status" }
func (InboundSMSEvent) eventKind() string { return "sms_inbound" }

// Carrier-standard keywords.
var (
	optOutKeywords = map[string]bool{
		"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true,
		"END": true, "QUIT": true, "REVOKE": true, "OPTOUT": true,
	}
	optInKeywords = map[string]bool{
		"START": true, "UNSTOP": true, "YES": true,
	}
)

// IsOptOut reports whether an inbound SMS body is an opt-out keyword.
func IsOptOut(body string) bool {
	return optOutKeywords[normalizeKeyword(body)]
}

// IsOptIn reports whether an inbound SMS body is an opt-in keyword.
func IsOptIn(body string) bool {
	return optInKeywords[normalizeKeyword(body)]
}

func normalizeKeyword(body string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(body), ".!"))
}

// smsUnsubscribedError is the provider error for sending to a number that
// replied STOP.
const smsUnsubscribedError = "21610"
