package domain

import "time"

// SendStatus is the delivery state of a dispatched message.
type SendStatus string

const (
	SendPending    SendStatus = "pending"
	SendSent       SendStatus = "sent"
	SendDelivered  SendStatus = "delivered"
	SendOpened     SendStatus = "opened"
	SendFailed     SendStatus = "failed"
	SendBounced    SendStatus = "bounced"
	SendComplained SendStatus = "complained"
)

// Priority orders the non-terminal statuses: pending < sent < delivered < opened.
// Terminal statuses return -1; they are handled as overrides.
func (s SendStatus) Priority() int {
	switch s {
	case SendPending:
		return 0
	case SendSent:
		return 1
	case SendDelivered:
		return 2
	case SendOpened:
		return 3
	}
	return -1
}

// IsTerminal returns true for failure outcomes.
func (s SendStatus) IsTerminal() bool {
	return s == SendFailed || s == SendBounced || s == SendComplained
}

// SendLog records one message actually handed to a provider.
type SendLog struct {
	ID                string     `json:"id" db:"id"`
	EnrollmentID      string     `json:"enrollment_id,omitempty" db:"enrollment_id"`
	TouchID           string     `json:"touch_id,omitempty" db:"touch_id"`
	TouchNumber       int        `json:"touch_number" db:"touch_number"`
	CustomerID        string     `json:"customer_id" db:"customer_id"`
	BusinessID        string     `json:"business_id" db:"business_id"`
	Channel           Channel    `json:"channel" db:"channel"`
	Recipient         string     `json:"recipient" db:"recipient"`
	Subject           string     `json:"subject,omitempty" db:"subject"`
	Body              string     `json:"body" db:"body"`
	Status            SendStatus `json:"status" db:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty" db:"provider_message_id"`
	LastError         string     `json:"last_error,omitempty" db:"last_error"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	SentAt            *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// RetryStatus is the state of a retry queue item.
type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryProcessing RetryStatus = "processing"
	RetrySucceeded  RetryStatus = "succeeded"
	RetryFailed     RetryStatus = "failed"
)

// RetryItem is a failed dispatch waiting for another attempt.
type RetryItem struct {
	ID            string      `json:"id" db:"id"`
	SendLogID     string      `json:"send_log_id" db:"send_log_id"`
	Status        RetryStatus `json:"status" db:"status"`
	AttemptCount  int         `json:"attempt_count" db:"attempt_count"`
	LastError     string      `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt time.Time   `json:"next_attempt_at" db:"next_attempt_at"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Rating is a customer's 1-5 score captured through the review link.
type Rating struct {
	ID           string    `json:"id" db:"id"`
	CustomerID   string    `json:"customer_id" db:"customer_id"`
	BusinessID   string    `json:"business_id" db:"business_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty" db:"enrollment_id"`
	Rating       int       `json:"rating" db:"rating"`
	Destination  string    `json:"destination,omitempty" db:"destination"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Feedback is private text left after a low rating.
type Feedback struct {
	ID           string    `json:"id" db:"id"`
	RatingID     string    `json:"rating_id" db:"rating_id"`
	CustomerID   string    `json:"customer_id" db:"customer_id"`
	BusinessID   string    `json:"business_id" db:"business_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty" db:"enrollment_id"`
	Message      string    `json:"message" db:"message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
