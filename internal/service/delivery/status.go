package delivery

import (
	"strings"

	"github.com/ignite/reviewloop/internal/domain"
)

// MapEmailEvent converts an email event into a send status. A click implies
// the message was opened.
func MapEmailEvent(t EmailEventType) (domain.SendStatus, bool) {
	switch t {
	case EmailDelivered:
		return domain.SendDelivered, true
	case EmailBounced:
		return domain.SendBounced, true
	case EmailComplained:
		return domain.SendComplained, true
	case EmailOpened, EmailClicked:
		return domain.SendOpened, true
	}
	return "", false
}

// MapSMSStatus converts a provider SMS status into a send status.
func MapSMSStatus(status string) (domain.SendStatus, bool) {
	switch strings.ToLower(status) {
	case "queued", "accepted", "scheduled", "sending":
		return domain.SendPending, true
	case "sent":
		return domain.SendSent, true
	case "delivered":
		return domain.SendDelivered, true
	case "read":
		return domain.SendOpened, true
	case "undelivered", "failed", "canceled":
		return domain.SendFailed, true
	}
	return "", false
}

// ShouldApply reports whether next may replace current. Non-terminal
// statuses only move up in priority; a failure overrides anything
// non-terminal; a terminal status is final.
func ShouldApply(current, next domain.SendStatus) bool {
	if current == next || current.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return next.Priority() > current.Priority()
}
