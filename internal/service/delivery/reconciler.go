package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// casAttempts bounds the compare-and-swap loop when callbacks race.
const casAttempts = 3

// Result describes what a callback changed.
type Result struct {
	SendLogID string            `json:"send_log_id,omitempty"`
	Status    domain.SendStatus `json:"status,omitempty"`
	Applied   bool              `json:"applied"`
	Stopped   []string          `json:"stopped,omitempty"`
	Customers int               `json:"customers,omitempty"`
}

// Reconciler applies provider events to send logs, customers, and
// enrollments. It is safe for concurrent use.
type Reconciler struct {
	logs        SendLogStore
	contacts    ContactStore
	enrollments EnrollmentStopper
	now         func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(logs SendLogStore, contacts ContactStore, enrollments EnrollmentStopper) *Reconciler {
	return &Reconciler{logs: logs, contacts: contacts, enrollments: enrollments, now: time.Now}
}

// Apply dispatches on the event type.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (*Result, error) {
	switch e := ev.(type) {
	case EmailEvent:
		return r.applyEmail(ctx, e)
	case SMSStatusEvent:
		return r.applySMSStatus(ctx, e)
	case InboundSMSEvent:
		return r.applyInbound(ctx, e)
	}
	return nil, ErrUnknownEvent
}

func (r *Reconciler) applyEmail(ctx context.Context, ev EmailEvent) (*Result, error) {
	status, ok := MapEmailEvent(ev.Type)
	if !ok {
		return nil, fmt.Errorf("%w: email %q", ErrUnknownEvent, ev.Type)
	}

	log, err := r.findEmailLog(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			logger.Warn("email callback for unknown message",
				"component", "reconciler", "provider", ev.Provider, "event", ev.Type, "message_id", ev.MessageID)
		}
		return nil, err
	}

	res := &Result{SendLogID: log.ID}
	res.Applied, res.Status, err = r.advanceStatus(ctx, log, status)
	if err != nil {
		return nil, err
	}

	switch ev.Type {
	case EmailBounced, EmailComplained:
		if err := r.contacts.SetEmailOptOut(ctx, log.CustomerID, true); err != nil {
			return nil, fmt.Errorf("opt out email: %w", err)
		}
		res.Stopped, err = r.enrollments.StopForCustomer(ctx, log.CustomerID, domain.StopOptedOutEmail)
		if err != nil {
			return nil, err
		}
		logger.Info("email address opted out",
			"component", "reconciler", "customer_id", log.CustomerID, "event", ev.Type)
	case EmailClicked:
		if err := r.recordReview(ctx, log, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Reconciler) findEmailLog(ctx context.Context, ev EmailEvent) (*domain.SendLog, error) {
	if ev.SendLogID != "" {
		log, err := r.logs.GetSendLog(ctx, ev.SendLogID)
		if err == nil {
			return log, nil
		}
		if !errors.Is(err, ErrUnknownMessage) {
			return nil, err
		}
	}
	if ev.MessageID == "" {
		return nil, ErrUnknownMessage
	}
	return r.logs.FindSendLogByProviderID(ctx, domain.ChannelEmail, ev.MessageID)
}

// recordReview stamps the send log and stops its enrollment as reviewed.
func (r *Reconciler) recordReview(ctx context.Context, log *domain.SendLog, res *Result) error {
	if _, err := r.logs.MarkReviewed(ctx, log.ID, r.now()); err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	if log.EnrollmentID == "" {
		return nil
	}
	stopped, err := r.enrollments.Stop(ctx, log.EnrollmentID, domain.StopReviewClicked)
	if err != nil {
		return err
	}
	if stopped {
		res.Stopped = append(res.Stopped, log.EnrollmentID)
	}
	return nil
}

func (r *Reconciler) applySMSStatus(ctx context.Context, ev SMSStatusEvent) (*Result, error) {
	status, ok := MapSMSStatus(ev.Status)
	if !ok {
		logger.Debug("sms status ignored", "component", "reconciler", "status", ev.Status, "sid", ev.MessageSID)
		return &Result{}, nil
	}

	log, err := r.logs.FindSendLogByProviderID(ctx, domain.ChannelSMS, ev.MessageSID)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			logger.Warn("sms callback for unknown message", "component", "reconciler", "sid", ev.MessageSID, "status", ev.Status)
		}
		return nil, err
	}

	res := &Result{SendLogID: log.ID}
	res.Applied, res.Status, err = r.advanceStatus(ctx, log, status)
	if err != nil {
		return nil, err
	}

	if ev.ErrorCode == smsUnsubscribedError {
		if err := r.contacts.SetSMSConsent(ctx, log.CustomerID, domain.SMSConsentRevoked); err != nil {
			return nil, fmt.Errorf("revoke sms consent: %w", err)
		}
		res.Stopped, err = r.enrollments.StopForCustomer(ctx, log.CustomerID, domain.StopOptedOutSMS)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Reconciler) applyInbound(ctx context.Context, ev InboundSMSEvent) (*Result, error) {
	var consent domain.SMSConsent
	switch {
	case IsOptOut(ev.Body):
		consent = domain.SMSConsentRevoked
	case IsOptIn(ev.Body):
		consent = domain.SMSConsentGranted
	default:
		return &Result{}, nil
	}

	ids, err := r.contacts.CustomerIDsByPhone(ctx, ev.From)
	if err != nil {
		return nil, fmt.Errorf("lookup phone: %w", err)
	}
	res := &Result{Customers: len(ids), Applied: len(ids) > 0}
	for _, id := range ids {
		if err := r.contacts.SetSMSConsent(ctx, id, consent); err != nil {
			return nil, fmt.Errorf("set sms consent: %w", err)
		}
		if consent != domain.SMSConsentRevoked {
			continue
		}
		stopped, err := r.enrollments.StopForCustomer(ctx, id, domain.StopOptedOutSMS)
		if err != nil {
			return nil, err
		}
		res.Stopped = append(res.Stopped, stopped...)
	}
	logger.Info("sms keyword processed",
		"component", "reconciler", "from", ev.From, "consent", consent, "customers", len(ids))
	return res, nil
}

// advanceStatus moves log to next if the ordering allows it, retrying the
// compare-and-swap when a concurrent callback changed the row first.
func (r *Reconciler) advanceStatus(ctx context.Context, log *domain.SendLog, next domain.SendStatus) (bool, domain.SendStatus, error) {
	current := log.Status
	for i := 0; i < casAttempts; i++ {
		if !ShouldApply(current, next) {
			if current != next {
				logger.Info("send status downgrade ignored",
					"component", "reconciler", "send_log_id", log.ID, "current", current, "incoming", next)
			}
			return false, current, nil
		}
		ok, err := r.logs.CompareAndSetSendStatus(ctx, log.ID, current, next)
		if err != nil {
			return false, current, fmt.Errorf("update send status: %w", err)
		}
		if ok {
			return true, next, nil
		}
		fresh, err := r.logs.GetSendLog(ctx, log.ID)
		if err != nil {
			return false, current, err
		}
		current = fresh.Status
	}
	return false, current, fmt.Errorf("send log %s: status kept changing", log.ID)
}
