package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/sending"
	"github.com/ignite/reviewloop/internal/service/delivery"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// TaskRetries is the retry worker's task name.
const TaskRetries = "retries"

// RetryWorker replays failed dispatches from their stored send log.
type RetryWorker struct {
	deps  DispatchDeps
	cfg   Config
	batch *Batch[domain.RetryItem]
	now   func() time.Time
}

// NewRetryWorker creates the retry worker.
func NewRetryWorker(deps DispatchDeps, cfg Config) *RetryWorker {
	w := &RetryWorker{deps: deps, cfg: cfg.withDefaults(), now: time.Now}
	q := QueueFuncs[domain.RetryItem]{
		RecoverFn: deps.Retries.RecoverStaleRetries,
		ClaimFn:   deps.Retries.ClaimDueRetries,
	}
	w.batch = NewBatch[domain.RetryItem](TaskRetries, q, w.retry, w.cfg.batch()).WithRecoveryLock(deps.Locks)
	return w
}

// Name implements Task.
func (w *RetryWorker) Name() string { return TaskRetries }

// RunOnce implements Task.
func (w *RetryWorker) RunOnce(ctx context.Context) Summary {
	return w.batch.RunOnce(ctx)
}

func (w *RetryWorker) retry(ctx context.Context, item domain.RetryItem) error {
	d := w.deps

	sl, err := d.SendLogs.GetSendLog(ctx, item.SendLogID)
	if errors.Is(err, delivery.ErrUnknownMessage) {
		return d.Retries.AbandonRetry(ctx, item.ID, "send log missing")
	}
	if err != nil {
		return fmt.Errorf("load send log: %w", err)
	}
	if sl.Status != domain.SendPending {
		// Resolved through another path (a recovered claim or a late
		// provider callback). Nothing left to send, but the touch slot and
		// the enrollment still have to move on.
		return w.settle(ctx, item, sl)
	}

	e, err := d.Enrollments.Get(ctx, sl.EnrollmentID)
	if err != nil && !errors.Is(err, enrollment.ErrNotFound) {
		return fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil || !e.IsActive() || e.CurrentTouch != sl.TouchNumber {
		return w.giveUp(ctx, item, sl, "enrollment not active", false)
	}

	customer, err := d.Directory.GetCustomer(ctx, sl.CustomerID)
	if err != nil && !errors.Is(err, enrollment.ErrCustomerNotFound) {
		return fmt.Errorf("load customer: %w", err)
	}
	if customer == nil || !customer.CanReceive(sl.Channel) {
		return w.giveUp(ctx, item, sl, "channel not deliverable", true)
	}

	res, sendErr := d.Sender.Send(ctx, messageFor(sl))
	if sendErr == nil {
		if err := d.SendLogs.MarkSendLogSent(ctx, sl.ID, res.ProviderMessageID, res.SentAt); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		if err := d.Retries.CompleteRetry(ctx, item.ID); err != nil {
			return fmt.Errorf("complete retry: %w", err)
		}
		if sl.TouchID != "" {
			if err := d.Touches.SetTouchStatus(ctx, sl.TouchID, domain.TouchSent); err != nil {
				return fmt.Errorf("mark touch sent: %w", err)
			}
		}
		if _, err := d.Enrollments.Advance(ctx, sl.EnrollmentID, sl.TouchNumber); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		return nil
	}

	if sending.IsPermanent(sendErr) {
		if err := w.giveUp(ctx, item, sl, sendErr.Error(), true); err != nil {
			return err
		}
		return fmt.Errorf("send rejected: %w", sendErr)
	}

	attempt := item.AttemptCount + 1
	next := w.now().Add(w.cfg.RetryBackoff * time.Duration(attempt+1))
	status, err := d.Retries.FailRetryAttempt(ctx, item.ID, sendErr.Error(), w.cfg.RetryMaxAttempts, next)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if status == domain.RetryFailed {
		logger.Warn("retry exhausted", "task", TaskRetries, "retry_id", item.ID, "send_log_id", sl.ID, "attempts", attempt)
		if err := d.SendLogs.FailSendLog(ctx, sl.ID, sendErr.Error()); err != nil {
			return fmt.Errorf("fail send log: %w", err)
		}
		if _, err := d.Enrollments.Advance(ctx, sl.EnrollmentID, sl.TouchNumber); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}
	return fmt.Errorf("retry %d failed: %w", attempt, sendErr)
}

// settle closes an item whose send log left pending without this worker.
// Advance is conditional, so a stopped or already advanced enrollment is
// left alone.
func (w *RetryWorker) settle(ctx context.Context, item domain.RetryItem, sl *domain.SendLog) error {
	d := w.deps
	touchStatus := domain.TouchSent
	if sl.Status.IsTerminal() {
		touchStatus = domain.TouchFailed
		if err := d.Retries.AbandonRetry(ctx, item.ID, "send log already "+string(sl.Status)); err != nil {
			return fmt.Errorf("abandon retry: %w", err)
		}
	} else if err := d.Retries.CompleteRetry(ctx, item.ID); err != nil {
		return fmt.Errorf("complete retry: %w", err)
	}
	if sl.TouchID != "" {
		if err := d.Touches.SetTouchStatus(ctx, sl.TouchID, touchStatus); err != nil {
			return fmt.Errorf("set touch status: %w", err)
		}
	}
	if _, err := d.Enrollments.Advance(ctx, sl.EnrollmentID, sl.TouchNumber); err != nil && !errors.Is(err, enrollment.ErrNotFound) {
		return fmt.Errorf("advance: %w", err)
	}
	return nil
}

// giveUp fails the item and its send log. When advance is set the
// enrollment moves past the touch.
func (w *RetryWorker) giveUp(ctx context.Context, item domain.RetryItem, sl *domain.SendLog, reason string, advance bool) error {
	d := w.deps
	if err := d.Retries.AbandonRetry(ctx, item.ID, reason); err != nil {
		return fmt.Errorf("abandon retry: %w", err)
	}
	if err := d.SendLogs.FailSendLog(ctx, sl.ID, reason); err != nil {
		return fmt.Errorf("fail send log: %w", err)
	}
	if !advance {
		return nil
	}
	_, err := d.Enrollments.Advance(ctx, sl.EnrollmentID, sl.TouchNumber)
	return err
}
