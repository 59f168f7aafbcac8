package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/distlock"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/sending"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/token"
)

// TaskTouches is the touch scheduler's task name.
const TaskTouches = "touches"

// DispatchDeps are the collaborators shared by the touch scheduler and the
// retry worker.
type DispatchDeps struct {
	Touches     TouchQueue
	Directory   Directory
	SendLogs    SendLogWriter
	Retries     RetryQueue
	Enrollments Enrollments
	Sender      sending.Sender
	Renderer    sending.Renderer
	Codec       *token.Codec
	Links       Links
	Locks       distlock.Factory // optional
}

// Config tunes both queues.
type Config struct {
	BatchSize        int
	Concurrency      int
	StaleAfter       time.Duration
	RetryMaxAttempts int
	RetryBackoff     time.Duration
}

// DefaultRetryMaxAttempts is the number of failed retry attempts after which
// a retry item is terminal.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBackoff is the base delay between retry attempts.
const DefaultRetryBackoff = 5 * time.Minute

func (c Config) batch() BatchConfig {
	return BatchConfig{BatchSize: c.BatchSize, Concurrency: c.Concurrency, StaleAfter: c.StaleAfter}
}

func (c Config) withDefaults() Config {
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// TouchScheduler claims due touches and dispatches them.
type TouchScheduler struct {
	deps  DispatchDeps
	cfg   Config
	batch *Batch[domain.ScheduledTouch]
	now   func() time.Time
}

// NewTouchScheduler creates the touch scheduler.
func NewTouchScheduler(deps DispatchDeps, cfg Config) *TouchScheduler {
	s := &TouchScheduler{deps: deps, cfg: cfg.withDefaults(), now: time.Now}
	q := QueueFuncs[domain.ScheduledTouch]{
		RecoverFn: deps.Touches.RecoverStaleTouches,
		ClaimFn:   deps.Touches.ClaimDueTouches,
	}
	s.batch = NewBatch[domain.ScheduledTouch](TaskTouches, q, s.dispatch, s.cfg.batch()).WithRecoveryLock(deps.Locks)
	return s
}

// Name implements Task.
func (s *TouchScheduler) Name() string { return TaskTouches }

// RunOnce implements Task.
func (s *TouchScheduler) RunOnce(ctx context.Context) Summary {
	return s.batch.RunOnce(ctx)
}

// dispatch sends one claimed touch. Touches whose enrollment has stopped are
// cancelled; touches the customer cannot receive are skipped and the
// enrollment moves on.
func (s *TouchScheduler) dispatch(ctx context.Context, t domain.ScheduledTouch) error {
	d := s.deps

	e, err := d.Enrollments.Get(ctx, t.EnrollmentID)
	if errors.Is(err, enrollment.ErrNotFound) {
		return d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchCancelled)
	}
	if err != nil {
		return fmt.Errorf("load enrollment: %w", err)
	}
	if !e.IsActive() || e.CurrentTouch != t.TouchNumber {
		return d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchCancelled)
	}

	campaign, err := d.Directory.GetCampaign(ctx, e.CampaignID)
	if errors.Is(err, enrollment.ErrCampaignNotFound) {
		return d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchCancelled)
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	def, ok := campaign.Touch(t.TouchNumber)
	if !ok {
		return s.skip(ctx, t, e, "touch no longer defined")
	}

	customer, err := d.Directory.GetCustomer(ctx, e.CustomerID)
	if errors.Is(err, enrollment.ErrCustomerNotFound) {
		return d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchCancelled)
	}
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}
	if !customer.CanReceive(def.Channel) {
		return s.skip(ctx, t, e, "channel not deliverable")
	}

	settings, err := d.Directory.Settings(ctx, e.BusinessID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	tok, err := d.Codec.Issue(customer.ID, e.BusinessID, e.ID)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	subject, body, err := d.Renderer.Render(campaign.ID, def, sending.RenderData{
		FirstName:    customer.FirstName,
		LastName:     customer.LastName,
		BusinessName: settings.BusinessName,
		ReviewURL:    d.Links.Review(tok),
		OptOutURL:    d.Links.OptOut(tok, def.Channel),
		TouchNumber:  t.TouchNumber,
	})
	if err != nil {
		// A broken template will not fix itself on retry.
		logger.Error("touch render failed", "task", TaskTouches, "campaign_id", campaign.ID, "touch", t.TouchNumber, "error", err)
		return s.skip(ctx, t, e, "render failed")
	}

	now := s.now()
	sl := &domain.SendLog{
		ID:           uuid.New().String(),
		EnrollmentID: e.ID,
		TouchID:      t.ID,
		TouchNumber:  t.TouchNumber,
		CustomerID:   customer.ID,
		BusinessID:   e.BusinessID,
		Channel:      def.Channel,
		Recipient:    customer.Address(def.Channel),
		Subject:      subject,
		Body:         body,
		Status:       domain.SendPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.SendLogs.CreateSendLog(ctx, sl); err != nil {
		return fmt.Errorf("create send log: %w", err)
	}

	res, sendErr := d.Sender.Send(ctx, messageFor(sl))
	if sendErr != nil {
		return s.handleSendFailure(ctx, t, sl, sendErr)
	}

	if err := d.SendLogs.MarkSendLogSent(ctx, sl.ID, res.ProviderMessageID, res.SentAt); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchSent); err != nil {
		return fmt.Errorf("mark touch sent: %w", err)
	}
	if _, err := d.Enrollments.Advance(ctx, e.ID, t.TouchNumber); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	return nil
}

func (s *TouchScheduler) skip(ctx context.Context, t domain.ScheduledTouch, e *domain.Enrollment, why string) error {
	logger.Info("touch skipped", "task", TaskTouches, "enrollment_id", e.ID, "touch", t.TouchNumber, "reason", why)
	if err := s.deps.Touches.SetTouchStatus(ctx, t.ID, domain.TouchSkipped); err != nil {
		return err
	}
	_, err := s.deps.Enrollments.Advance(ctx, e.ID, t.TouchNumber)
	return err
}

// handleSendFailure parks a transient failure on the retry queue. Permanent
// rejections fail the send log and the enrollment moves past the touch.
func (s *TouchScheduler) handleSendFailure(ctx context.Context, t domain.ScheduledTouch, sl *domain.SendLog, sendErr error) error {
	d := s.deps
	if err := d.Touches.SetTouchStatus(ctx, t.ID, domain.TouchFailed); err != nil {
		return fmt.Errorf("mark touch failed: %w", err)
	}

	if sending.IsPermanent(sendErr) {
		if err := d.SendLogs.FailSendLog(ctx, sl.ID, sendErr.Error()); err != nil {
			return fmt.Errorf("fail send log: %w", err)
		}
		if _, err := d.Enrollments.Advance(ctx, sl.EnrollmentID, sl.TouchNumber); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		return fmt.Errorf("send rejected: %w", sendErr)
	}

	if err := d.SendLogs.RecordSendError(ctx, sl.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("record send error: %w", err)
	}
	now := s.now()
	item := &domain.RetryItem{
		ID:            uuid.New().String(),
		SendLogID:     sl.ID,
		Status:        domain.RetryPending,
		AttemptCount:  0,
		LastError:     sendErr.Error(),
		NextAttemptAt: now.Add(s.cfg.RetryBackoff),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.Retries.EnqueueRetry(ctx, item); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return fmt.Errorf("send failed, retry queued: %w", sendErr)
}

func messageFor(sl *domain.SendLog) *sending.Message {
	return &sending.Message{
		SendLogID: sl.ID,
		Channel:   sl.Channel,
		To:        sl.Recipient,
		Subject:   sl.Subject,
		Body:      sl.Body,
	}
}
