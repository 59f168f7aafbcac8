package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/delivery"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/service/feedback"
)

// Store holds all review-engine state in maps.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	customers   map[string]domain.Customer
	campaigns   map[string]domain.Campaign
	settings    map[string]domain.BusinessSettings
	enrollments map[string]domain.Enrollment
	touches     map[string]domain.ScheduledTouch
	sendLogs    map[string]domain.SendLog
	retries     map[string]domain.RetryItem
	ratings     []domain.Rating
	feedback    []domain.Feedback

	// insertion order, for deterministic listing
	enrollmentOrder []string
	touchOrder      []string
	sendLogOrder    []string
	retryOrder      []string
}

// New creates an empty store on the wall clock.
func New() *Store {
	return &Store{
		now:         time.Now,
		customers:   make(map[string]domain.Customer),
		campaigns:   make(map[string]domain.Campaign),
		settings:    make(map[string]domain.BusinessSettings),
		enrollments: make(map[string]domain.Enrollment),
		touches:     make(map[string]domain.ScheduledTouch),
		sendLogs:    make(map[string]domain.SendLog),
		retries:     make(map[string]domain.RetryItem),
	}
}

// SetClock replaces the clock used for due checks and timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// ---- seeding ----

// PutCustomer inserts or replaces a customer.
func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.SMSConsent == "" {
		c.SMSConsent = domain.SMSConsentUnknown
	}
	s.customers[c.ID] = c
}

// UpsertCustomer stores contact details from a job source. Existing opt-out
// and consent state is kept.
func (s *Store) UpsertCustomer(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.customers[c.ID]; ok {
		c.EmailOptOut = prev.EmailOptOut
		c.SMSConsent = prev.SMSConsent
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
		if c.SMSConsent == "" {
			c.SMSConsent = domain.SMSConsentUnknown
		}
	}
	c.UpdatedAt = now
	s.customers[c.ID] = *c
	return nil
}

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Touches = append([]domain.Touch(nil), c.Touches...)
	s.campaigns[c.ID] = c
}

// PutSettings inserts or replaces a business's settings.
func (s *Store) PutSettings(bs domain.BusinessSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[bs.BusinessID] = bs
}

// ---- campaigns, customers, settings ----

// ActiveCampaigns returns the business's active campaigns ordered by ID.
func (s *Store) ActiveCampaigns(_ context.Context, businessID string) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.BusinessID == businessID && c.IsActive() {
			c.Touches = append([]domain.Touch(nil), c.Touches...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCampaign returns a campaign in any status.
func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, enrollment.ErrCampaignNotFound
	}
	c.Touches = append([]domain.Touch(nil), c.Touches...)
	return &c, nil
}

// SetCampaignStatus changes a campaign's status.
func (s *Store) SetCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return enrollment.ErrCampaignNotFound
	}
	c.Status = status
	c.UpdatedAt = s.now()
	s.campaigns[id] = c
	return nil
}

// Settings returns stored settings or the defaults.
func (s *Store) Settings(_ context.Context, businessID string) (domain.BusinessSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bs, ok := s.settings[businessID]; ok {
		return bs, nil
	}
	return domain.DefaultBusinessSettings(businessID), nil
}

// GetCustomer returns a customer.
func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, enrollment.ErrCustomerNotFound
	}
	return &c, nil
}

// SetEmailOptOut records an email opt-out or opt-in.
func (s *Store) SetEmailOptOut(_ context.Context, customerID string, optOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return enrollment.ErrCustomerNotFound
	}
	c.EmailOptOut = optOut
	c.UpdatedAt = s.now()
	s.customers[customerID] = c
	return nil
}

// SetSMSConsent records the customer's SMS consent state.
func (s *Store) SetSMSConsent(_ context.Context, customerID string, consent domain.SMSConsent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return enrollment.ErrCustomerNotFound
	}
	c.SMSConsent = consent
	c.UpdatedAt = s.now()
	s.customers[customerID] = c
	return nil
}

// CustomerIDsByPhone returns every customer with the given phone number.
func (s *Store) CustomerIDsByPhone(_ context.Context, phone string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, c := range s.customers {
		if phone != "" && c.Phone == phone {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- enrollments ----

// Get returns an enrollment.
func (s *Store) Get(_ context.Context, id string) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	return &e, nil
}

// ListForCustomer returns the customer's enrollments since the given time
// plus any still active, newest first.
func (s *Store) ListForCustomer(_ context.Context, customerID string, since time.Time) ([]domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Enrollment
	for _, id := range s.enrollmentOrder {
		e := s.enrollments[id]
		if e.CustomerID != customerID {
			continue
		}
		if e.IsActive() || !e.EnrolledAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

// Create supersedes the customer's active enrollments and inserts e with its
// first slot.
func (s *Store) Create(_ context.Context, e *domain.Enrollment, first *domain.ScheduledTouch) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[e.ID]; ok {
		return nil, enrollment.ErrDuplicateActive
	}
	superseded := s.stopWhere(func(x domain.Enrollment) bool {
		return x.CustomerID == e.CustomerID
	}, domain.StopRepeatJob, e.EnrolledAt)

	s.enrollments[e.ID] = *e
	s.enrollmentOrder = append(s.enrollmentOrder, e.ID)
	if first != nil {
		s.insertTouch(*first)
	}
	return superseded, nil
}

// Advance moves an active enrollment off fromTouch.
func (s *Store) Advance(_ context.Context, id string, fromTouch int, next *domain.ScheduledTouch, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return false, enrollment.ErrNotFound
	}
	if !e.IsActive() || e.CurrentTouch != fromTouch {
		return false, nil
	}
	if next == nil {
		e.Status = domain.EnrollmentCompleted
		e.CompletedAt = &at
	} else {
		e.CurrentTouch = next.TouchNumber
		s.insertTouch(*next)
	}
	s.enrollments[id] = e
	return true, nil
}

// Stop stops an active enrollment and cancels its pending slots.
func (s *Store) Stop(_ context.Context, id string, reason domain.StopReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return false, enrollment.ErrNotFound
	}
	if !e.IsActive() {
		return false, nil
	}
	s.stop(&e, reason, at)
	return true, nil
}

// StopActiveForCustomer stops the customer's active enrollments.
func (s *Store) StopActiveForCustomer(_ context.Context, customerID string, reason domain.StopReason, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopWhere(func(e domain.Enrollment) bool { return e.CustomerID == customerID }, reason, at), nil
}

// StopActiveForCampaign stops the campaign's active enrollments.
func (s *Store) StopActiveForCampaign(_ context.Context, campaignID string, reason domain.StopReason, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopWhere(func(e domain.Enrollment) bool { return e.CampaignID == campaignID }, reason, at), nil
}

func (s *Store) stopWhere(match func(domain.Enrollment) bool, reason domain.StopReason, at time.Time) []string {
	var ids []string
	for _, id := range s.enrollmentOrder {
		e := s.enrollments[id]
		if e.IsActive() && match(e) {
			s.stop(&e, reason, at)
			ids = append(ids, id)
		}
	}
	return ids
}

// stop must be called with mu held.
func (s *Store) stop(e *domain.Enrollment, reason domain.StopReason, at time.Time) {
	e.Status = domain.EnrollmentStopped
	e.StopReason = reason
	e.StoppedAt = &at
	s.enrollments[e.ID] = *e
	for id, t := range s.touches {
		if t.EnrollmentID == e.ID && t.Status == domain.TouchPending {
			t.Status = domain.TouchCancelled
			s.touches[id] = t
		}
	}
}

// ---- scheduled touches ----

func (s *Store) insertTouch(t domain.ScheduledTouch) {
	s.touches[t.ID] = t
	s.touchOrder = append(s.touchOrder, t.ID)
}

// ClaimDueTouches moves up to limit due slots of active enrollments to
// processing, earliest first.
func (s *Store) ClaimDueTouches(_ context.Context, limit int) ([]domain.ScheduledTouch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []domain.ScheduledTouch
	for _, id := range s.touchOrder {
		t := s.touches[id]
		if t.Status != domain.TouchPending || t.ScheduledAt.After(now) {
			continue
		}
		e, ok := s.enrollments[t.EnrollmentID]
		if !ok || !e.IsActive() || e.CurrentTouch != t.TouchNumber {
			continue
		}
		due = append(due, t)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.TouchProcessing
		claimed := now
		due[i].ClaimedAt = &claimed
		s.touches[due[i].ID] = due[i]
	}
	return due, nil
}

// RecoverStaleTouches returns slots stuck in processing to pending.
func (s *Store) RecoverStaleTouches(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var n int64
	for id, t := range s.touches {
		if t.Status == domain.TouchProcessing && t.ClaimedAt != nil && t.ClaimedAt.Before(cutoff) {
			t.Status = domain.TouchPending
			t.ClaimedAt = nil
			s.touches[id] = t
			n++
		}
	}
	return n, nil
}

// SetTouchStatus records a slot outcome.
func (s *Store) SetTouchStatus(_ context.Context, id string, status domain.TouchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.touches[id]
	if !ok {
		return nil
	}
	t.Status = status
	s.touches[id] = t
	return nil
}

// ---- send logs ----

// CreateSendLog inserts a send log.
func (s *Store) CreateSendLog(_ context.Context, l *domain.SendLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLogs[l.ID] = *l
	s.sendLogOrder = append(s.sendLogOrder, l.ID)
	return nil
}

// GetSendLog returns a send log.
func (s *Store) GetSendLog(_ context.Context, id string) (*domain.SendLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLogs[id]
	if !ok {
		return nil, delivery.ErrUnknownMessage
	}
	return &l, nil
}

// FindSendLogByProviderID looks a send log up by the provider's message id.
func (s *Store) FindSendLogByProviderID(_ context.Context, channel domain.Channel, providerMessageID string) (*domain.SendLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if providerMessageID == "" {
		return nil, delivery.ErrUnknownMessage
	}
	for _, id := range s.sendLogOrder {
		l := s.sendLogs[id]
		if l.Channel == channel && l.ProviderMessageID == providerMessageID {
			return &l, nil
		}
	}
	return nil, delivery.ErrUnknownMessage
}

// MarkSendLogSent moves a pending log to sent.
func (s *Store) MarkSendLogSent(_ context.Context, id, providerMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLogs[id]
	if !ok {
		return delivery.ErrUnknownMessage
	}
	if l.Status == domain.SendPending {
		l.Status = domain.SendSent
	}
	l.ProviderMessageID = providerMessageID
	l.SentAt = &at
	l.LastError = ""
	l.UpdatedAt = s.now()
	s.sendLogs[id] = l
	return nil
}

// RecordSendError stores the last dispatch error on a pending log.
func (s *Store) RecordSendError(_ context.Context, id, errMsg string) error {
	return s.updateSendLog(id, func(l *domain.SendLog) { l.LastError = errMsg })
}

// FailSendLog moves a pending log to failed.
func (s *Store) FailSendLog(_ context.Context, id, errMsg string) error {
	return s.updateSendLog(id, func(l *domain.SendLog) {
		l.LastError = errMsg
		if l.Status == domain.SendPending {
			l.Status = domain.SendFailed
		}
	})
}

func (s *Store) updateSendLog(id string, fn func(*domain.SendLog)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLogs[id]
	if !ok {
		return delivery.ErrUnknownMessage
	}
	fn(&l)
	l.UpdatedAt = s.now()
	s.sendLogs[id] = l
	return nil
}

// CompareAndSetSendStatus writes to only if the log still has from.
func (s *Store) CompareAndSetSendStatus(_ context.Context, id string, from, to domain.SendStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLogs[id]
	if !ok {
		return false, delivery.ErrUnknownMessage
	}
	if l.Status != from {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = s.now()
	s.sendLogs[id] = l
	return true, nil
}

// MarkReviewed stamps reviewed_at once.
func (s *Store) MarkReviewed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sendLogs[id]
	if !ok {
		return false, delivery.ErrUnknownMessage
	}
	if l.ReviewedAt != nil {
		return false, nil
	}
	l.ReviewedAt = &at
	s.sendLogs[id] = l
	return true, nil
}

// LatestSendLogForEnrollment returns the newest log of an enrollment.
func (s *Store) LatestSendLogForEnrollment(_ context.Context, enrollmentID string) (*domain.SendLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.SendLog
	for _, id := range s.sendLogOrder {
		l := s.sendLogs[id]
		if l.EnrollmentID != enrollmentID {
			continue
		}
		if latest == nil || !l.CreatedAt.Before(latest.CreatedAt) {
			cp := l
			latest = &cp
		}
	}
	return latest, nil
}

// ---- retry items ----

// EnqueueRetry inserts a retry item.
func (s *Store) EnqueueRetry(_ context.Context, item *domain.RetryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[item.ID] = *item
	s.retryOrder = append(s.retryOrder, item.ID)
	return nil
}

// ClaimDueRetries moves up to limit due items to processing.
func (s *Store) ClaimDueRetries(_ context.Context, limit int) ([]domain.RetryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []domain.RetryItem
	for _, id := range s.retryOrder {
		r := s.retries[id]
		if r.Status == domain.RetryPending && !r.NextAttemptAt.After(now) {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		claimed := now
		due[i].Status = domain.RetryProcessing
		due[i].ClaimedAt = &claimed
		due[i].UpdatedAt = now
		s.retries[due[i].ID] = due[i]
	}
	return due, nil
}

// RecoverStaleRetries returns items stuck in processing to pending.
func (s *Store) RecoverStaleRetries(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var n int64
	for id, r := range s.retries {
		if r.Status == domain.RetryProcessing && r.ClaimedAt != nil && r.ClaimedAt.Before(cutoff) {
			r.Status = domain.RetryPending
			r.ClaimedAt = nil
			s.retries[id] = r
			n++
		}
	}
	return n, nil
}

// CompleteRetry marks an item succeeded.
func (s *Store) CompleteRetry(_ context.Context, id string) error {
	return s.updateRetry(id, func(r *domain.RetryItem) {
		r.Status = domain.RetrySucceeded
		r.ClaimedAt = nil
	})
}

// AbandonRetry marks an item failed without counting an attempt.
func (s *Store) AbandonRetry(_ context.Context, id, reason string) error {
	return s.updateRetry(id, func(r *domain.RetryItem) {
		r.Status = domain.RetryFailed
		r.LastError = reason
		r.ClaimedAt = nil
	})
}

// FailRetryAttempt counts a failed attempt and reschedules or fails the item.
func (s *Store) FailRetryAttempt(_ context.Context, id, errMsg string, maxAttempts int, next time.Time) (domain.RetryStatus, error) {
	var status domain.RetryStatus
	err := s.updateRetry(id, func(r *domain.RetryItem) {
		r.AttemptCount++
		r.LastError = errMsg
		r.ClaimedAt = nil
		if r.AttemptCount >= maxAttempts {
			r.Status = domain.RetryFailed
		} else {
			r.Status = domain.RetryPending
			r.NextAttemptAt = next
		}
		status = r.Status
	})
	return status, err
}

// PurgeFinishedRetries deletes up to limit terminal items last updated
// before the cutoff.
func (s *Store) PurgeFinishedRetries(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.retryOrder[:0]
	for _, id := range s.retryOrder {
		r := s.retries[id]
		finished := r.Status == domain.RetrySucceeded || r.Status == domain.RetryFailed
		if finished && r.UpdatedAt.Before(before) && n < int64(limit) {
			delete(s.retries, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.retryOrder = kept
	return n, nil
}

func (s *Store) updateRetry(id string, fn func(*domain.RetryItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[id]
	if !ok {
		return nil
	}
	fn(&r)
	r.UpdatedAt = s.now()
	s.retries[id] = r
	return nil
}

// ---- ratings and feedback ----

// SaveRating stores a rating.
func (s *Store) SaveRating(_ context.Context, r *domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = append(s.ratings, *r)
	return nil
}

// LatestRating returns the newest rating for the enrollment, or for the
// customer when enrollmentID is empty.
func (s *Store) LatestRating(_ context.Context, customerID, enrollmentID string) (*domain.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.ratings) - 1; i >= 0; i-- {
		r := s.ratings[i]
		if r.CustomerID != customerID {
			continue
		}
		if enrollmentID != "" && r.EnrollmentID != enrollmentID {
			continue
		}
		return &r, nil
	}
	return nil, feedback.ErrNoRating
}

// SaveFeedback stores a feedback message.
func (s *Store) SaveFeedback(_ context.Context, f *domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, *f)
	return nil
}
