package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/repository/memory"
	"github.com/ignite/reviewloop/internal/sending"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/token"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errProviderDown = errors.New("provider unavailable")

// stubSender records messages and fails them while fail returns an error.
type stubSender struct {
	mu   sync.Mutex
	sent []sending.Message
	seq  int
	fail func(*sending.Message) error
	now  func() time.Time
}

func (s *stubSender) Send(_ context.Context, msg *sending.Message) (*sending.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return nil, err
		}
	}
	s.seq++
	s.sent = append(s.sent, *msg)
	return &sending.Result{Provider: "stub", ProviderMessageID: fmt.Sprintf("msg-%d", s.seq), SentAt: s.now()}, nil
}

func (s *stubSender) setFail(fn func(*sending.Message) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *stubSender) messages() []sending.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sending.Message(nil), s.sent...)
}

type harness struct {
	clock     *testClock
	store     *memory.Store
	svc       *enrollment.Service
	sender    *stubSender
	scheduler *TouchScheduler
	retries   *RetryWorker
}

const (
	testBusiness = "biz-1"
	testCustomer = "cust-1"
	testCampaign = "camp-1"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	store := memory.New()
	store.SetClock(clock.Now)
	svc := enrollment.NewService(store, enrollment.WithClock(clock.Now))
	sender := &stubSender{now: clock.Now}

	store.PutCustomer(domain.Customer{
		ID:         testCustomer,
		BusinessID: testBusiness,
		FirstName:  "Dana",
		Email:      "dana@example.com",
		Phone:      "+15555550100",
		SMSConsent: domain.SMSConsentGranted,
	})
	store.PutCampaign(domain.Campaign{
		ID:          testCampaign,
		BusinessID:  testBusiness,
		Name:        "Default follow-up",
		ServiceType: domain.CatchAllServiceType,
		Status:      domain.CampaignActive,
		Touches: []domain.Touch{
			{TouchNumber: 1, Channel: domain.ChannelEmail, DelayHours: 0},
			{TouchNumber: 2, Channel: domain.ChannelSMS, DelayHours: 24},
		},
	})
	bs := domain.DefaultBusinessSettings(testBusiness)
	bs.BusinessName = "Acme Plumbing"
	store.PutSettings(bs)

	deps := DispatchDeps{
		Touches:     store,
		Directory:   store,
		SendLogs:    store,
		Retries:     store,
		Enrollments: svc,
		Sender:      sender,
		Renderer:    sending.NewLiquidRenderer(),
		Codec:       token.NewCodec("test-secret", token.WithClock(clock.Now)),
		Links:       NewLinks("https://reviews.example.com/r"),
	}
	cfg := Config{BatchSize: 10, Concurrency: 4, StaleAfter: 10 * time.Minute, RetryMaxAttempts: 3, RetryBackoff: 5 * time.Minute}
	h := &harness{
		clock:     clock,
		store:     store,
		svc:       svc,
		sender:    sender,
		scheduler: NewTouchScheduler(deps, cfg),
		retries:   NewRetryWorker(deps, cfg),
	}
	h.scheduler.now = clock.Now
	h.retries.now = clock.Now
	return h
}

func (h *harness) enroll(t *testing.T, jobID string) *domain.Enrollment {
	t.Helper()
	res, err := h.svc.Enroll(context.Background(), domain.Job{
		ID:          jobID,
		BusinessID:  testBusiness,
		CustomerID:  testCustomer,
		ServiceType: "drain_cleaning",
	}, enrollment.EnrollOptions{})
	require.NoError(t, err)
	require.Equal(t, enrollment.OutcomeEnrolled, res.Outcome)
	return res.Enrollment
}

func (h *harness) enrollment(t *testing.T, id string) *domain.Enrollment {
	t.Helper()
	e, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}
