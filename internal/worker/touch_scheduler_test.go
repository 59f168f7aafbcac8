package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/sending"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchScheduler_SendsSequenceAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.enroll(t, "job-1")

	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, TaskTouches, sum.Task)
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Succeeded)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ChannelEmail, msgs[0].Channel)
	assert.Equal(t, "dana@example.com", msgs[0].To)
	assert.Equal(t, "How did we do, Dana?", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "Acme Plumbing")
	assert.Contains(t, msgs[0].Body, "https://reviews.example.com/r?t=")

	logs := h.store.SendLogs(e.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.SendSent, logs[0].Status)
	assert.Equal(t, "msg-1", logs[0].ProviderMessageID)
	assert.Equal(t, msgs[0].SendLogID, logs[0].ID)

	got := h.enrollment(t, e.ID)
	assert.Equal(t, domain.EnrollmentActive, got.Status)
	assert.Equal(t, 2, got.CurrentTouch)

	// touch 2 is a day out
	sum = h.scheduler.RunOnce(ctx)
	assert.Equal(t, 0, sum.Claimed)

	h.clock.Advance(24*time.Hour + time.Minute)
	sum = h.scheduler.RunOnce(ctx)
	assert.Equal(t, 1, sum.Succeeded)

	msgs = h.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.ChannelSMS, msgs[1].Channel)
	assert.Equal(t, "+15555550100", msgs[1].To)
	assert.Empty(t, msgs[1].Subject)

	got = h.enrollment(t, e.ID)
	assert.Equal(t, domain.EnrollmentCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestTouchScheduler_SkipsChannelWithoutConsent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.PutCustomer(domain.Customer{
		ID:         testCustomer,
		BusinessID: testBusiness,
		Email:      "dana@example.com",
		Phone:      "+15555550100",
		SMSConsent: domain.SMSConsentUnknown,
	})
	e := h.enroll(t, "job-1")

	h.scheduler.RunOnce(ctx)
	h.clock.Advance(25 * time.Hour)
	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Succeeded)

	assert.Len(t, h.sender.messages(), 1, "only the email touch goes out")
	touches := h.store.Touches(e.ID)
	require.Len(t, touches, 2)
	assert.Equal(t, domain.TouchSkipped, touches[1].Status)
	assert.Equal(t, domain.EnrollmentCompleted, h.enrollment(t, e.ID).Status)
}

func TestTouchScheduler_StoppedEnrollmentIsNotSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.enroll(t, "job-1")

	ok, err := h.svc.Stop(ctx, e.ID, domain.StopReviewClicked)
	require.NoError(t, err)
	require.True(t, ok)

	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, 0, sum.Claimed)
	assert.Empty(t, h.sender.messages())
	assert.Equal(t, domain.TouchCancelled, h.store.Touches(e.ID)[0].Status)
}

func TestTouchScheduler_OverlappingPassesSendOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const customers = 25
	for i := 0; i < customers; i++ {
		id := fmt.Sprintf("cust-%02d", i)
		h.store.PutCustomer(domain.Customer{ID: id, BusinessID: testBusiness, Email: id + "@example.com"})
		_, err := h.svc.Enroll(ctx, domain.Job{ID: "job-" + id, BusinessID: testBusiness, CustomerID: id, ServiceType: "hvac"}, enrollment.EnrollOptions{})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.scheduler.RunOnce(ctx)
		}()
	}
	wg.Wait()

	msgs := h.sender.messages()
	assert.Len(t, msgs, customers)
	seen := make(map[string]bool)
	for _, m := range msgs {
		assert.False(t, seen[m.To], "duplicate send to %s", m.To)
		seen[m.To] = true
	}
}

func TestTouchScheduler_RecoversStaleClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "job-1")

	// a worker that claimed and then died
	claimed, err := h.store.ClaimDueTouches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, int64(0), sum.Recovered)
	assert.Equal(t, 0, sum.Claimed)

	h.clock.Advance(11 * time.Minute)
	sum = h.scheduler.RunOnce(ctx)
	assert.Equal(t, int64(1), sum.Recovered)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Len(t, h.sender.messages(), 1)
}

func TestTouchScheduler_TransientFailureQueuesRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.enroll(t, "job-1")
	h.sender.setFail(func(*sending.Message) error { return errProviderDown })

	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, 1, sum.Failed)

	logs := h.store.SendLogs(e.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.SendPending, logs[0].Status)
	assert.Equal(t, errProviderDown.Error(), logs[0].LastError)

	items := h.store.RetryItems()
	require.Len(t, items, 1)
	assert.Equal(t, logs[0].ID, items[0].SendLogID)
	assert.Equal(t, domain.RetryPending, items[0].Status)
	assert.Equal(t, 0, items[0].AttemptCount)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), items[0].NextAttemptAt)

	assert.Equal(t, domain.TouchFailed, h.store.Touches(e.ID)[0].Status)
	assert.Equal(t, 1, h.enrollment(t, e.ID).CurrentTouch)
}

func TestTouchScheduler_PermanentFailureSkipsTouch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.enroll(t, "job-1")
	h.sender.setFail(func(*sending.Message) error {
		return &sending.PermanentError{Provider: "stub", Status: 400, Message: "invalid recipient"}
	})

	sum := h.scheduler.RunOnce(ctx)
	assert.Equal(t, 1, sum.Failed)

	logs := h.store.SendLogs(e.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.SendFailed, logs[0].Status)
	assert.True(t, strings.Contains(logs[0].LastError, "invalid recipient"))
	assert.Empty(t, h.store.RetryItems())
	assert.Equal(t, 2, h.enrollment(t, e.ID).CurrentTouch)
}
