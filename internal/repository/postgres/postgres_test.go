package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/service/delivery"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/service/feedback"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

var ts = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func TestCreate_SupersedesAndInserts(t *testing.T) {
	s, mock := newMock(t)
	e := &domain.Enrollment{ID: "e2", CampaignID: "c1", CustomerID: "cu1", BusinessID: "b1", JobID: "j2",
		Status: domain.EnrollmentActive, CurrentTouch: 1, EnrolledAt: ts}
	first := &domain.ScheduledTouch{ID: "t1", EnrollmentID: "e2", TouchNumber: 1, Channel: domain.ChannelEmail, ScheduledAt: ts, Status: domain.TouchPending}

	mock.ExpectBegin()
	mock.ExpectQuery(`WITH stopped AS`).
		WithArgs("cu1", domain.StopRepeatJob, ts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1"))
	mock.ExpectExec(`INSERT INTO enrollments`).
		WithArgs("e2", "c1", "cu1", "b1", sqlmock.AnyArg(), domain.EnrollmentActive, 1, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_touches`).
		WithArgs("t1", "e2", 1, domain.ChannelEmail, ts, domain.TouchPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sup, err := s.Create(context.Background(), e, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, sup)
}

func TestCreate_UniqueViolationIsDuplicateActive(t *testing.T) {
	s, mock := newMock(t)
	e := &domain.Enrollment{ID: "e2", CustomerID: "cu1", Status: domain.EnrollmentActive, CurrentTouch: 1, EnrolledAt: ts}

	mock.ExpectBegin()
	mock.ExpectQuery(`WITH stopped AS`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO enrollments`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_one_active_per_customer"})
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), e, nil)
	assert.ErrorIs(t, err, enrollment.ErrDuplicateActive)
}

func TestAdvance_ConditionalOnCurrentTouch(t *testing.T) {
	s, mock := newMock(t)
	next := &domain.ScheduledTouch{ID: "t2", TouchNumber: 2, Channel: domain.ChannelSMS, ScheduledAt: ts.Add(time.Hour)}

	mock.ExpectExec(`WITH moved AS`).
		WithArgs("e1", 1, 2, "t2", domain.ChannelSMS, next.ScheduledAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err := s.Advance(context.Background(), "e1", 1, next, ts)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(`UPDATE enrollments SET status = 'completed'`).
		WithArgs("e1", 2, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err = s.Advance(context.Background(), "e1", 2, nil, ts)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStop_MissingEnrollment(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`WITH stopped AS`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.Stop(context.Background(), "nope", domain.StopOwnerStopped, ts)
	assert.ErrorIs(t, err, enrollment.ErrNotFound)
}

func TestStop_AlreadyStoppedIsNoop(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`WITH stopped AS`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("e1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Stop(context.Background(), "e1", domain.StopReviewClicked, ts)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimDueTouches_UsesSkipLocked(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`(?s)FROM scheduled_touches q JOIN enrollments e.*e.current_touch = q.touch_number.*FOR UPDATE OF q SKIP LOCKED`).
		WithArgs(25).
		WillReturnRows(sqlmock.NewRows([]string{"id", "enrollment_id", "touch_number", "channel", "scheduled_at", "status", "claimed_at"}).
			AddRow("t1", "e1", 1, "email", ts, "processing", ts))

	got, err := s.ClaimDueTouches(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TouchProcessing, got[0].Status)
	assert.Equal(t, domain.ChannelEmail, got[0].Channel)
	require.NotNil(t, got[0].ClaimedAt)
}

func TestRecoverStale(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE retry_items`)).
		WithArgs(float64(600)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RecoverStaleRetries(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFailRetryAttempt(t *testing.T) {
	s, mock := newMock(t)
	next := ts.Add(10 * time.Minute)
	mock.ExpectQuery(`UPDATE retry_items`).
		WithArgs("r1", "timeout", 3, next).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	st, err := s.FailRetryAttempt(context.Background(), "r1", "timeout", 3, next)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryFailed, st)
}

func TestUpsertCustomer_InsertsConsent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO customers`)).
		WithArgs("cu1", "b1", "Dana", "Lee", "dana@example.com", "+15555550100", false, domain.SMSConsentGranted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertCustomer(context.Background(), &domain.Customer{
		ID: "cu1", BusinessID: "b1", FirstName: "Dana", LastName: "Lee",
		Email: "dana@example.com", Phone: "+15555550100", SMSConsent: domain.SMSConsentGranted,
	})
	require.NoError(t, err)
}

func TestUpsertCustomer_DefaultsConsentAndKeepsItOnConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`(?s)INSERT INTO customers.*ON CONFLICT \(id\) DO UPDATE SET\s+first_name = EXCLUDED.first_name,\s+last_name  = EXCLUDED.last_name,\s+email      = EXCLUDED.email,\s+phone      = EXCLUDED.phone,\s+updated_at = NOW\(\)\s*$`).
		WithArgs("cu1", "b1", "", "", "dana@example.com", nil, true, domain.SMSConsentUnknown).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertCustomer(context.Background(), &domain.Customer{ID: "cu1", BusinessID: "b1", Email: "dana@example.com", EmailOptOut: true})
	require.NoError(t, err)
}

func TestPurgeFinishedRetries(t *testing.T) {
	s, mock := newMock(t)
	cutoff := ts.Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM retry_items`).
		WithArgs(cutoff, 500).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.PurgeFinishedRetries(context.Background(), cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestCompareAndSetSendStatus(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE send_logs SET status = \$3`).
		WithArgs("sl", domain.SendSent, domain.SendDelivered).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.CompareAndSetSendStatus(context.Background(), "sl", domain.SendSent, domain.SendDelivered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetSendLog_NotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM send_logs WHERE id`).WithArgs("x").WillReturnError(sql.ErrNoRows)
	_, err := s.GetSendLog(context.Background(), "x")
	assert.ErrorIs(t, err, delivery.ErrUnknownMessage)
}

func TestGetCampaign_DecodesTouches(t *testing.T) {
	s, mock := newMock(t)
	touches, _ := json.Marshal([]domain.Touch{
		{TouchNumber: 1, Channel: domain.ChannelEmail, DelayHours: 2},
		{TouchNumber: 2, Channel: domain.ChannelSMS, DelayHours: 48},
	})
	mock.ExpectQuery(`FROM campaigns WHERE id`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "name", "service_type", "status", "touches", "created_at", "updated_at"}).
			AddRow("c1", "b1", "Default", "*", "active", touches, ts, ts))

	c, err := s.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, c.IsCatchAll())
	tch, ok := c.Touch(2)
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, tch.Delay())
}

func TestSettings_DefaultsWhenMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM business_settings`).WithArgs("b9").WillReturnError(sql.ErrNoRows)

	bs, err := s.Settings(context.Background(), "b9")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCooldownDays, bs.CooldownDays)
	assert.Equal(t, "b9", bs.BusinessID)
}

func TestSettings_DecodesJSON(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM business_settings`).WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"business_name", "cooldown_days", "touch_delay_overrides", "review_links", "default_review_destination"}).
			AddRow("Acme", 45, []byte(`{"hvac":4}`), []byte(`{"google":"https://g.page/r/acme"}`), "google"))

	bs, err := s.Settings(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 45, bs.CooldownDays)
	d, ok := bs.FirstTouchDelay("hvac")
	assert.True(t, ok)
	assert.Equal(t, 4*time.Hour, d)
	u, _ := bs.ReviewURL("")
	assert.Equal(t, "https://g.page/r/acme", u)
}

func TestLatestRating_None(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM ratings`).WithArgs("cu1", "").WillReturnError(sql.ErrNoRows)
	_, err := s.LatestRating(context.Background(), "cu1", "")
	assert.ErrorIs(t, err, feedback.ErrNoRating)
}
