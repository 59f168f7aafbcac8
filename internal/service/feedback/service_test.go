package feedback_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/repository/memory"
	"github.com/ignite/reviewloop/internal/service/enrollment"
	"github.com/ignite/reviewloop/internal/service/feedback"
	"github.com/ignite/reviewloop/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memory.Store
	enr   *enrollment.Service
	codec *token.Codec
	svc   *feedback.Service
	e     *domain.Enrollment
	tok   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	enr := enrollment.NewService(store)
	codec := token.NewCodec("feedback-secret")

	store.PutCustomer(domain.Customer{ID: "cu1", BusinessID: "b1", Email: "cu1@example.com", Phone: "+15555550100", SMSConsent: domain.SMSConsentGranted})
	store.PutCampaign(domain.Campaign{
		ID: "c1", BusinessID: "b1", ServiceType: "*", Status: domain.CampaignActive,
		Touches: []domain.Touch{{TouchNumber: 1, Channel: domain.ChannelEmail}},
	})
	store.PutSettings(domain.BusinessSettings{
		BusinessID:               "b1",
		BusinessName:             "Acme",
		ReviewLinks:              map[string]string{"google": "https://g.page/r/acme", "yelp": "https://yelp.com/biz/acme"},
		DefaultReviewDestination: "google",
	})
	res, err := enr.Enroll(ctx, domain.Job{ID: "j1", BusinessID: "b1", CustomerID: "cu1", ServiceType: "x"}, enrollment.EnrollOptions{})
	require.NoError(t, err)
	require.NoError(t, store.CreateSendLog(ctx, &domain.SendLog{
		ID: "sl-1", EnrollmentID: res.Enrollment.ID, CustomerID: "cu1", BusinessID: "b1",
		Channel: domain.ChannelEmail, Status: domain.SendSent, CreatedAt: time.Now(),
	}))

	tok, err := codec.Issue("cu1", "b1", res.Enrollment.ID)
	require.NoError(t, err)

	return &fixture{
		store: store,
		enr:   enr,
		codec: codec,
		svc:   feedback.NewService(codec, store, store, store, enr),
		e:     res.Enrollment,
		tok:   tok,
	}
}

func (f *fixture) enrollment(t *testing.T) *domain.Enrollment {
	t.Helper()
	e, err := f.enr.Get(context.Background(), f.e.ID)
	require.NoError(t, err)
	return e
}

func TestSubmitRating_HighRatingRoutesToReviewSite(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SubmitRating(context.Background(), f.tok, 5, "Yelp")
	require.NoError(t, err)
	assert.Equal(t, feedback.RouteReview, res.Route)
	assert.Equal(t, "https://yelp.com/biz/acme", res.RedirectURL)

	e := f.enrollment(t)
	assert.Equal(t, domain.EnrollmentStopped, e.Status)
	assert.Equal(t, domain.StopReviewClicked, e.StopReason)

	l, err := f.store.GetSendLog(context.Background(), "sl-1")
	require.NoError(t, err)
	assert.NotNil(t, l.ReviewedAt)
}

func TestSubmitRating_DefaultDestination(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SubmitRating(context.Background(), f.tok, 4, "")
	require.NoError(t, err)
	assert.Equal(t, "https://g.page/r/acme", res.RedirectURL)
}

func TestSubmitRating_LowRatingThenFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SubmitRating(ctx, f.tok, 2, "google")
	require.NoError(t, err)
	assert.Equal(t, feedback.RouteFeedback, res.Route)
	assert.Empty(t, res.RedirectURL)
	assert.True(t, f.enrollment(t).IsActive(), "low rating keeps the enrollment running")

	fb, err := f.svc.SubmitFeedback(ctx, f.tok, "  The tech was late.  ")
	require.NoError(t, err)
	assert.Equal(t, "The tech was late.", fb.Message)
	assert.Equal(t, res.RatingID, fb.RatingID)

	e := f.enrollment(t)
	assert.Equal(t, domain.StopFeedbackSubmitted, e.StopReason)
	assert.Len(t, f.store.Feedback(), 1)
}

func TestSubmitFeedback_TruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SubmitRating(ctx, f.tok, 1, "")
	require.NoError(t, err)

	// One ASCII byte shifts every two-byte rune so the cap lands mid-rune.
	fb, err := f.svc.SubmitFeedback(ctx, f.tok, "x"+strings.Repeat("é", 3000))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(fb.Message))
	assert.Len(t, fb.Message, 4999)
}

func TestSubmitFeedback_RequiresLowRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitFeedback(ctx, f.tok, "hello")
	assert.ErrorIs(t, err, feedback.ErrFeedbackNotAllowed)

	_, err = f.svc.SubmitRating(ctx, f.tok, 5, "")
	require.NoError(t, err)
	_, err = f.svc.SubmitFeedback(ctx, f.tok, "hello")
	assert.ErrorIs(t, err, feedback.ErrFeedbackNotAllowed)

	_, err = f.svc.SubmitFeedback(ctx, f.tok, "   ")
	assert.ErrorIs(t, err, feedback.ErrEmptyFeedback)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitRating(ctx, f.tok, 0, "")
	assert.ErrorIs(t, err, feedback.ErrInvalidRating)
	_, err = f.svc.SubmitRating(ctx, f.tok, 6, "")
	assert.ErrorIs(t, err, feedback.ErrInvalidRating)

	_, err = f.svc.SubmitRating(ctx, f.tok+"x", 5, "")
	assert.ErrorIs(t, err, feedback.ErrInvalidToken)

	other := token.NewCodec("another-secret")
	forged, err := other.Issue("cu1", "b1", f.e.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitRating(ctx, forged, 5, "")
	assert.ErrorIs(t, err, feedback.ErrInvalidToken)

	assert.Empty(t, f.store.Ratings(), "rejected input changes nothing")
	assert.True(t, f.enrollment(t).IsActive())
}

func TestOptOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.OptOut(ctx, f.tok, "fax"), feedback.ErrInvalidChannel)

	require.NoError(t, f.svc.OptOut(ctx, f.tok, domain.ChannelSMS))
	c, err := f.store.GetCustomer(ctx, "cu1")
	require.NoError(t, err)
	assert.Equal(t, domain.SMSConsentRevoked, c.SMSConsent)
	assert.False(t, c.EmailOptOut)
	assert.Equal(t, domain.StopOptedOutSMS, f.enrollment(t).StopReason)

	require.NoError(t, f.svc.OptOut(ctx, f.tok, domain.ChannelEmail))
	c, _ = f.store.GetCustomer(ctx, "cu1")
	assert.True(t, c.EmailOptOut)
}

func TestCheckOptOutChangesNothing(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.CheckOptOut(f.tok, domain.ChannelEmail))
	assert.ErrorIs(t, f.svc.CheckOptOut(f.tok, "fax"), feedback.ErrInvalidChannel)
	assert.ErrorIs(t, f.svc.CheckOptOut("bogus", domain.ChannelEmail), feedback.ErrInvalidToken)

	c, err := f.store.GetCustomer(context.Background(), "cu1")
	require.NoError(t, err)
	assert.False(t, c.EmailOptOut)
	assert.True(t, f.enrollment(t).IsActive())
}
