package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/token"
)

// PublicRatingThreshold is the lowest rating routed to a public review site.
const PublicRatingThreshold = 4

// maxFeedbackLen caps stored feedback text.
const maxFeedbackLen = 5000

// Route tells the rating page where to send the customer next.
type Route string

const (
	RouteReview   Route = "review"
	RouteFeedback Route = "feedback"
)

// RatingResult is returned to the rating page.
type RatingResult struct {
	Route       Route  `json:"route"`
	RedirectURL string `json:"redirect_url,omitempty"`
	RatingID    string `json:"rating_id"`
}

// Service implements rating, feedback, and opt-out capture.
type Service struct {
	codec       *token.Codec
	store       Store
	settings    SettingsReader
	contacts    ContactStore
	enrollments EnrollmentStopper
	now         func() time.Time
}

// NewService wires the feedback service.
func NewService(codec *token.Codec, store Store, settings SettingsReader, contacts ContactStore, enrollments EnrollmentStopper) *Service {
	return &Service{
		codec:       codec,
		store:       store,
		settings:    settings,
		contacts:    contacts,
		enrollments: enrollments,
		now:         time.Now,
	}
}

func (s *Service) parse(tok string) (*token.Payload, error) {
	p, err := s.codec.Parse(tok)
	if err != nil {
		logger.Info("rejected link token", "component", "feedback", "error", err)
		return nil, ErrInvalidToken
	}
	return p, nil
}

// SubmitRating records a rating. Ratings at or above PublicRatingThreshold
// are routed to the business's review site and stop the enrollment as
// reviewed; lower ratings are routed to the private feedback form and the
// enrollment keeps running until feedback arrives.
func (s *Service) SubmitRating(ctx context.Context, tok string, rating int, destination string) (*RatingResult, error) {
	p, err := s.parse(tok)
	if err != nil {
		return nil, err
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	r := &domain.Rating{
		ID:           uuid.New().String(),
		CustomerID:   p.CustomerID,
		BusinessID:   p.BusinessID,
		EnrollmentID: p.EnrollmentID,
		Rating:       rating,
		Destination:  strings.ToLower(strings.TrimSpace(destination)),
		CreatedAt:    s.now(),
	}
	if err := s.store.SaveRating(ctx, r); err != nil {
		return nil, fmt.Errorf("save rating: %w", err)
	}

	res := &RatingResult{Route: RouteFeedback, RatingID: r.ID}
	if rating < PublicRatingThreshold {
		return res, nil
	}

	res.Route = RouteReview
	settings, err := s.settings.Settings(ctx, p.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if u, ok := settings.ReviewURL(r.Destination); ok {
		res.RedirectURL = u
	} else {
		logger.Warn("business has no review link configured", "component", "feedback", "business_id", p.BusinessID)
	}

	if p.EnrollmentID != "" {
		if err := s.markReviewed(ctx, p.EnrollmentID); err != nil {
			return nil, err
		}
		if _, err := s.enrollments.Stop(ctx, p.EnrollmentID, domain.StopReviewClicked); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) markReviewed(ctx context.Context, enrollmentID string) error {
	log, err := s.store.LatestSendLogForEnrollment(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("latest send log: %w", err)
	}
	if log == nil {
		return nil
	}
	if _, err := s.store.MarkReviewed(ctx, log.ID, s.now()); err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return nil
}

// SubmitFeedback stores private feedback following a low rating and stops
// the enrollment.
func (s *Service) SubmitFeedback(ctx context.Context, tok, message string) (*domain.Feedback, error) {
	p, err := s.parse(tok)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyFeedback
	}
	message = truncate(message, maxFeedbackLen)

	rating, err := s.store.LatestRating(ctx, p.CustomerID, p.EnrollmentID)
	if errors.Is(err, ErrNoRating) {
		return nil, ErrFeedbackNotAllowed
	}
	if err != nil {
		return nil, fmt.Errorf("latest rating: %w", err)
	}
	if rating.Rating >= PublicRatingThreshold {
		return nil, ErrFeedbackNotAllowed
	}

	f := &domain.Feedback{
		ID:           uuid.New().String(),
		RatingID:     rating.ID,
		CustomerID:   p.CustomerID,
		BusinessID:   p.BusinessID,
		EnrollmentID: p.EnrollmentID,
		Message:      message,
		CreatedAt:    s.now(),
	}
	if err := s.store.SaveFeedback(ctx, f); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}

	if p.EnrollmentID != "" {
		_, err = s.enrollments.Stop(ctx, p.EnrollmentID, domain.StopFeedbackSubmitted)
	} else {
		_, err = s.enrollments.StopForCustomer(ctx, p.CustomerID, domain.StopFeedbackSubmitted)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("private feedback received", "component", "feedback", "business_id", p.BusinessID, "rating", rating.Rating)
	return f, nil
}

// OptOut lets a customer stop a channel from a link. The customer's active
// enrollment stops with the channel's opt-out reason.
func (s *Service) OptOut(ctx context.Context, tok string, channel domain.Channel) error {
	p, err := s.parse(tok)
	if err != nil {
		return err
	}
	switch channel {
	case domain.ChannelEmail:
		err = s.contacts.SetEmailOptOut(ctx, p.CustomerID, true)
	case domain.ChannelSMS:
		err = s.contacts.SetSMSConsent(ctx, p.CustomerID, domain.SMSConsentRevoked)
	default:
		return ErrInvalidChannel
	}
	if err != nil {
		return fmt.Errorf("opt out: %w", err)
	}
	_, err = s.enrollments.StopForCustomer(ctx, p.CustomerID, domain.OptOutStopReason(channel))
	return err
}

// CheckOptOut validates an opt-out link without changing any state. It backs
// the confirmation page, so link scanners that fetch it opt nobody out.
func (s *Service) CheckOptOut(tok string, channel domain.Channel) error {
	if _, err := s.parse(tok); err != nil {
		return err
	}
	if channel != domain.ChannelEmail && channel != domain.ChannelSMS {
		return ErrInvalidChannel
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
