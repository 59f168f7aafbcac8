package feedback

import "errors"

// Sentinel errors for the feedback service layer.
var (
	ErrInvalidToken       = errors.New("invalid or expired link")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrEmptyFeedback      = errors.New("feedback message is required")
	ErrFeedbackNotAllowed = errors.New("feedback requires a prior rating of 3 or lower")
	ErrInvalidChannel     = errors.New("channel must be email or sms")
	ErrNoRating           = errors.New("no rating recorded")
)
