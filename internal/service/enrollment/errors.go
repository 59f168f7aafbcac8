package enrollment

import "errors"

// Sentinel errors for the enrollment service layer.
var (
	ErrNotFound          = errors.New("enrollment not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrDuplicateActive   = errors.New("customer already has an active enrollment")
	ErrInvalidStopReason = errors.New("invalid stop reason")
	ErrInvalidJob        = errors.New("job is missing business, customer, or service type")
)
