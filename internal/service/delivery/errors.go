package delivery

import "errors"

// Sentinel errors for the delivery service layer.
var (
	// ErrUnknownMessage means no send log matches the callback. Handlers
	// log and acknowledge it so the provider does not retry forever.
	ErrUnknownMessage = errors.New("no send log for provider message")
	ErrUnknownEvent   = errors.New("unsupported provider event")
)
