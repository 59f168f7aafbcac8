// Package sending hands rendered touches to messaging providers.
//
// Each provider attaches the send log ID as a correlation tag so delivery
// callbacks can be matched even before the provider message ID is stored.
package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
)

// Message is one outbound touch.
type Message struct {
	SendLogID string
	Channel   domain.Channel
	To        string
	Subject   string
	Body      string
}

// Result is the provider's acceptance of a message.
type Result struct {
	Provider          string
	ProviderMessageID string
	SentAt            time.Time
}

// Sender delivers a message through one provider.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// PermanentError marks a rejection that retrying cannot fix, such as an
// invalid recipient.
type PermanentError struct {
	Provider string
	Status   int
	Message  string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s rejected message (%d): %s", e.Provider, e.Status, e.Message)
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ErrNoSender means no provider is configured for the channel.
var ErrNoSender = errors.New("no sender configured for channel")

// Router picks a sender by channel.
type Router struct {
	Email Sender
	SMS   Sender
}

// Send delivers msg through the sender for its channel.
func (r *Router) Send(ctx context.Context, msg *Message) (*Result, error) {
	var s Sender
	switch msg.Channel {
	case domain.ChannelEmail:
		s = r.Email
	case domain.ChannelSMS:
		s = r.SMS
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSender, msg.Channel)
	}
	return s.Send(ctx, msg)
}

// statusError classifies a provider HTTP failure: 4xx other than 408/429 is
// permanent, everything else is transient.
func statusError(provider string, status int, body string) error {
	if len(body) > 300 {
		body = body[:300]
	}
	if status >= 400 && status < 500 && status != 408 && status != 429 {
		return &PermanentError{Provider: provider, Status: status, Message: body}
	}
	return fmt.Errorf("%s error %d: %s", provider, status, body)
}
