// Package token issues and verifies the signed, expiring tokens embedded in
// outbound review links. A token is the only credential an anonymous
// customer presents to rate, leave feedback, or opt out.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// MaxAge is how long an issued token stays valid.
const MaxAge = 30 * 24 * time.Hour

// maxClockSkew tolerates issuers whose clock runs slightly ahead.
const maxClockSkew = 5 * time.Minute

// customer:business:enrollment:issued:nonce:mac
const fieldCount = 6

// encoding rejects non-zero trailing bits so every token has exactly one
// accepted spelling.
var encoding = base64.RawURLEncoding.Strict()

var (
	ErrMalformed = errors.New("token: malformed")
	ErrSignature = errors.New("token: signature mismatch")
	ErrExpired   = errors.New("token: expired")
)

// Payload is the verified content of a token.
type Payload struct {
	CustomerID   string
	BusinessID   string
	EnrollmentID string // empty when the link is not tied to an enrollment
	IssuedAt     time.Time
}

// Codec signs and verifies tokens with an HMAC-SHA256 key.
type Codec struct {
	key       []byte
	ephemeral bool
	now       func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec keyed by secret. An empty secret falls back to a
// random per-process key: tokens then stop verifying after a restart or on
// any other instance, so this is logged as an error.
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{key: []byte(secret), now: time.Now}
	if secret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("token: generate ephemeral key: %v", err))
		}
		c.key = key
		c.ephemeral = true
		logger.Error("token secret not configured; using an ephemeral key, issued links will break on restart",
			"component", "token")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ephemeral reports whether the codec is running on a generated key.
func (c *Codec) Ephemeral() bool { return c.ephemeral }

// Issue creates a URL-safe token for the given identities.
func (c *Codec) Issue(customerID, businessID, enrollmentID string) (string, error) {
	for _, f := range []string{customerID, businessID, enrollmentID} {
		if strings.Contains(f, ":") {
			return "", fmt.Errorf("%w: identifier contains ':'", ErrMalformed)
		}
	}
	if customerID == "" || businessID == "" {
		return "", fmt.Errorf("%w: customer and business are required", ErrMalformed)
	}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token nonce: %w", err)
	}

	payload := strings.Join([]string{
		customerID,
		businessID,
		enrollmentID,
		strconv.FormatInt(c.now().Unix(), 10),
		hex.EncodeToString(nonce),
	}, ":")
	raw := payload + ":" + c.sign(payload)
	return encoding.EncodeToString([]byte(raw)), nil
}

// Parse verifies a token and returns its payload.
func (c *Codec) Parse(tok string) (*Payload, error) {
	raw, err := encoding.DecodeString(tok)
	if err != nil {
		return nil, ErrMalformed
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != fieldCount {
		return nil, ErrMalformed
	}

	payload := strings.Join(parts[:fieldCount-1], ":")
	if !hmac.Equal([]byte(parts[fieldCount-1]), []byte(c.sign(payload))) {
		return nil, ErrSignature
	}

	issuedUnix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issued := time.Unix(issuedUnix, 0)
	now := c.now()
	if issued.After(now.Add(maxClockSkew)) {
		return nil, ErrMalformed
	}
	if now.Sub(issued) > MaxAge {
		return nil, ErrExpired
	}
	if parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformed
	}

	return &Payload{
		CustomerID:   parts[0],
		BusinessID:   parts[1],
		EnrollmentID: parts[2],
		IssuedAt:     issued,
	}, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return encoding.EncodeToString(mac.Sum(nil))
}
