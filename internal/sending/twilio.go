package sending

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/reviewloop/internal/pkg/httpretry"
	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	accountSID     string
	authToken      string
	fromNumber     string
	baseURL        string
	statusCallback string
	client         httpretry.HTTPDoer
}

// TwilioOptions configures a TwilioSender.
type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	// StatusCallback is the public URL of the SMS status webhook.
	StatusCallback string
	Timeout        time.Duration
	Client         httpretry.HTTPDoer
}

// NewTwilioSender creates a Twilio sender.
func NewTwilioSender(opts TwilioOptions) *TwilioSender {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2)
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://api.twilio.com/2010-04-01"
	}
	return &TwilioSender{
		accountSID:     opts.AccountSID,
		authToken:      opts.AuthToken,
		fromNumber:     opts.FromNumber,
		baseURL:        strings.TrimRight(base, "/"),
		statusCallback: opts.StatusCallback,
		client:         client,
	}
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"` // set on API errors
	Code         int    `json:"code"`
}

// Send delivers a single SMS.
func (s *TwilioSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s.accountSID == "" || s.authToken == "" || s.fromNumber == "" {
		return nil, fmt.Errorf("twilio not configured")
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", s.fromNumber)
	form.Set("Body", msg.Body)
	if s.statusCallback != "" {
		form.Set("StatusCallback", s.statusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out twilioMessage
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 400 {
		detail := out.Message
		if detail == "" {
			detail = string(body)
		}
		if out.Code != 0 {
			detail = fmt.Sprintf("%d %s", out.Code, detail)
		}
		return nil, statusError("twilio", resp.StatusCode, detail)
	}
	if out.SID == "" {
		return nil, fmt.Errorf("twilio response missing sid")
	}

	logger.Info("sms sent", "provider", "twilio", "to", msg.To, "sid", out.SID, "send_log_id", msg.SendLogID)
	return &Result{Provider: "twilio", ProviderMessageID: out.SID, SentAt: time.Now()}, nil
}
