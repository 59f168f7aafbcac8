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

// MailgunSender sends email through the Mailgun Messages API.
type MailgunSender struct {
	apiKey    string
	domain    string
	baseURL   string
	fromName  string
	fromEmail string
	replyTo   string
	client    httpretry.HTTPDoer
}

// MailgunOptions configures a MailgunSender.
type MailgunOptions struct {
	APIKey    string
	Domain    string
	BaseURL   string
	FromName  string
	FromEmail string
	ReplyTo   string
	Timeout   time.Duration
	Client    httpretry.HTTPDoer // overrides the default retrying client
}

// NewMailgunSender creates a Mailgun sender.
func NewMailgunSender(opts MailgunOptions) *MailgunSender {
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
		base = "https://api.mailgun.net/v3"
	}
	return &MailgunSender{
		apiKey:    opts.APIKey,
		domain:    opts.Domain,
		baseURL:   strings.TrimRight(base, "/"),
		fromName:  opts.FromName,
		fromEmail: opts.FromEmail,
		replyTo:   opts.ReplyTo,
		client:    client,
	}
}

// Send delivers a single email through Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s.apiKey == "" || s.domain == "" {
		return nil, fmt.Errorf("mailgun not configured")
	}

	form := url.Values{}
	form.Set("from", formatFrom(s.fromName, s.fromEmail))
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("text", msg.Body)
	if looksHTML(msg.Body) {
		form.Set("html", msg.Body)
	}
	if s.replyTo != "" {
		form.Set("h:Reply-To", s.replyTo)
	}
	form.Set("v:send_log_id", msg.SendLogID)
	form.Set("o:tag", "review-request")
	form.Set("o:tracking", "yes")
	form.Set("o:tracking-clicks", "yes")
	form.Set("o:tracking-opens", "yes")

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return nil, statusError("mailgun", resp.StatusCode, string(body))
	}

	var out struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode mailgun response: %w", err)
	}
	messageID := strings.Trim(out.ID, "<>")
	logger.Info("email sent", "provider", "mailgun", "recipient", msg.To, "message_id", messageID, "send_log_id", msg.SendLogID)

	return &Result{Provider: "mailgun", ProviderMessageID: messageID, SentAt: time.Now()}, nil
}

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

func looksHTML(body string) bool {
	b := strings.TrimSpace(body)
	return strings.HasPrefix(b, "<") && strings.HasSuffix(b, ">")
}
