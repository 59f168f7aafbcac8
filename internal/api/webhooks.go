package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/reviewloop/internal/pkg/httputil"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/service/delivery"
)

// Provider callbacks are acknowledged with 200 once authenticated, even if
// applying them fails, so providers do not redeliver indefinitely. Failures
// are logged.

func (s *Server) apply(ctx context.Context, source string, ev delivery.Event) {
	res, err := s.deps.Events.Apply(ctx, ev)
	switch {
	case errors.Is(err, delivery.ErrUnknownMessage), errors.Is(err, delivery.ErrUnknownEvent):
		logger.Debug("callback ignored", "component", "webhook", "source", source, "error", err)
	case err != nil:
		logger.Error("callback failed", "component", "webhook", "source", source, "error", err)
	default:
		logger.Debug("callback applied", "component", "webhook", "source", source,
			"send_log_id", res.SendLogID, "status", res.Status, "applied", res.Applied)
	}
}

type mailgunPayload struct {
	Signature struct {
		Timestamp string `json:"timestamp"`
		Token     string `json:"token"`
		Signature string `json:"signature"`
	} `json:"signature"`
	EventData struct {
		Event     string  `json:"event"`
		Timestamp float64 `json:"timestamp"`
		Recipient string  `json:"recipient"`
		Severity  string  `json:"severity"`
		URL       string  `json:"url"`
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
		UserVariables map[string]any `json:"user-variables"`
	} `json:"event-data"`
}

// handleMailgunWebhook accepts Mailgun event webhooks, JSON or legacy form.
//
//	POST /webhooks/email/mailgun
func (s *Server) handleMailgunWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.MailgunSigningKey == "" {
		httputil.ServiceUnavailable(w, "mailgun webhooks not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	var ev *delivery.EmailEvent
	var timestamp, token, signature string

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var p mailgunPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httputil.BadRequest(w, "invalid JSON")
			return
		}
		timestamp, token, signature = p.Signature.Timestamp, p.Signature.Token, p.Signature.Signature
		ev = mailgunEvent(p)
	} else {
		if err := r.ParseForm(); err != nil {
			httputil.BadRequest(w, "invalid form")
			return
		}
		timestamp, token, signature = r.FormValue("timestamp"), r.FormValue("token"), r.FormValue("signature")
		ev = mailgunLegacyEvent(r.Form)
	}

	if !verifyMailgun(s.opts.MailgunSigningKey, timestamp, token, signature, s.now()) {
		httputil.Unauthorized(w, "invalid signature")
		return
	}
	if ev != nil {
		s.apply(r.Context(), "mailgun", *ev)
	}
	httputil.Ack(w)
}

func mailgunEvent(p mailgunPayload) *delivery.EmailEvent {
	d := p.EventData
	var typ delivery.EmailEventType
	switch d.Event {
	case "delivered":
		typ = delivery.EmailDelivered
	case "opened":
		typ = delivery.EmailOpened
	case "clicked":
		typ = delivery.EmailClicked
	case "complained":
		typ = delivery.EmailComplained
	case "failed":
		if d.Severity != "permanent" {
			return nil
		}
		typ = delivery.EmailBounced
	default:
		return nil
	}
	ev := &delivery.EmailEvent{
		Provider:  "mailgun",
		Type:      typ,
		MessageID: strings.Trim(d.Message.Headers.MessageID, "<>"),
		Recipient: d.Recipient,
		URL:       d.URL,
	}
	if id, ok := d.UserVariables["send_log_id"].(string); ok {
		ev.SendLogID = id
	}
	if d.Timestamp > 0 {
		ev.OccurredAt = time.Unix(int64(d.Timestamp), 0).UTC()
	}
	return ev
}

func mailgunLegacyEvent(form url.Values) *delivery.EmailEvent {
	var typ delivery.EmailEventType
	switch form.Get("event") {
	case "delivered":
		typ = delivery.EmailDelivered
	case "opened":
		typ = delivery.EmailOpened
	case "clicked":
		typ = delivery.EmailClicked
	case "complained":
		typ = delivery.EmailComplained
	case "bounced":
		typ = delivery.EmailBounced
	case "dropped":
		if form.Get("reason") != "hardfail" {
			return nil
		}
		typ = delivery.EmailBounced
	default:
		return nil
	}
	return &delivery.EmailEvent{
		Provider:  "mailgun",
		Type:      typ,
		MessageID: strings.Trim(form.Get("Message-Id"), "<>"),
		SendLogID: form.Get("send_log_id"),
		Recipient: form.Get("recipient"),
		URL:       form.Get("url"),
	}
}

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesEvent covers both SES event publishing (eventType) and identity
// notifications (notificationType).
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string              `json:"messageId"`
		Destination []string            `json:"destination"`
		Tags        map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
	Click struct {
		Link string `json:"link"`
	} `json:"click"`
}

// handleSESWebhook accepts SES events delivered through an SNS topic. The
// path token authenticates the subscription.
//
//	POST /webhooks/email/ses/{token}
func (s *Server) handleSESWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.SESWebhookToken == "" {
		httputil.ServiceUnavailable(w, "ses webhooks not configured")
		return
	}
	if !secretEqual(chi.URLParam(r, "token"), s.opts.SESWebhookToken) {
		httputil.Unauthorized(w, "invalid token")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	var env snsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httputil.BadRequest(w, "invalid JSON")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		if err := s.confirmSubscription(r.Context(), env.SubscribeURL); err != nil {
			logger.Error("sns subscription confirmation failed", "component", "webhook", "topic", env.TopicArn, "error", err)
			httputil.Error(w, http.StatusBadGateway, "subscription confirmation failed")
			return
		}
		logger.Info("sns subscription confirmed", "component", "webhook", "topic", env.TopicArn)
	case "Notification":
		var msg sesEvent
		if err := json.Unmarshal([]byte(env.Message), &msg); err != nil {
			logger.Warn("undecodable ses notification", "component", "webhook", "sns_message_id", env.MessageID, "error", err)
			break
		}
		if ev := sesEmailEvent(msg); ev != nil {
			s.apply(r.Context(), "ses", *ev)
		}
	}
	httputil.Ack(w)
}

func sesEmailEvent(m sesEvent) *delivery.EmailEvent {
	kind := m.EventType
	if kind == "" {
		kind = m.NotificationType
	}
	var typ delivery.EmailEventType
	switch kind {
	case "Delivery":
		typ = delivery.EmailDelivered
	case "Open":
		typ = delivery.EmailOpened
	case "Click":
		typ = delivery.EmailClicked
	case "Complaint":
		typ = delivery.EmailComplained
	case "Bounce":
		// Transient bounces are retried by SES itself.
		if m.Bounce.BounceType != "Permanent" {
			return nil
		}
		typ = delivery.EmailBounced
	default:
		return nil
	}
	ev := &delivery.EmailEvent{
		Provider:  "ses",
		Type:      typ,
		MessageID: m.Mail.MessageID,
		URL:       m.Click.Link,
	}
	if tags := m.Mail.Tags["send_log_id"]; len(tags) > 0 {
		ev.SendLogID = tags[0]
	}
	if len(m.Mail.Destination) > 0 {
		ev.Recipient = m.Mail.Destination[0]
	}
	return ev
}

func (s *Server) confirmSubscription(ctx context.Context, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return fmt.Errorf("refusing subscribe URL %q", subscribeURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.opts.SNSClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscribe URL returned %d", resp.StatusCode)
	}
	return nil
}

// verifyTwilio parses the form and checks X-Twilio-Signature. It writes the
// error response and returns false on failure.
func (s *Server) verifyTwilio(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.TwilioAuthToken == "" {
		httputil.ServiceUnavailable(w, "sms webhooks not configured")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, "invalid form")
		return false
	}
	want := twilioSignature(s.opts.TwilioAuthToken, s.callbackURL(r), r.PostForm)
	if !secretEqual(r.Header.Get("X-Twilio-Signature"), want) {
		httputil.Unauthorized(w, "invalid signature")
		return false
	}
	return true
}

// handleSMSStatus accepts Twilio message status callbacks.
//
//	POST /webhooks/sms/status
func (s *Server) handleSMSStatus(w http.ResponseWriter, r *http.Request) {
	if !s.verifyTwilio(w, r) {
		return
	}
	status := r.PostForm.Get("MessageStatus")
	if status == "" {
		status = r.PostForm.Get("SmsStatus")
	}
	ev := delivery.SMSStatusEvent{
		MessageSID: r.PostForm.Get("MessageSid"),
		Status:     status,
		ErrorCode:  r.PostForm.Get("ErrorCode"),
	}
	if ev.MessageSID != "" {
		s.apply(r.Context(), "twilio", ev)
	}
	httputil.Ack(w)
}

// handleSMSInbound accepts customer replies, which carry STOP/START keywords.
//
//	POST /webhooks/sms/inbound
func (s *Server) handleSMSInbound(w http.ResponseWriter, r *http.Request) {
	if !s.verifyTwilio(w, r) {
		return
	}
	ev := delivery.InboundSMSEvent{
		From: r.PostForm.Get("From"),
		To:   r.PostForm.Get("To"),
		Body: r.PostForm.Get("Body"),
	}
	if ev.From != "" {
		s.apply(r.Context(), "twilio", ev)
	}
	// Empty TwiML: no auto-reply beyond the carrier's own.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "<Response></Response>")
}
