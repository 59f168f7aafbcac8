package sending

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emailMsg() *Message {
	return &Message{SendLogID: "sl-1", Channel: domain.ChannelEmail, To: "dana@example.com", Subject: "How did we do?", Body: "Hi Dana"}
}

func TestMailgunSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mg.example.com/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-1", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Acme <hello@acme.test>", r.PostForm.Get("from"))
		assert.Equal(t, "dana@example.com", r.PostForm.Get("to"))
		assert.Equal(t, "sl-1", r.PostForm.Get("v:send_log_id"))
		assert.Empty(t, r.PostForm.Get("html"))
		w.Write([]byte(`{"id":"<20261015.abc@mg.example.com>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	s := NewMailgunSender(MailgunOptions{
		APIKey: "key-1", Domain: "mg.example.com", BaseURL: srv.URL,
		FromName: "Acme", FromEmail: "hello@acme.test", Client: srv.Client(),
	})
	res, err := s.Send(context.Background(), emailMsg())
	require.NoError(t, err)
	assert.Equal(t, "mailgun", res.Provider)
	assert.Equal(t, "20261015.abc@mg.example.com", res.ProviderMessageID)
}

func TestMailgunErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad recipient", http.StatusBadRequest, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"timeout", http.StatusRequestTimeout, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			s := NewMailgunSender(MailgunOptions{APIKey: "k", Domain: "d", BaseURL: srv.URL, Client: srv.Client()})
			_, err := s.Send(context.Background(), emailMsg())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestMailgunNotConfigured(t *testing.T) {
	_, err := NewMailgunSender(MailgunOptions{}).Send(context.Background(), emailMsg())
	assert.ErrorContains(t, err, "not configured")
}

func TestTwilioSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC1/Messages.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15555550100", r.PostForm.Get("To"))
		assert.Equal(t, "+15555550000", r.PostForm.Get("From"))
		assert.Equal(t, "https://api.example.com/webhooks/sms/status", r.PostForm.Get("StatusCallback"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioOptions{
		AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15555550000", BaseURL: srv.URL,
		StatusCallback: "https://api.example.com/webhooks/sms/status", Client: srv.Client(),
	})
	res, err := s.Send(context.Background(), &Message{SendLogID: "sl-2", Channel: domain.ChannelSMS, To: "+15555550100", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "SM123", res.ProviderMessageID)
}

func TestTwilioUnsubscribedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21610,"message":"Attempt to send to unsubscribed recipient"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioOptions{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+1", BaseURL: srv.URL, Client: srv.Client()})
	_, err := s.Send(context.Background(), &Message{Channel: domain.ChannelSMS, To: "+15555550100", Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "21610")
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func TestSESSend(t *testing.T) {
	fake := &fakeSES{}
	s := newSESSender(fake, SESOptions{FromEmail: "hello@acme.test", ConfigurationSet: "reviews", ReplyTo: "owner@acme.test"})

	msg := emailMsg()
	msg.Body = "<p>Hi Dana</p>"
	res, err := s.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "ses-msg-1", res.ProviderMessageID)

	require.NotNil(t, fake.in)
	assert.Equal(t, "hello@acme.test", aws.ToString(fake.in.FromEmailAddress))
	assert.Equal(t, "reviews", aws.ToString(fake.in.ConfigurationSetName))
	assert.Equal(t, []string{"owner@acme.test"}, fake.in.ReplyToAddresses)
	require.Len(t, fake.in.EmailTags, 1)
	assert.Equal(t, "sl-1", aws.ToString(fake.in.EmailTags[0].Value))
	assert.NotNil(t, fake.in.Content.Simple.Body.Html)
}

func TestSESSendError(t *testing.T) {
	s := newSESSender(&fakeSES{err: errors.New("throttled")}, SESOptions{FromEmail: "a@b.test"})
	_, err := s.Send(context.Background(), emailMsg())
	assert.ErrorContains(t, err, "throttled")
}

type recordingSender struct{ got *Message }

func (r *recordingSender) Send(_ context.Context, msg *Message) (*Result, error) {
	r.got = msg
	return &Result{Provider: "fake", ProviderMessageID: "id"}, nil
}

func TestRouter(t *testing.T) {
	email := &recordingSender{}
	r := &Router{Email: email}

	_, err := r.Send(context.Background(), emailMsg())
	require.NoError(t, err)
	assert.NotNil(t, email.got)

	_, err = r.Send(context.Background(), &Message{Channel: domain.ChannelSMS})
	assert.ErrorIs(t, err, ErrNoSender)
	assert.False(t, IsPermanent(err))
}

func TestLiquidRendererDefaults(t *testing.T) {
	r := NewLiquidRenderer()
	data := RenderData{FirstName: "Dana", BusinessName: "Acme Plumbing", ReviewURL: "https://r.example/r?t=abc", OptOutURL: "https://r.example/r/opt-out?t=abc&c=email"}

	subject, body, err := r.Render("camp-1", domain.Touch{TouchNumber: 1, Channel: domain.ChannelEmail}, data)
	require.NoError(t, err)
	assert.Equal(t, "How did we do, Dana?", subject)
	assert.Contains(t, body, "Acme Plumbing")
	assert.Contains(t, body, data.ReviewURL)
	assert.Contains(t, body, data.OptOutURL)

	subject, body, err = r.Render("camp-1", domain.Touch{TouchNumber: 2, Channel: domain.ChannelSMS}, RenderData{BusinessName: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, subject)
	assert.Contains(t, body, "Hi there")
	assert.Contains(t, body, "Reply STOP")
}

func TestLiquidRendererCustomTemplate(t *testing.T) {
	r := NewLiquidRenderer()
	touch := domain.Touch{
		TouchNumber: 1, Channel: domain.ChannelEmail,
		Subject: "{{ business_name }} says thanks",
		Body:    "{{ first_name | first_word }}, touch {{ touch_number }}: {{ review_url }}",
	}
	subject, body, err := r.Render("camp-9", touch, RenderData{FirstName: "Dana Lee", BusinessName: "Acme", ReviewURL: "u", TouchNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "Acme says thanks", subject)
	assert.Equal(t, "Dana, touch 1: u", body)

	// Edited template is not served from the cache.
	touch.Body = "changed {{ review_url }}"
	_, body, err = r.Render("camp-9", touch, RenderData{ReviewURL: "u"})
	require.NoError(t, err)
	assert.Equal(t, "changed u", body)

	touch.Body = "{% if %}"
	_, _, err = r.Render("camp-9", touch, RenderData{})
	assert.Error(t, err)
}
