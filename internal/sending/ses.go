package sending

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/reviewloop/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email via AWS SES using the SDK v2.
type SESSender struct {
	client           sesAPI
	fromName         string
	fromEmail        string
	replyTo          string
	configurationSet string
}

// SESOptions configures an SESSender.
type SESOptions struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
	FromName         string
	FromEmail        string
	ReplyTo          string
}

// NewSESSender creates an SES sender. Static keys are used when given,
// otherwise the default AWS credential chain.
func NewSESSender(ctx context.Context, opts SESOptions) (*SESSender, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSESSender(sesv2.NewFromConfig(cfg), opts), nil
}

func newSESSender(client sesAPI, opts SESOptions) *SESSender {
	return &SESSender{
		client:           client,
		fromName:         opts.FromName,
		fromEmail:        opts.FromEmail,
		replyTo:          opts.ReplyTo,
		configurationSet: opts.ConfigurationSet,
	}
}

// Send delivers a single email through AWS SES. The send log ID travels as
// a message tag and comes back on SES event notifications.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	body := &types.Body{Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}}
	if looksHTML(msg.Body) {
		body.Html = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatFrom(s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("send_log_id"), Value: aws.String(msg.SendLogID)},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if s.replyTo != "" {
		input.ReplyToAddresses = []string{s.replyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Info("email sent", "provider", "ses", "recipient", msg.To, "message_id", messageID, "send_log_id", msg.SendLogID)
	return &Result{Provider: "ses", ProviderMessageID: messageID, SentAt: time.Now()}, nil
}
