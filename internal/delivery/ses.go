package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// defaultRetryAfter is used when SES throttles without a usable hint.
const defaultRetryAfter = time.Second

// SESProvider sends email via AWS SES using the SDK v2.
type SESProvider struct {
	client *sesv2.Client
	region string
}

// SESConfig holds credentials and region for the SES provider.
type SESConfig struct {
	AccessKey string
	SecretKey string
	Region    string
}

// NewSESProvider creates an SES provider. With empty credentials the
// default AWS credential chain applies.
func NewSESProvider(ctx context.Context, cfg SESConfig) (*SESProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESProvider{
		client: sesv2.NewFromConfig(awsCfg),
		region: region,
	}, nil
}

// Send delivers a single email through AWS SES.
func (s *SESProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	content := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
		Body: &types.Body{
			Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
		},
	}
	if msg.Text != "" {
		content.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	for name, value := range msg.Headers {
		content.Headers = append(content.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: content},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.CampaignTag != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignTag)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	logger.Debug("ses send accepted", "to", msg.To, "message_id", messageID)

	return &Result{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

// classifySESError maps SDK errors onto the package taxonomy.
// Throttling becomes *RateLimitError; hard rejections become permanent
// *SendError; anything else is a transient *SendError.
func classifySESError(err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return &RateLimitError{RetryAfter: defaultRetryAfter, Message: err.Error()}
	}
	var limitExceeded *types.LimitExceededException
	if errors.As(err, &limitExceeded) {
		return &RateLimitError{RetryAfter: defaultRetryAfter, Message: err.Error()}
	}

	// SES sometimes reports throttling only in the message text.
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "throttl") || strings.Contains(msg, "Maximum sending rate exceeded") {
		return &RateLimitError{RetryAfter: defaultRetryAfter, Message: msg}
	}

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return &SendError{Message: msg, Permanent: true}
	}
	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &notVerified) {
		return &SendError{Message: msg, Permanent: true}
	}
	var suspended *types.AccountSuspendedException
	if errors.As(err, &suspended) {
		return &SendError{Message: msg, Permanent: true}
	}

	return &SendError{Message: msg}
}
