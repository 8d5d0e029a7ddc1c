// Package sender delivers dispatch payloads to external providers: email
// through Amazon SES, sms and voice through an HTTP provider API.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/logger"
)

// SESAPI is the part of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends email payloads.
type SES struct {
	client  SESAPI
	from    string
	replyTo string
	log     *logger.Logger
}

func NewSES(client SESAPI, from, replyTo string, log *logger.Logger) *SES {
	if log == nil {
		log = logger.Default()
	}
	return &SES{client: client, from: from, replyTo: replyTo, log: log}
}

// NewSESFromCredentials builds the SES client from static credentials, or
// from the default AWS chain when accessKey is empty.
func NewSESFromCredentials(ctx context.Context, accessKey, secretKey, region, from, replyTo string, log *logger.Logger) (*SES, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSES(sesv2.NewFromConfig(cfg), from, replyTo, log), nil
}

func (s *SES) Send(ctx context.Context, p dispatch.Payload) error {
	if p.Channel != dispatch.ChannelEmail {
		return fmt.Errorf("ses cannot send %s", p.Channel)
	}
	if s.from == "" {
		return errors.New("ses sender has no from address")
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{p.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(p.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(p.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if s.replyTo != "" {
		in.ReplyToAddresses = []string{s.replyTo}
	}
	if p.CampaignID != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("campaign_id"), Value: aws.String(p.CampaignID)})
	}
	if p.LeadID != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("lead_id"), Value: aws.String(p.LeadID)})
	}

	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	s.log.Info("email sent", "email", p.To, "message_id", aws.ToString(out.MessageId))
	return nil
}
