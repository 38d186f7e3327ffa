package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

// SESAPI is the part of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through AWS SES. Messages go out as raw MIME so reply
// threading headers survive.
type SESSender struct {
	client SESAPI
	from   From
	now    func() time.Time
	log    *zap.Logger
}

// NewSESSender uses static credentials when given, the default chain otherwise.
func NewSESSender(ctx context.Context, region, accessKey, secretKey string, from From, log *zap.Logger) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AWS config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(cfg), from, log), nil
}

func NewSESSenderWithClient(client SESAPI, from From, log *zap.Logger) *SESSender {
	return &SESSender{client: client, from: from, now: time.Now, log: logger.OrNop(log)}
}

var _ Sender = (*SESSender)(nil)

func (s *SESSender) Send(ctx context.Context, email model.OutboundEmail) (string, error) {
	messageID := NewMessageID(s.from.Address)
	raw, err := BuildMessage(s.from, email, messageID, s.now())
	if err != nil {
		return "", &appErrors.SendError{To: email.To, Err: err}
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.Address),
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	})
	if err != nil {
		s.log.Warn("ses send failed", logger.Email("to", email.To), zap.Error(err))
		return "", &appErrors.SendError{To: email.To, Err: err}
	}

	sesID := ""
	if out.MessageId != nil {
		sesID = *out.MessageId
	}
	s.log.Info("email sent", logger.Email("to", email.To), zap.String("message_id", messageID), zap.String("ses_id", sesID))
	return messageID, nil
}
