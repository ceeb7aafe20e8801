package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used for alerts
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails security alerts through AWS SES
type SESNotifier struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region and creates a notifier
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESNotifierWithClient creates a notifier over an existing client
func NewSESNotifierWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{client: client, fromAddress: fromAddress, logger: logger}
}

func (n *SESNotifier) NotifyAccountLocked(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error {
	body := fmt.Sprintf(`Your account was temporarily locked after several failed sign-in attempts.

Locked until: %s (UTC)
Last attempt from: %s

If this was you, wait until the lock expires and try again.
If it was not you, consider changing your password once you can sign in.

This is an automated message. Please do not reply to this email.
`, until.UTC().Format(time.RFC1123), orUnknown(rc.IPAddress))

	return n.send(ctx, user.Email, "Your account has been temporarily locked", body)
}

func (n *SESNotifier) NotifyTokenReuse(ctx context.Context, user *models.User, revokedSessions int64, rc models.RequestContext) error {
	body := fmt.Sprintf(`We detected a previously used session token being presented again.
This can mean the token was copied from one of your devices.

As a precaution we signed you out everywhere (%d active sessions ended).
Request origin: %s

Sign in again and review the devices that have access to your account.

This is an automated message. Please do not reply to this email.
`, revokedSessions, orUnknown(rc.IPAddress))

	return n.send(ctx, user.Email, "Security alert: you have been signed out everywhere", body)
}

func (n *SESNotifier) send(ctx context.Context, to, subject, text string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(text)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security alert via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("security alert sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogNotifier only logs alerts; used when email is disabled
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAccountLocked(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error {
	n.logger.WarnContext(ctx, "security alert: account locked",
		slog.String("user_id", user.ID),
		slog.Time("locked_until", until),
		slog.String("ip_address", rc.IPAddress))
	return nil
}

func (n *LogNotifier) NotifyTokenReuse(ctx context.Context, user *models.User, revokedSessions int64, rc models.RequestContext) error {
	n.logger.WarnContext(ctx, "security alert: refresh token reuse",
		slog.String("user_id", user.ID),
		slog.Int64("revoked_sessions", revokedSessions),
		slog.String("ip_address", rc.IPAddress))
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
