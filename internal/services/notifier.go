package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AlertNotifier delivers newly raised alerts to operators
type AlertNotifier interface {
	Notify(ctx context.Context, alert *models.SecurityAlert) error
}

// NoopNotifier drops notifications (no recipients configured)
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *models.SecurityAlert) error { return nil }

// SESClient is the subset of the SES API the notifier calls
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier e-mails alerts through AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS credential chain for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

func NewSESNotifierWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// Notify sends one plain-text message per alert to every recipient
func (n *SESNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	subject := fmt.Sprintf("[%s] %s security alert", strings.ToUpper(alert.Severity), alert.Type)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(alertBody(alert)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	n.logger.Info("security alert notification sent",
		slog.String("alert_id", alert.ID),
		slog.String("type", alert.Type),
		slog.Int("recipients", len(n.recipients)),
	)
	return nil
}

func alertBody(alert *models.SecurityAlert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", alert.Message)
	fmt.Fprintf(&sb, "Alert:    %s\n", alert.ID)
	fmt.Fprintf(&sb, "Type:     %s\n", alert.Type)
	fmt.Fprintf(&sb, "Severity: %s\n", alert.Severity)
	if alert.UserID != nil {
		fmt.Fprintf(&sb, "User:     %s\n", *alert.UserID)
	}
	fmt.Fprintf(&sb, "Raised:   %s\n", alert.CreatedAt.UTC().Format(time.RFC3339))

	if len(alert.Meta) > 0 {
		keys := make([]string, 0, len(alert.Meta))
		for k := range alert.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, alert.Meta[k])
		}
	}
	return sb.String()
}
