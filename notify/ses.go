package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/MrEthical07/stampauth"
)

// SESAPI is the part of *ses.Client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailTemplate renders one event as an email. Subject is used verbatim;
// Body is a format string receiving the link.
type EmailTemplate struct {
	Subject string
	Body    string
}

// DefaultTemplates covers the events that carry a one-time link.
func DefaultTemplates() map[string]EmailTemplate {
	return map[string]EmailTemplate{
		stampauth.EventPasswordResetRequested: {
			Subject: "Reset your password",
			Body:    "Someone asked to reset your password. Follow this link to choose a new one:\n\n%s\n\nIf it was not you, ignore this email.",
		},
		stampauth.EventEmailVerificationRequested: {
			Subject: "Confirm your email address",
			Body:    "Confirm your email address by following this link:\n\n%s\n",
		},
	}
}

// SESMailer sends templated emails for link-bearing events through AWS SES.
// Events without a template or without an email address are ignored.
type SESMailer struct {
	client    SESAPI
	from      string
	templates map[string]EmailTemplate
	logger    *slog.Logger
}

// NewSESMailer returns a mailer sending from the given address. A nil
// templates map selects DefaultTemplates.
func NewSESMailer(client SESAPI, from string, templates map[string]EmailTemplate, logger *slog.Logger) *SESMailer {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SESMailer{client: client, from: from, templates: templates, logger: logger}
}

func (m *SESMailer) Emit(ctx context.Context, event string, payload map[string]string) {
	tmpl, ok := m.templates[event]
	if !ok {
		return
	}
	to := payload["email"]
	link := payload[stampauth.LinkKey]
	if to == "" || link == "" {
		return
	}

	if err := m.send(ctx, to, tmpl.Subject, fmt.Sprintf(tmpl.Body, link)); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "ses send failed",
			slog.String("event", event),
			slog.String("user_id", payload["user_id"]),
			slog.String("error", err.Error()),
		)
	}
}

func (m *SESMailer) send(ctx context.Context, to, subject, body string) error {
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(m.from),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}
