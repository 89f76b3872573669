package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendNotifier delivers email through Resend. In development (or without
// an API key) it logs the rendered message instead of sending, so the full
// login flow works locally. SMS and WhatsApp require an injected transport.
type ResendNotifier struct {
	client    *resend.Client
	fromEmail string
	isDev     bool
}

func NewResendNotifier(apiKey, fromEmail string, isDev bool) *ResendNotifier {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &ResendNotifier{
		client:    client,
		fromEmail: fromEmail,
		isDev:     isDev,
	}
}

func (n *ResendNotifier) Deliver(ctx context.Context, channel, to string, msg Message) error {
	if channel != ChannelEmail {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
	}

	if n.isDev {
		slog.Info("email sent (dev mode)", "to", to, "subject", msg.Subject, "body", msg.Body)
		return nil
	}

	if n.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    n.fromEmail,
		To:      []string{to},
		Subject: msg.Subject,
		Text:    msg.Body,
	}

	_, err := n.client.Emails.SendWithContext(ctx, params)
	if err == nil {
		slog.Info("email sent", "to", to, "subject", msg.Subject)
	}
	return err
}
