package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// LinkData fills the magic-link templates.
type LinkData struct {
	URL        string
	AppName    string
	ExpiryText string
}

// CodeData fills the one-time-code templates.
type CodeData struct {
	Code       string
	AppName    string
	ExpiryText string
}

var linkTemplate = template.Must(template.New("link").Parse(
	`Click this link to sign in to your account:
{{.URL}}

This link expires in {{.ExpiryText}} and can only be used once.

If you didn't request this, ignore this email.

Best,
The {{.AppName}} Team`))

var codeTemplate = template.Must(template.New("code").Parse(
	`Your sign-in code is:

    {{.Code}}

This code expires in {{.ExpiryText}} and can only be used once.

If you didn't request this, ignore this message.

Best,
The {{.AppName}} Team`))

// Renderer produces notification messages from typed contexts.
type Renderer struct {
	appName string
}

func NewRenderer(appName string) *Renderer {
	return &Renderer{appName: appName}
}

func (r *Renderer) MagicLink(url string, expiry time.Duration) (Message, error) {
	var body strings.Builder
	err := linkTemplate.Execute(&body, LinkData{
		URL:        url,
		AppName:    r.appName,
		ExpiryText: ExpiryText(expiry),
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render magic link message: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("Sign in to %s", r.appName),
		Body:    body.String(),
	}, nil
}

func (r *Renderer) OTPCode(code string, expiry time.Duration) (Message, error) {
	var body strings.Builder
	err := codeTemplate.Execute(&body, CodeData{
		Code:       code,
		AppName:    r.appName,
		ExpiryText: ExpiryText(expiry),
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render code message: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("Your %s sign-in code", r.appName),
		Body:    body.String(),
	}, nil
}

// ExpiryText renders a duration the way a human reads it in an email.
func ExpiryText(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		minutes := int(d.Minutes())
		if minutes <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
}
