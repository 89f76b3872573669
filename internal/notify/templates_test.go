package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderer_MagicLink(t *testing.T) {
	r := NewRenderer("Sesame")

	msg, err := r.MagicLink("https://app.example.com/auth/login?token=abc", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "Sign in to Sesame", msg.Subject)
	require.Contains(t, msg.Body, "https://app.example.com/auth/login?token=abc")
	require.Contains(t, msg.Body, "1 hour")
	require.Contains(t, msg.Body, "The Sesame Team")
}

func TestRenderer_OTPCode(t *testing.T) {
	r := NewRenderer("Sesame")

	msg, err := r.OTPCode("482917", 5*time.Minute)
	require.NoError(t, err)
	require.Contains(t, msg.Subject, "sign-in code")
	require.Contains(t, msg.Body, "482917")
	require.Contains(t, msg.Body, "5 minutes")
}

func TestExpiryText(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Second:    "1 minute",
		time.Minute:         "1 minute",
		5 * time.Minute:     "5 minutes",
		time.Hour:           "1 hour",
		3 * time.Hour:       "3 hours",
		24 * time.Hour:      "1 day",
		7 * 24 * time.Hour:  "7 days",
		36 * time.Hour:      "1 day",
		49 * time.Hour:      "2 days",
	}
	for d, want := range cases {
		require.Equal(t, want, ExpiryText(d), "duration %s", d)
	}
}
