package model

import (
	"time"
)

// Token is a single magic-link login grant. Only the salted hash of the
// secret is persisted; the plaintext lives in Secret transiently between
// issuance and delivery.
type Token struct {
	ID         string     `db:"id"`
	Email      string     `db:"email"`
	UserID     string     `db:"user_id"`
	Hash       string     `db:"hash"`
	Salt       string     `db:"salt"`
	Context    JSONMap    `db:"context"`
	Active     bool       `db:"active"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	IP         *string    `db:"ip"`
	UserAgent  *string    `db:"user_agent"`

	// Plaintext secret, set only on the freshly issued token (not in database)
	Secret string `db:"-"`
}

// Context keys the login flow uses to track second-factor progress.
const (
	ContextKeyTTL         = "ttl"
	ContextKeyOTPPending  = "otp_pending"
	ContextKeyTOTPPending = "totp_pending"
	ContextKeyTOTPUserID  = "totp_user_id"
	ContextKeyMFAVerified = "mfa_verified"
)

func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid reports whether the token can authenticate a login.
// staysValid keeps used/expired-after-use tokens redeemable, per the
// "token stays valid" deployment policy.
func (t *Token) IsValid(staysValid bool) bool {
	if !t.Active {
		return false
	}
	if staysValid {
		return true
	}
	return !t.IsExpired()
}
