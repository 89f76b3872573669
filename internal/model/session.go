package model

import (
	"time"
)

// Session source flows: which login path produced the credential.
const (
	SessionSourceDirect      = "magic_link"
	SessionSourceOTP         = "magic_link_otp"
	SessionSourceMFA         = "magic_link_totp"
	SessionSourceTOTPPrimary = "totp"
)

// RevokeReasonExpired is set by the periodic sweep.
const RevokeReasonExpired = "automatically expired"

// Session records an issued bearer credential so it can be individually
// revoked. BearerPrefix is a stable prefix of the credential used by the
// legacy revoke-by-credential path; the full JWT is never stored.
type Session struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	Email        string     `db:"email"`
	BearerPrefix string     `db:"bearer_prefix"`
	Source       string     `db:"source"`
	IP           *string    `db:"ip"`
	UserAgent    *string    `db:"user_agent"`
	CreatedAt    time.Time  `db:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
	Revoked      bool       `db:"revoked"`
	RevokedAt    *time.Time `db:"revoked_at"`
	RevokeReason *string    `db:"revoke_reason"`
	LastUsedAt   *time.Time `db:"last_used_at"`
}

func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
