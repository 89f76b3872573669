package model

import (
	"time"
)

// OTP delivery channels.
const (
	OTPTypeEmail = "email"
	OTPTypeSMS   = "sms"
)

// OTPCode is a short-lived single-use second factor. Only the peppered hash
// of the code is persisted.
type OTPCode struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	Type      string    `db:"type"`
	CodeHash  string    `db:"code_hash"`
	TokenID   string    `db:"token_id"` // magic-link token this code belongs to
	Used      bool      `db:"used"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

func (o *OTPCode) IsExpired() bool {
	return time.Now().After(o.ExpiresAt)
}
