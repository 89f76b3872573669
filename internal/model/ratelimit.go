package model

import (
	"time"
)

// Rate limit categories used by the login flow.
const (
	RateCategorySendLink  = "send_link"
	RateCategoryLogin     = "login"
	RateCategoryOTPSend   = "otp_send"
	RateCategoryOTPVerify = "otp_verify"
)

// RateLimitEntry is a sliding counter per (category, identifier). Once the
// window has elapsed the entry resets to count=1 instead of denying.
type RateLimitEntry struct {
	ID          string    `db:"id"`
	Category    string    `db:"category"`
	Identifier  string    `db:"identifier"`
	Count       int       `db:"count"`
	WindowStart time.Time `db:"window_start"`
	LastRequest time.Time `db:"last_request"`
}
