package service

import (
	"errors"
)

// Sentinel errors shared across the auth services. Handlers map these to
// user-safe responses; anything else is logged and returned generic.
var (
	ErrPluginDisabled     = errors.New("authentication is disabled")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrRateLimited        = errors.New("too many requests")
	ErrFeatureNotLicensed = errors.New("feature not included in license")
	ErrQuotaExceeded      = errors.New("license quota exceeded")
	ErrOTPInvalid         = errors.New("invalid code")
	ErrOTPExpired         = errors.New("code has expired")
	ErrOTPMaxAttempts     = errors.New("too many failed attempts")
	ErrTOTPInvalid        = errors.New("invalid authenticator code")
	ErrTOTPNotConfigured  = errors.New("authenticator not configured")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session has expired")
)
