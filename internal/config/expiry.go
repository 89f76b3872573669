package config

import (
	"strconv"
	"strings"
	"time"
)

// DefaultSessionExpiry is used when a session expiry string cannot be parsed.
const DefaultSessionExpiry = 30 * 24 * time.Hour

// ParseExpiry converts a duration string of the form "<N>d", "<N>h" or "<N>m"
// into a time.Duration. Malformed values fall back to DefaultSessionExpiry so
// a bad setting can never produce never-expiring credentials.
func ParseExpiry(s string) time.Duration {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return DefaultSessionExpiry
	}

	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return DefaultSessionExpiry
	}

	switch unit {
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'h':
		return time.Duration(n) * time.Hour
	case 'm':
		return time.Duration(n) * time.Minute
	default:
		return DefaultSessionExpiry
	}
}
