package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
)

// RateLimitResult is the outcome of a single rate-limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimitStats is the admin reporting snapshot.
type RateLimitStats struct {
	Entries int                     `json:"entries"`
	Top     []*model.RateLimitEntry `json:"top"`
}

// RateLimitService throttles request patterns with store-backed sliding
// windows per (category, identifier). Once a window has fully elapsed the
// counter resets to one instead of denying.
type RateLimitService struct {
	cfg    *config.Config
	limits repository.RateLimitRepository
}

func NewRateLimitService(cfg *config.Config, limits repository.RateLimitRepository) *RateLimitService {
	return &RateLimitService{
		cfg:    cfg,
		limits: limits,
	}
}

// Check counts this request against the identifier's window and reports
// whether it is allowed. A denied result carries the remaining window time.
func (s *RateLimitService) Check(category, identifier string) (*RateLimitResult, error) {
	if s.cfg.RateLimitDisabled {
		return &RateLimitResult{Allowed: true}, nil
	}

	now := time.Now()

	entry, err := s.limits.Get(category, identifier)
	if errors.Is(err, repository.ErrRateLimitNotFound) {
		entry = &model.RateLimitEntry{
			Category:    category,
			Identifier:  identifier,
			Count:       1,
			WindowStart: now,
			LastRequest: now,
		}
		err = s.limits.Upsert(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to store rate limit entry: %w", err)
		}
		return &RateLimitResult{Allowed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit entry: %w", err)
	}

	// Window elapsed: reset to a fresh window rather than denying
	if now.Sub(entry.WindowStart) > s.cfg.RateLimitWindow {
		entry.Count = 1
		entry.WindowStart = now
		entry.LastRequest = now
		err = s.limits.Upsert(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to reset rate limit entry: %w", err)
		}
		return &RateLimitResult{Allowed: true}, nil
	}

	entry.Count++
	entry.LastRequest = now
	err = s.limits.Upsert(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to update rate limit entry: %w", err)
	}

	if entry.Count > s.cfg.RateLimitMax {
		retryAfter := entry.WindowStart.Add(s.cfg.RateLimitWindow).Sub(now)
		slog.Warn("rate limit exceeded",
			"category", category,
			"identifier", identifier,
			"count", entry.Count,
		)
		return &RateLimitResult{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return &RateLimitResult{Allowed: true}, nil
}

// CleanupExpired drops entries idle for two full windows.
func (s *RateLimitService) CleanupExpired() (int64, error) {
	cutoff := time.Now().Add(-2 * s.cfg.RateLimitWindow)
	return s.limits.DeleteOlderThan(cutoff)
}

// Stats returns the entry count and the busiest identifiers.
func (s *RateLimitService) Stats() (*RateLimitStats, error) {
	count, err := s.limits.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count rate limit entries: %w", err)
	}

	top, err := s.limits.TopEntries(10)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit entries: %w", err)
	}

	return &RateLimitStats{Entries: count, Top: top}, nil
}

// Reset clears all counters.
func (s *RateLimitService) Reset() error {
	return s.limits.DeleteAll()
}
