package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/stretchr/testify/require"
)

func newRateLimiter(t *testing.T) (*RateLimitService, repository.RateLimitRepository) {
	t.Helper()
	database := newTestDB(t)
	repo := repository.NewRateLimitRepository(database)
	return NewRateLimitService(newTestConfig(), repo), repo
}

func TestRateLimit_AllowsUpToMax(t *testing.T) {
	limiter, _ := newRateLimiter(t)

	// RateLimitMax is 3 in the test config
	for i := 0; i < 3; i++ {
		result, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
		require.NoError(t, err)
		require.True(t, result.Allowed, "request %d should be allowed", i+1)
	}

	result, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestRateLimit_IdentifiersIndependent(t *testing.T) {
	limiter, _ := newRateLimiter(t)

	for i := 0; i < 4; i++ {
		_, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
		require.NoError(t, err)
	}

	// A different identifier is unaffected
	result, err := limiter.Check(model.RateCategoryLogin, "198.51.100.7")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	// Same identifier in a different category is unaffected too
	result, err = limiter.Check(model.RateCategorySendLink, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestRateLimit_WindowResets(t *testing.T) {
	limiter, repo := newRateLimiter(t)

	for i := 0; i < 4; i++ {
		_, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
		require.NoError(t, err)
	}

	// Age the entry past the window instead of sleeping
	entry, err := repo.Get(model.RateCategoryLogin, "203.0.113.9")
	require.NoError(t, err)
	entry.WindowStart = time.Now().Add(-2 * time.Minute)
	require.NoError(t, repo.Upsert(entry))

	result, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	fresh, err := repo.Get(model.RateCategoryLogin, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, 1, fresh.Count)
}

func TestRateLimit_Disabled(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.RateLimitDisabled = true
	limiter := NewRateLimitService(cfg, repository.NewRateLimitRepository(database))

	for i := 0; i < 20; i++ {
		result, err := limiter.Check(model.RateCategoryLogin, "203.0.113.9")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
}

func TestRateLimit_CleanupExpired(t *testing.T) {
	limiter, repo := newRateLimiter(t)

	_, err := limiter.Check(model.RateCategoryLogin, "stale")
	require.NoError(t, err)
	_, err = limiter.Check(model.RateCategoryLogin, "fresh")
	require.NoError(t, err)

	stale, err := repo.Get(model.RateCategoryLogin, "stale")
	require.NoError(t, err)
	stale.LastRequest = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Upsert(stale))

	removed, err := limiter.CleanupExpired()
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = repo.Get(model.RateCategoryLogin, "fresh")
	require.NoError(t, err)
}

func TestRateLimit_StatsAndReset(t *testing.T) {
	limiter, _ := newRateLimiter(t)

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(model.RateCategoryLogin, fmt.Sprintf("ip-%d", i))
		require.NoError(t, err)
	}

	stats, err := limiter.Stats()
	require.NoError(t, err)
	require.Equal(t, 5, stats.Entries)
	require.NotEmpty(t, stats.Top)

	require.NoError(t, limiter.Reset())

	stats, err = limiter.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Entries)
}
