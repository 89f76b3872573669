package service

import (
	"testing"
	"time"

	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T) *TokenService {
	t.Helper()
	database := newTestDB(t)
	return NewTokenService(
		newTestConfig(),
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)
}

func TestTokenIssue_ReturnsSecretOnce(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)
	require.NotEmpty(t, token.ID)
	require.NotEmpty(t, token.Secret)
	require.NotEqual(t, token.Secret, token.Hash)
	require.True(t, token.Active)

	// The stored record carries only the salted hash
	stored, err := svc.ByID(token.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Secret)
	require.Equal(t, token.Hash, stored.Hash)
}

func TestTokenIssue_NormalizesEmail(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("  Alice@Example.COM ", nil)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", token.Email)
}

func TestTokenIssue_RejectsBadEmail(t *testing.T) {
	svc := newTokenService(t)

	_, err := svc.Issue("not-an-email", nil)
	require.Error(t, err)
}

func TestTokenIssue_UnknownUserWithoutCreation(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.AllowUserCreation = false
	svc := NewTokenService(
		cfg,
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	_, err := svc.Issue("nobody@example.com", nil)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestTokenIssue_BlockedUser(t *testing.T) {
	database := newTestDB(t)
	dir := newTestDirectory(database)
	svc := NewTokenService(
		newTestConfig(),
		repository.NewTokenRepository(database),
		dir,
		setTier(t, database, license.TierEnterprise),
	)

	user, err := dir.Create("blocked@example.com")
	require.NoError(t, err)
	require.NoError(t, dir.SetBlocked(user.ID, true))

	_, err = svc.Issue("blocked@example.com", nil)
	require.ErrorIs(t, err, ErrUserBlocked)
}

func TestTokenIssue_ContextTTLOverridesDefault(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", map[string]any{"ttl": 48.0})
	require.NoError(t, err)

	expected := time.Now().Add(48 * time.Hour)
	require.WithinDuration(t, expected, token.ExpiresAt, time.Minute)
}

func TestTokenIssue_ContextFiltering(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.ContextWhitelist = []string{"plan", "secret"}
	cfg.ContextBlacklist = []string{"secret"}
	svc := NewTokenService(
		cfg,
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	token, err := svc.Issue("alice@example.com", map[string]any{
		"plan":    "pro",
		"secret":  "drop-me",
		"unknown": "drop-me-too",
	})
	require.NoError(t, err)
	require.Equal(t, "pro", token.Context["plan"])
	require.NotContains(t, token.Context, "secret")
	require.NotContains(t, token.Context, "unknown")
}

func TestTokenIssue_ReservedContextStripped(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.ContextWhitelist = nil
	cfg.ContextBlacklist = nil
	svc := NewTokenService(
		cfg,
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	// Challenge-progress keys belong to the login flow, never the caller
	token, err := svc.Issue("alice@example.com", map[string]any{
		model.ContextKeyTOTPUserID:  "someone-else",
		model.ContextKeyTOTPPending: true,
		model.ContextKeyOTPPending:  true,
		model.ContextKeyMFAVerified: true,
		"plan":                      "pro",
	})
	require.NoError(t, err)
	require.Equal(t, "pro", token.Context["plan"])
	require.NotContains(t, token.Context, model.ContextKeyTOTPUserID)
	require.NotContains(t, token.Context, model.ContextKeyTOTPPending)
	require.NotContains(t, token.Context, model.ContextKeyOTPPending)
	require.NotContains(t, token.Context, model.ContextKeyMFAVerified)
}

func TestTokenValidate_RoundTrip(t *testing.T) {
	svc := newTokenService(t)

	issued, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	found, err := svc.Validate(issued.Secret)
	require.NoError(t, err)
	require.Equal(t, issued.ID, found.ID)

	// Validation is read-only: the token is still redeemable
	again, err := svc.Validate(issued.Secret)
	require.NoError(t, err)
	require.Equal(t, issued.ID, again.ID)
}

func TestTokenValidate_Expired(t *testing.T) {
	database := newTestDB(t)
	svc := NewTokenService(
		newTestConfig(),
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	issued, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	_, err = svc.Validate(issued.Secret)
	require.NoError(t, err)

	// One second past expiry is enough
	_, err = database.Exec(`UPDATE tokens SET expires_at = $1 WHERE id = $2`,
		time.Now().Add(-time.Second), issued.ID)
	require.NoError(t, err)

	_, err = svc.Validate(issued.Secret)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenValidate_ScansBeyondFirstPage(t *testing.T) {
	svc := newTokenService(t)

	oldest, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	// Bury it under more active tokens than one scan page holds
	for i := 0; i < 501; i++ {
		_, err := svc.Issue("alice@example.com", nil)
		require.NoError(t, err)
	}

	found, err := svc.Validate(oldest.Secret)
	require.NoError(t, err)
	require.Equal(t, oldest.ID, found.ID)
}

func TestTokenValidate_WrongSecret(t *testing.T) {
	svc := newTokenService(t)

	_, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	_, err = svc.Validate("0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Validate("")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenConsume_SingleUse(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Consume(token, "203.0.113.9", "test-agent"))

	// Second redemption of the same token fails
	err = svc.Consume(token, "203.0.113.9", "test-agent")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Validate(token.Secret)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenConsume_RecordsLoginInfo(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(token, "203.0.113.9", "test-agent"))

	stored, err := svc.ByID(token.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.IP)
	require.Equal(t, "203.0.113.9", *stored.IP)
	require.NotNil(t, stored.UserAgent)
	require.Equal(t, "test-agent", *stored.UserAgent)
}

func TestTokenConsume_LoginInfoDisabled(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.StoreLoginInfo = false
	svc := NewTokenService(
		cfg,
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(token, "203.0.113.9", "test-agent"))

	stored, err := svc.ByID(token.ID)
	require.NoError(t, err)
	require.Nil(t, stored.IP)
	require.Nil(t, stored.UserAgent)
}

func TestTokenConsume_StaysValidPolicy(t *testing.T) {
	database := newTestDB(t)
	cfg := newTestConfig()
	cfg.TokenStaysValid = true
	svc := NewTokenService(
		cfg,
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Consume(token, "", ""))
	require.NoError(t, svc.Consume(token, "", ""))

	// The token still validates after use
	found, err := svc.Validate(token.Secret)
	require.NoError(t, err)
	require.Equal(t, token.ID, found.ID)
}

func TestTokenBlockAndReactivate(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Block(token.ID))
	_, err = svc.Validate(token.Secret)
	require.ErrorIs(t, err, ErrTokenInvalid)

	require.NoError(t, svc.Reactivate(token.ID))
	found, err := svc.Validate(token.Secret)
	require.NoError(t, err)
	require.Equal(t, token.ID, found.ID)
}

func TestTokenExtend(t *testing.T) {
	svc := newTokenService(t)

	token, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	extended, err := svc.Extend(token.ID, 7)
	require.NoError(t, err)
	require.WithinDuration(t, token.ExpiresAt.Add(7*24*time.Hour), extended.ExpiresAt, time.Second)
}

func TestTokenExtend_UnknownID(t *testing.T) {
	svc := newTokenService(t)

	_, err := svc.Extend("missing-id", 7)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenQuota(t *testing.T) {
	database := newTestDB(t)

	// Free tier: MaxTokens is finite, so seeding that many active tokens
	// exhausts the quota
	gate := setTier(t, database, license.TierFree)
	svc := NewTokenService(
		newTestConfig(),
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		gate,
	)

	max := gate.MaxTokens()
	require.Greater(t, max, 0)

	tokens := repository.NewTokenRepository(database)
	for i := 0; i < max; i++ {
		require.NoError(t, tokens.Create(&model.Token{
			Email:     "seed@example.com",
			UserID:    "seed-user",
			Hash:      "h",
			Salt:      "s",
			Context:   model.JSONMap{},
			Active:    true,
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	_, err := svc.Issue("alice@example.com", nil)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestTokenCleanupExpired(t *testing.T) {
	database := newTestDB(t)
	svc := NewTokenService(
		newTestConfig(),
		repository.NewTokenRepository(database),
		newTestDirectory(database),
		setTier(t, database, license.TierEnterprise),
	)

	tokens := repository.NewTokenRepository(database)
	require.NoError(t, tokens.Create(&model.Token{
		Email:     "old@example.com",
		UserID:    "u1",
		Hash:      "h",
		Salt:      "s",
		Context:   model.JSONMap{},
		Active:    true,
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	live, err := svc.Issue("alice@example.com", nil)
	require.NoError(t, err)

	removed, err := svc.CleanupExpired()
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = svc.ByID(live.ID)
	require.NoError(t, err)
}
