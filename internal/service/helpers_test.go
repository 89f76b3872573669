package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/crypto"
	"github.com/sesamelabs/sesame/internal/db"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := db.Init("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	return database
}

func newTestConfig() *config.Config {
	return &config.Config{
		AppName:           "Sesame",
		AppEnv:            "test",
		AppURL:            "http://localhost:8080",
		Enabled:           true,
		JWTSecret:         "test-jwt-secret",
		SessionExpiry:     "30d",
		TokenLength:       32,
		TokenExpirePeriod: 3600,
		AllowUserCreation: true,
		StoreLoginInfo:    true,
		ContextAllowed:    []string{"redirect", "plan"},
		OTPLength:         6,
		OTPExpiry:         300,
		OTPMaxAttempts:    3,
		OTPPepper:         "test-pepper",
		EncryptionKey:     "test-encryption-key",
		RateLimitMax:      3,
		RateLimitWindow:   time.Minute,
	}
}

// setTier installs a valid cached license so the gate reports the tier.
func setTier(t *testing.T, database *sqlx.DB, tier string) *license.Gate {
	t.Helper()

	repo := repository.NewLicenseRepository(database)
	gate := license.NewGate(repo, license.NewClient(""), "")

	if tier == license.TierFree {
		return gate
	}

	future := time.Now().Add(365 * 24 * time.Hour)
	require.NoError(t, repo.Save(&model.License{
		Key:           "test-key",
		Tier:          tier,
		Active:        true,
		ExpiresAt:     &future,
		LastValidated: time.Now(),
	}))
	return gate
}

func newTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor("test-encryption-key")
	require.NoError(t, err)
	return enc
}

func newTestDirectory(database *sqlx.DB) directory.Directory {
	return directory.New(repository.NewUserRepository(database))
}
