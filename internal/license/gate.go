package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
)

// GracePeriod is how long a previously validated license keeps its tier when
// re-verification fails. It never grants a higher tier than last confirmed.
const GracePeriod = 24 * time.Hour

var ErrNoLicense = errors.New("no license configured")

// Gate resolves feature and quota checks against the cached license state.
type Gate struct {
	repo   repository.LicenseRepository
	client *Client
	key    string
}

func NewGate(repo repository.LicenseRepository, client *Client, key string) *Gate {
	return &Gate{repo: repo, client: client, key: key}
}

// EffectiveTier returns the tier the deployment is currently entitled to:
// the cached tier while it is unexpired and within the grace period,
// otherwise free.
func (g *Gate) EffectiveTier() string {
	license, err := g.repo.Current()
	if err != nil {
		if !errors.Is(err, repository.ErrLicenseNotFound) {
			slog.Error("failed to load license state", "error", err)
		}
		return TierFree
	}

	if !license.Active || license.IsExpired() {
		return TierFree
	}
	if time.Since(license.LastValidated) > GracePeriod {
		slog.Warn("license grace period elapsed, downgrading to free tier",
			"last_validated", license.LastValidated)
		return TierFree
	}

	return license.Tier
}

// HasFeature reports whether the current license tier includes the feature.
func (g *Gate) HasFeature(feature string) bool {
	return TierHasFeature(g.EffectiveTier(), feature)
}

// MaxTokens returns the active-token quota; -1 means unlimited.
func (g *Gate) MaxTokens() int { return TierQuotas(g.EffectiveTier()).MaxTokens }

// MaxSessions returns the active-session quota; -1 means unlimited.
func (g *Gate) MaxSessions() int { return TierQuotas(g.EffectiveTier()).MaxSessions }

// MaxIPBans returns the banned-IP quota; -1 means unlimited.
func (g *Gate) MaxIPBans() int { return TierQuotas(g.EffectiveTier()).MaxIPBans }

// Current returns the cached license record, or ErrNoLicense.
func (g *Gate) Current() (*model.License, error) {
	license, err := g.repo.Current()
	if errors.Is(err, repository.ErrLicenseNotFound) {
		return nil, ErrNoLicense
	}
	return license, err
}

// Refresh pings the license server and updates the cached state. Network
// failures are non-fatal: the cached record keeps its last-validated stamp
// and the grace period takes over.
func (g *Gate) Refresh(ctx context.Context) error {
	if !g.client.Configured() || g.key == "" {
		return nil
	}

	cached, err := g.repo.Current()
	if err != nil && !errors.Is(err, repository.ErrLicenseNotFound) {
		return fmt.Errorf("failed to load license state: %w", err)
	}

	deviceID := ""
	if cached != nil {
		deviceID = cached.DeviceID
	}

	resp, err := g.client.Ping(ctx, g.key, deviceID)
	if err != nil {
		if errors.Is(err, ErrServerUnavailable) {
			slog.Warn("license ping failed, relying on grace period", "error", err)
			return nil
		}
		return err
	}

	now := time.Now()
	license := &model.License{
		Key:           g.key,
		Tier:          resp.Tier,
		DeviceID:      resp.DeviceID,
		Active:        resp.Valid,
		ExpiresAt:     resp.ExpiresAt,
		LastValidated: now,
	}
	if cached != nil {
		license.ID = cached.ID
		license.CreatedAt = cached.CreatedAt
	}
	if !resp.Valid {
		// An explicit rejection is not a transient outage: drop the tier now
		slog.Warn("license no longer valid", "tier", resp.Tier)
		license.Tier = TierFree
	}

	err = g.repo.Save(license)
	if err != nil {
		return fmt.Errorf("failed to save license state: %w", err)
	}

	slog.Info("license refreshed", "tier", license.Tier, "valid", resp.Valid)
	return nil
}

// Activate verifies a key against the server and stores the confirmed state.
func (g *Gate) Activate(ctx context.Context, key string) (*model.License, error) {
	resp, err := g.client.Verify(ctx, key, "")
	if err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, errors.New("license key is not valid")
	}

	license := &model.License{
		Key:           key,
		Tier:          resp.Tier,
		DeviceID:      resp.DeviceID,
		Active:        true,
		ExpiresAt:     resp.ExpiresAt,
		LastValidated: time.Now(),
	}
	err = g.repo.Save(license)
	if err != nil {
		return nil, fmt.Errorf("failed to save license state: %w", err)
	}

	g.key = key
	slog.Info("license activated", "tier", license.Tier)
	return license, nil
}

// Deactivate releases the license on the server and clears the cache.
func (g *Gate) Deactivate(ctx context.Context) error {
	license, err := g.Current()
	if err != nil {
		return err
	}

	err = g.client.Deactivate(ctx, license.ID)
	if err != nil && !errors.Is(err, ErrServerUnavailable) {
		return err
	}

	return g.repo.Delete()
}
