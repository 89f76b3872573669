package license

import (
	"testing"
	"time"

	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/stretchr/testify/require"
)

// stubLicenseRepo holds at most one cached license in memory.
type stubLicenseRepo struct {
	license *model.License
}

func (s *stubLicenseRepo) Current() (*model.License, error) {
	if s.license == nil {
		return nil, repository.ErrLicenseNotFound
	}
	return s.license, nil
}

func (s *stubLicenseRepo) Save(l *model.License) error {
	s.license = l
	return nil
}

func (s *stubLicenseRepo) Delete() error {
	s.license = nil
	return nil
}

func newTestGate(license *model.License) *Gate {
	return NewGate(&stubLicenseRepo{license: license}, NewClient(""), "")
}

func validLicense(tier string) *model.License {
	future := time.Now().Add(365 * 24 * time.Hour)
	return &model.License{
		ID:            "lic-1",
		Key:           "key-1",
		Tier:          tier,
		Active:        true,
		ExpiresAt:     &future,
		LastValidated: time.Now(),
	}
}

func TestEffectiveTier_NoLicense(t *testing.T) {
	gate := newTestGate(nil)
	require.Equal(t, TierFree, gate.EffectiveTier())
	require.False(t, gate.HasFeature(FeatureOTPEmail))
	require.True(t, gate.HasFeature(FeatureBasicMagicLink))
}

func TestEffectiveTier_ActiveLicense(t *testing.T) {
	gate := newTestGate(validLicense(TierAdvanced))
	require.Equal(t, TierAdvanced, gate.EffectiveTier())
	require.True(t, gate.HasFeature(FeatureTOTP))
	require.Equal(t, 10000, gate.MaxTokens())
}

func TestEffectiveTier_InactiveLicense(t *testing.T) {
	lic := validLicense(TierPremium)
	lic.Active = false
	gate := newTestGate(lic)
	require.Equal(t, TierFree, gate.EffectiveTier())
}

func TestEffectiveTier_ExpiredLicense(t *testing.T) {
	lic := validLicense(TierPremium)
	past := time.Now().Add(-time.Hour)
	lic.ExpiresAt = &past
	gate := newTestGate(lic)
	require.Equal(t, TierFree, gate.EffectiveTier())
}

func TestEffectiveTier_WithinGracePeriod(t *testing.T) {
	lic := validLicense(TierEnterprise)
	lic.LastValidated = time.Now().Add(-GracePeriod / 2)
	gate := newTestGate(lic)
	require.Equal(t, TierEnterprise, gate.EffectiveTier())
}

func TestEffectiveTier_GracePeriodElapsed(t *testing.T) {
	lic := validLicense(TierEnterprise)
	lic.LastValidated = time.Now().Add(-GracePeriod - time.Minute)
	gate := newTestGate(lic)
	require.Equal(t, TierFree, gate.EffectiveTier())
}

func TestGateCurrent_NoLicense(t *testing.T) {
	gate := newTestGate(nil)
	_, err := gate.Current()
	require.ErrorIs(t, err, ErrNoLicense)
}
