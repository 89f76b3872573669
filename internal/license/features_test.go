package license

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierHasFeature_Additive(t *testing.T) {
	// Every tier includes the basic flow
	for _, tier := range []string{TierFree, TierPremium, TierAdvanced, TierEnterprise} {
		require.True(t, TierHasFeature(tier, FeatureBasicMagicLink), "tier %s", tier)
	}

	// Premium introduces email OTP; free does not have it
	require.False(t, TierHasFeature(TierFree, FeatureOTPEmail))
	require.True(t, TierHasFeature(TierPremium, FeatureOTPEmail))
	require.True(t, TierHasFeature(TierAdvanced, FeatureOTPEmail))

	// TOTP starts at advanced
	require.False(t, TierHasFeature(TierPremium, FeatureTOTP))
	require.True(t, TierHasFeature(TierAdvanced, FeatureTOTP))
	require.True(t, TierHasFeature(TierEnterprise, FeatureTOTP))

	// Backup codes are enterprise only
	require.False(t, TierHasFeature(TierAdvanced, FeatureBackupCodes))
	require.True(t, TierHasFeature(TierEnterprise, FeatureBackupCodes))
}

func TestTierHasFeature_UnknownTierActsAsFree(t *testing.T) {
	require.True(t, TierHasFeature("mystery", FeatureBasicMagicLink))
	require.False(t, TierHasFeature("mystery", FeatureOTPEmail))
	require.True(t, TierHasFeature("", FeatureBasicMagicLink))
}

func TestTierQuotas(t *testing.T) {
	require.Equal(t, 100, TierQuotas(TierFree).MaxTokens)
	require.Equal(t, -1, TierQuotas(TierEnterprise).MaxSessions)
	require.Equal(t, TierQuotas(TierFree), TierQuotas("bogus"))
}

func TestWithinQuota(t *testing.T) {
	require.True(t, WithinQuota(10, 9))
	require.False(t, WithinQuota(10, 10))
	require.False(t, WithinQuota(10, 11))
	require.True(t, WithinQuota(-1, 1_000_000))
	require.False(t, WithinQuota(0, 0))
}
