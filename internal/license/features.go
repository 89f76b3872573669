// Package license gates which login paths are reachable based on the
// deployment's license tier, and keeps the cached license state fresh via a
// background monitor against the license server.
package license

// Tiers, lowest to highest. Each tier's feature set is additive over the
// tiers below it.
const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierAdvanced   = "advanced"
	TierEnterprise = "enterprise"
)

// Feature names checked by the login flow and admin surface.
const (
	FeatureBasicMagicLink = "basic-magic-link"
	FeatureOTPEmail       = "otp-email"
	FeatureOTPSMS         = "otp-sms"
	FeatureTOTP           = "totp"
	FeatureTOTPPrimary    = "totp-primary"
	FeatureIPBan          = "ip-ban"
	FeatureSessionAdmin   = "session-management"
	FeatureBackupCodes    = "backup-codes"
	FeatureWhatsApp       = "whatsapp"
)

// tierOrder positions tiers for inheritance checks. Unknown tiers map to -1
// and therefore match nothing beyond free.
var tierOrder = map[string]int{
	TierFree:       0,
	TierPremium:    1,
	TierAdvanced:   2,
	TierEnterprise: 3,
}

// tierFeatures lists the features each tier introduces on top of the tier
// below it.
var tierFeatures = map[string][]string{
	TierFree:       {FeatureBasicMagicLink},
	TierPremium:    {FeatureOTPEmail, FeatureIPBan},
	TierAdvanced:   {FeatureOTPSMS, FeatureTOTP, FeatureTOTPPrimary, FeatureSessionAdmin},
	TierEnterprise: {FeatureBackupCodes, FeatureWhatsApp},
}

// Quotas per tier; -1 means unlimited.
type Quotas struct {
	MaxTokens   int
	MaxSessions int
	MaxIPBans   int
}

var tierQuotas = map[string]Quotas{
	TierFree:       {MaxTokens: 100, MaxSessions: 100, MaxIPBans: 10},
	TierPremium:    {MaxTokens: 1000, MaxSessions: 1000, MaxIPBans: 100},
	TierAdvanced:   {MaxTokens: 10000, MaxSessions: 10000, MaxIPBans: 1000},
	TierEnterprise: {MaxTokens: -1, MaxSessions: -1, MaxIPBans: -1},
}

// TierHasFeature reports whether the given tier (or a tier below it)
// includes the feature. Checks from the highest tier down; first match wins.
// Unknown or empty tiers fall back to the free feature set.
func TierHasFeature(tier, feature string) bool {
	rank, ok := tierOrder[tier]
	if !ok {
		rank = 0
	}

	for _, t := range []string{TierEnterprise, TierAdvanced, TierPremium, TierFree} {
		if tierOrder[t] > rank {
			continue
		}
		for _, f := range tierFeatures[t] {
			if f == feature {
				return true
			}
		}
	}
	return false
}

// TierQuotas returns the quota set for a tier, defaulting to free limits for
// unknown tiers.
func TierQuotas(tier string) Quotas {
	q, ok := tierQuotas[tier]
	if !ok {
		return tierQuotas[TierFree]
	}
	return q
}

// WithinQuota reports whether current usage leaves room under the limit;
// -1 is unlimited.
func WithinQuota(limit, current int) bool {
	if limit < 0 {
		return true
	}
	return current < limit
}
