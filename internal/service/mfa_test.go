package service

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pquerna/otp/totp"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/stretchr/testify/require"
)

func newMFAService(t *testing.T, tier string) (*MFAService, *sqlx.DB) {
	t.Helper()
	database := newTestDB(t)
	svc := NewMFAService(
		newTestConfig(),
		repository.NewOTPRepository(database),
		repository.NewTOTPRepository(database),
		newTestEncryptor(t),
		setTier(t, database, tier),
	)
	return svc, database
}

// ageOTP pushes a stored code's expiry into the past.
func ageOTP(t *testing.T, database *sqlx.DB, id string) {
	t.Helper()
	_, err := database.Exec(`UPDATE otp_codes SET expires_at = $1 WHERE id = $2`,
		time.Now().Add(-time.Minute), id)
	require.NoError(t, err)
}

func TestOTP_CreateAndVerify(t *testing.T) {
	svc, _ := newMFAService(t, license.TierPremium)

	code, record, err := svc.CreateOTP("alice@example.com", "email", "token-1")
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.NotEqual(t, code, record.CodeHash)
	require.Equal(t, "token-1", record.TokenID)

	verified, err := svc.VerifyOTP("alice@example.com", code, "email")
	require.NoError(t, err)
	require.Equal(t, record.ID, verified.ID)
	require.True(t, verified.Used)
}

func TestOTP_SingleUse(t *testing.T) {
	svc, _ := newMFAService(t, license.TierPremium)

	code, _, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)

	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.NoError(t, err)

	// The consumed code no longer verifies
	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.ErrorIs(t, err, ErrOTPInvalid)
}

func TestOTP_WrongCodeMutatesNothing(t *testing.T) {
	svc, _ := newMFAService(t, license.TierPremium)

	code, _, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)

	// Misses do not consume the outstanding code
	for i := 0; i < 10; i++ {
		_, err = svc.VerifyOTP("alice@example.com", "000000", "email")
		require.ErrorIs(t, err, ErrOTPInvalid)
	}

	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.NoError(t, err)
}

func TestOTP_Expired(t *testing.T) {
	svc, database := newMFAService(t, license.TierPremium)

	code, record, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)
	ageOTP(t, database, record.ID)

	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.ErrorIs(t, err, ErrOTPExpired)

	// The expired code was consumed in the process
	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.ErrorIs(t, err, ErrOTPInvalid)
}

func TestOTP_MaxAttempts(t *testing.T) {
	svc, database := newMFAService(t, license.TierPremium)

	code, record, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)

	// Carry the record to the attempt cap; the next match must refuse it
	_, err = database.Exec(`UPDATE otp_codes SET attempts = $1 WHERE id = $2`, 3, record.ID)
	require.NoError(t, err)

	_, err = svc.VerifyOTP("alice@example.com", code, "email")
	require.ErrorIs(t, err, ErrOTPMaxAttempts)
}

func TestOTP_CaseInsensitiveEmail(t *testing.T) {
	svc, _ := newMFAService(t, license.TierPremium)

	code, _, err := svc.CreateOTP("Alice@Example.com", "email", "")
	require.NoError(t, err)

	_, err = svc.VerifyOTP("alice@example.COM", code, "email")
	require.NoError(t, err)
}

func TestOTP_InvalidateOutstanding(t *testing.T) {
	svc, _ := newMFAService(t, license.TierPremium)

	old, _, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)

	require.NoError(t, svc.InvalidateOTPs("alice@example.com", "email"))

	fresh, _, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)

	_, err = svc.VerifyOTP("alice@example.com", old, "email")
	require.ErrorIs(t, err, ErrOTPInvalid)

	_, err = svc.VerifyOTP("alice@example.com", fresh, "email")
	require.NoError(t, err)
}

func TestOTP_PurgeExpired(t *testing.T) {
	svc, database := newMFAService(t, license.TierPremium)

	_, record, err := svc.CreateOTP("alice@example.com", "email", "")
	require.NoError(t, err)
	ageOTP(t, database, record.ID)

	removed, err := svc.PurgeExpiredOTPs()
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestTOTP_EnrollmentLifecycle(t *testing.T) {
	svc, _ := newMFAService(t, license.TierAdvanced)

	enrollment, err := svc.SetupTOTP("u1", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://")

	// Enrollment is pending until the first verified code
	require.False(t, svc.TOTPEnabled("u1"))

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	// Without enable-after-verify a pending enrollment does not count
	require.ErrorIs(t, svc.VerifyTOTP("u1", code, false), ErrTOTPNotConfigured)

	require.NoError(t, svc.VerifyTOTP("u1", code, true))
	require.True(t, svc.TOTPEnabled("u1"))

	status, err := svc.GetTOTPStatus("u1")
	require.NoError(t, err)
	require.True(t, status.Enrolled)
	require.True(t, status.Enabled)
	require.NotNil(t, status.LastUsedAt)
}

func TestTOTP_WrongCode(t *testing.T) {
	svc, _ := newMFAService(t, license.TierAdvanced)

	enrollment, err := svc.SetupTOTP("u1", "alice@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTOTP("u1", code, true))

	require.ErrorIs(t, svc.VerifyTOTP("u1", "000000", false), ErrTOTPInvalid)
}

func TestTOTP_NotEnrolled(t *testing.T) {
	svc, _ := newMFAService(t, license.TierAdvanced)

	require.ErrorIs(t, svc.VerifyTOTP("ghost", "123456", false), ErrTOTPNotConfigured)
	require.False(t, svc.TOTPEnabled("ghost"))

	status, err := svc.GetTOTPStatus("ghost")
	require.NoError(t, err)
	require.False(t, status.Enrolled)
}

func TestTOTP_Disable(t *testing.T) {
	svc, _ := newMFAService(t, license.TierAdvanced)

	_, err := svc.SetupTOTP("u1", "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.DisableTOTP("u1"))
	require.ErrorIs(t, svc.DisableTOTP("u1"), ErrTOTPNotConfigured)
}

func TestBackupCodes_Lifecycle(t *testing.T) {
	svc, _ := newMFAService(t, license.TierEnterprise)

	_, err := svc.SetupTOTP("u1", "alice@example.com")
	require.NoError(t, err)

	codes, err := svc.GenerateBackupCodes("u1")
	require.NoError(t, err)
	require.Len(t, codes, 10)

	// Each code works exactly once
	require.NoError(t, svc.VerifyBackupCode("u1", codes[0]))
	require.ErrorIs(t, svc.VerifyBackupCode("u1", codes[0]), ErrTOTPInvalid)

	status, err := svc.GetTOTPStatus("u1")
	require.NoError(t, err)
	require.Equal(t, 9, status.BackupCodes)
}

func TestBackupCodes_RequiresTopTier(t *testing.T) {
	svc, _ := newMFAService(t, license.TierAdvanced)

	_, err := svc.SetupTOTP("u1", "alice@example.com")
	require.NoError(t, err)

	_, err = svc.GenerateBackupCodes("u1")
	require.ErrorIs(t, err, ErrFeatureNotLicensed)
}
