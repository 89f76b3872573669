package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/crypto"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	// otpLookback bounds the scan over unused codes during verification.
	otpLookback = 5

	backupCodeCount  = 10
	backupCodeLength = 5 // random bytes; hex-encoded to 10 characters
)

// MFAService implements the second factors: email/SMS one-time codes and
// authenticator-app TOTP with backup codes.
type MFAService struct {
	cfg   *config.Config
	otps  repository.OTPRepository
	totps repository.TOTPRepository
	enc   *crypto.Encryptor
	gate  *license.Gate
}

func NewMFAService(
	cfg *config.Config,
	otps repository.OTPRepository,
	totps repository.TOTPRepository,
	enc *crypto.Encryptor,
	gate *license.Gate,
) *MFAService {
	return &MFAService{
		cfg:   cfg,
		otps:  otps,
		totps: totps,
		enc:   enc,
		gate:  gate,
	}
}

// CreateOTP generates a one-time code and stores only its peppered hash.
// The plaintext code is returned once, for delivery.
func (s *MFAService) CreateOTP(email, otpType, tokenID string) (string, *model.OTPCode, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	code, err := crypto.RandomDigits(s.cfg.OTPLength)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate code: %w", err)
	}

	record := &model.OTPCode{
		Email:     email,
		Type:      otpType,
		CodeHash:  crypto.HashOTP(code, s.cfg.OTPPepper),
		TokenID:   tokenID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(s.cfg.OTPExpiry) * time.Second),
	}

	err = s.otps.Create(record)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store otp: %w", err)
	}

	slog.Info("otp created", "email", email, "type", otpType)
	return code, record, nil
}

// VerifyOTP checks a submitted code against the newest unused codes for the
// email. On a hash match the record is consumed (marked used) whether the
// outcome is success, expiry or the attempt cap. A miss mutates nothing;
// the scan stays bounded and each comparison is constant-time.
func (s *MFAService) VerifyOTP(email, code, otpType string) (*model.OTPCode, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	candidates, err := s.otps.RecentUnused(email, otpType, otpLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load otp codes: %w", err)
	}

	hash := crypto.HashOTP(code, s.cfg.OTPPepper)

	for _, record := range candidates {
		if !crypto.SafeEqual(hash, record.CodeHash) {
			continue
		}

		record.Attempts++
		record.Used = true

		if record.IsExpired() {
			if updateErr := s.otps.Update(record); updateErr != nil {
				slog.Warn("failed to mark otp used", "error", updateErr)
			}
			return nil, ErrOTPExpired
		}

		if record.Attempts > s.cfg.OTPMaxAttempts {
			if updateErr := s.otps.Update(record); updateErr != nil {
				slog.Warn("failed to mark otp used", "error", updateErr)
			}
			return nil, ErrOTPMaxAttempts
		}

		err = s.otps.Update(record)
		if err != nil {
			return nil, fmt.Errorf("failed to consume otp: %w", err)
		}

		slog.Info("otp verified", "email", email, "type", otpType)
		return record, nil
	}

	return nil, ErrOTPInvalid
}

// InvalidateOTPs consumes all outstanding codes for an email, used before a
// resend so only the newest code works.
func (s *MFAService) InvalidateOTPs(email, otpType string) error {
	return s.otps.MarkUsedByEmail(strings.TrimSpace(strings.ToLower(email)), otpType)
}

// PurgeExpiredOTPs removes expired code rows.
func (s *MFAService) PurgeExpiredOTPs() (int64, error) {
	return s.otps.DeleteExpired(time.Now())
}

// TOTPEnrollment is returned once from SetupTOTP; the secret is never again
// available in plaintext.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

// SetupTOTP starts authenticator enrollment: generates a secret, encrypts
// it at rest, and returns the enrollment payload exactly once. The
// enrollment stays disabled until the first successful verification.
func (s *MFAService) SetupTOTP(userID, email string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.AppName,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	encrypted, err := s.enc.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt totp secret: %w", err)
	}

	cfg := &model.TOTPConfig{
		UserID:          userID,
		Email:           email,
		EncryptedSecret: encrypted,
		Enabled:         false,
		CreatedAt:       time.Now(),
	}

	err = s.totps.Upsert(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to store totp config: %w", err)
	}

	slog.Info("totp setup started", "user_id", userID)
	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// VerifyTOTP checks a time-step code with ±1 step tolerance. The stored
// secret is decrypted only here and never logged. With enableAfterVerify
// the first successful check flips the enrollment on.
func (s *MFAService) VerifyTOTP(userID, code string, enableAfterVerify bool) error {
	cfg, err := s.totps.ByUserID(userID)
	if errors.Is(err, repository.ErrTOTPNotFound) {
		return ErrTOTPNotConfigured
	}
	if err != nil {
		return fmt.Errorf("failed to load totp config: %w", err)
	}

	if !cfg.Enabled && !enableAfterVerify {
		return ErrTOTPNotConfigured
	}

	secret, err := s.enc.Decrypt(cfg.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("failed to decrypt totp secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return ErrTOTPInvalid
	}

	now := time.Now()
	cfg.LastUsedAt = &now
	if enableAfterVerify && !cfg.Enabled {
		cfg.Enabled = true
		slog.Info("totp enabled", "user_id", userID)
	}

	err = s.totps.Update(cfg)
	if err != nil {
		return fmt.Errorf("failed to update totp config: %w", err)
	}
	return nil
}

// TOTPStatus reports enrollment state without exposing the secret.
type TOTPStatus struct {
	Enrolled    bool       `json:"enrolled"`
	Enabled     bool       `json:"enabled"`
	BackupCodes int        `json:"backup_codes"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (s *MFAService) GetTOTPStatus(userID string) (*TOTPStatus, error) {
	cfg, err := s.totps.ByUserID(userID)
	if errors.Is(err, repository.ErrTOTPNotFound) {
		return &TOTPStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load totp config: %w", err)
	}

	return &TOTPStatus{
		Enrolled:    true,
		Enabled:     cfg.Enabled,
		BackupCodes: len(cfg.BackupCodes),
		LastUsedAt:  cfg.LastUsedAt,
	}, nil
}

// TOTPEnabled is the quick check the login flow uses.
func (s *MFAService) TOTPEnabled(userID string) bool {
	status, err := s.GetTOTPStatus(userID)
	if err != nil {
		slog.Error("failed to check totp status", "error", err, "user_id", userID)
		return false
	}
	return status.Enabled
}

// DisableTOTP removes the enrollment entirely, backup codes included.
func (s *MFAService) DisableTOTP(userID string) error {
	err := s.totps.Delete(userID)
	if errors.Is(err, repository.ErrTOTPNotFound) {
		return ErrTOTPNotConfigured
	}
	if err != nil {
		return fmt.Errorf("failed to disable totp: %w", err)
	}

	slog.Info("totp disabled", "user_id", userID)
	return nil
}

// GenerateBackupCodes replaces the user's backup codes with a fresh set of
// single-use codes. Only bcrypt hashes are persisted; the plaintext codes
// are returned once. Top license tier only.
func (s *MFAService) GenerateBackupCodes(userID string) ([]string, error) {
	if !s.gate.HasFeature(license.FeatureBackupCodes) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotLicensed, license.FeatureBackupCodes)
	}

	cfg, err := s.totps.ByUserID(userID)
	if errors.Is(err, repository.ErrTOTPNotFound) {
		return nil, ErrTOTPNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load totp config: %w", err)
	}

	codes := make([]string, 0, backupCodeCount)
	hashes := make(model.JSONStrings, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := crypto.RandomToken(backupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}

		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}

	cfg.BackupCodes = hashes
	err = s.totps.Update(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	slog.Info("backup codes generated", "user_id", userID)
	return codes, nil
}

// VerifyBackupCode consumes a single backup code. Each code works exactly
// once; the matched hash is removed from the set.
func (s *MFAService) VerifyBackupCode(userID, code string) error {
	cfg, err := s.totps.ByUserID(userID)
	if errors.Is(err, repository.ErrTOTPNotFound) {
		return ErrTOTPNotConfigured
	}
	if err != nil {
		return fmt.Errorf("failed to load totp config: %w", err)
	}

	for i, hash := range cfg.BackupCodes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
			continue
		}

		cfg.BackupCodes = append(cfg.BackupCodes[:i], cfg.BackupCodes[i+1:]...)
		now := time.Now()
		cfg.LastUsedAt = &now

		err = s.totps.Update(cfg)
		if err != nil {
			return fmt.Errorf("failed to consume backup code: %w", err)
		}

		slog.Info("backup code used", "user_id", userID, "remaining", len(cfg.BackupCodes))
		return nil
	}

	return ErrTOTPInvalid
}
