package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/notify"
)

const (
	// maxContextValueLength caps string values echoed into session claims.
	maxContextValueLength = 256
	// maxContextBytes caps the serialized sanitized context.
	maxContextBytes = 2048
)

// LoginResult is a completed login: a bearer credential plus its metadata.
type LoginResult struct {
	JWT       string         `json:"jwt"`
	User      *model.User    `json:"user"`
	ExpiresAt time.Time      `json:"expires_at"`
	Context   map[string]any `json:"context,omitempty"`
	Source    string         `json:"source"`
}

// Challenge is returned when a second factor is required before a session
// can be issued.
type Challenge struct {
	RequiresOTP  bool   `json:"requires_otp,omitempty"`
	RequiresTOTP bool   `json:"requires_totp,omitempty"`
	Email        string `json:"email,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// SendResult reports link delivery. A delivery warning means the token was
// issued but the notification could not be sent; the token stays usable for
// a resend.
type SendResult struct {
	Sent    bool   `json:"sent"`
	Warning string `json:"warning,omitempty"`
}

// LoginService drives the end-to-end login flow: magic link, then optional
// OTP or TOTP, then session issuance.
type LoginService struct {
	cfg      *config.Config
	tokens   *TokenService
	sessions *SessionRegistry
	mfa      *MFAService
	gate     *license.Gate
	dir      directory.Directory
	notifier notify.Notifier
	renderer *notify.Renderer
	limiter  *RateLimitService
}

func NewLoginService(
	cfg *config.Config,
	tokens *TokenService,
	sessions *SessionRegistry,
	mfa *MFAService,
	gate *license.Gate,
	dir directory.Directory,
	notifier notify.Notifier,
	renderer *notify.Renderer,
	limiter *RateLimitService,
) *LoginService {
	return &LoginService{
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		mfa:      mfa,
		gate:     gate,
		dir:      dir,
		notifier: notifier,
		renderer: renderer,
		limiter:  limiter,
	}
}

// SendLink issues a magic-link token and asks the notifier to deliver it.
// A delivery failure does not roll the token back.
func (s *LoginService) SendLink(ctx context.Context, email string, tokenContext map[string]any, ip string) (*SendResult, error) {
	if !s.cfg.Enabled {
		return nil, ErrPluginDisabled
	}

	err := s.checkRate(model.RateCategorySendLink, strings.ToLower(email), ip)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(email, tokenContext)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/auth/login?token=%s", s.cfg.AppURL, token.Secret)
	msg, err := s.renderer.MagicLink(url, time.Until(token.ExpiresAt))
	if err != nil {
		return nil, err
	}

	err = s.notifier.Deliver(ctx, notify.ChannelEmail, token.Email, msg)
	if err != nil {
		// The token stays valid for a resend; delivery failure is a
		// warning, not a transaction abort
		slog.Error("magic link delivery failed", "error", err, "email", token.Email)
		return &SendResult{Sent: false, Warning: "delivery failed, link can be resent"}, nil
	}

	return &SendResult{Sent: true}, nil
}

// LoginWithToken validates a presented magic-link token and either issues a
// session directly or returns a second-factor challenge. No session exists
// until the challenge is answered.
func (s *LoginService) LoginWithToken(ctx context.Context, secret, ip, userAgent string) (*LoginResult, *Challenge, error) {
	if !s.cfg.Enabled {
		return nil, nil, ErrPluginDisabled
	}

	err := s.checkRate(model.RateCategoryLogin, ip)
	if err != nil {
		return nil, nil, err
	}

	token, err := s.tokens.Validate(secret)
	if err != nil {
		return nil, nil, err
	}

	// Branch 1: email OTP, when enabled and licensed
	if s.cfg.OTPEnabled && s.gate.HasFeature(license.FeatureOTPEmail) {
		challenge, err := s.startOTPChallenge(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		return nil, challenge, nil
	}

	// Branch 2: TOTP, when required and the user is enrolled
	if s.cfg.RequireTOTP && s.mfa.TOTPEnabled(token.UserID) {
		challenge, err := s.startTOTPChallenge(token)
		if err != nil {
			return nil, nil, err
		}
		return nil, challenge, nil
	}

	// Branch 3: direct session
	result, err := s.completeLogin(token, model.SessionSourceDirect, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func (s *LoginService) startOTPChallenge(ctx context.Context, token *model.Token) (*Challenge, error) {
	if token.Context == nil {
		token.Context = model.JSONMap{}
	}
	token.Context[model.ContextKeyOTPPending] = true
	token.Context[model.ContextKeyMFAVerified] = false

	err := s.tokens.UpdateContext(token)
	if err != nil {
		return nil, err
	}

	code, _, err := s.mfa.CreateOTP(token.Email, model.OTPTypeEmail, token.ID)
	if err != nil {
		return nil, err
	}

	msg, err := s.renderer.OTPCode(code, time.Duration(s.cfg.OTPExpiry)*time.Second)
	if err != nil {
		return nil, err
	}

	err = s.notifier.Deliver(ctx, notify.ChannelEmail, token.Email, msg)
	if err != nil {
		// Code record stays valid for an explicit resend
		slog.Error("otp delivery failed", "error", err, "email", token.Email)
	}

	return &Challenge{RequiresOTP: true, Email: token.Email}, nil
}

func (s *LoginService) startTOTPChallenge(token *model.Token) (*Challenge, error) {
	if token.Context == nil {
		token.Context = model.JSONMap{}
	}
	token.Context[model.ContextKeyTOTPPending] = true
	token.Context[model.ContextKeyMFAVerified] = false

	err := s.tokens.UpdateContext(token)
	if err != nil {
		return nil, err
	}

	return &Challenge{RequiresTOTP: true, UserID: token.UserID}, nil
}

// SendOTP creates and delivers a standalone code, invalidating any codes
// already outstanding for the email.
func (s *LoginService) SendOTP(ctx context.Context, email, ip string) error {
	if !s.cfg.Enabled {
		return ErrPluginDisabled
	}
	if !s.cfg.OTPEnabled || !s.gate.HasFeature(license.FeatureOTPEmail) {
		return fmt.Errorf("%w: %s", ErrFeatureNotLicensed, license.FeatureOTPEmail)
	}

	err := s.checkRate(model.RateCategoryOTPSend, strings.ToLower(email), ip)
	if err != nil {
		return err
	}

	user, err := s.dir.ByEmail(email)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.Blocked {
		return ErrUserBlocked
	}

	err = s.mfa.InvalidateOTPs(email, model.OTPTypeEmail)
	if err != nil {
		slog.Warn("failed to invalidate outstanding otps", "error", err, "email", email)
	}

	code, _, err := s.mfa.CreateOTP(email, model.OTPTypeEmail, "")
	if err != nil {
		return err
	}

	msg, err := s.renderer.OTPCode(code, time.Duration(s.cfg.OTPExpiry)*time.Second)
	if err != nil {
		return err
	}

	err = s.notifier.Deliver(ctx, notify.ChannelEmail, user.Email, msg)
	if err != nil {
		slog.Error("otp delivery failed", "error", err, "email", user.Email)
	}
	return nil
}

// CompleteOTP verifies a submitted code and issues the session the pending
// magic-link login was waiting on.
func (s *LoginService) CompleteOTP(email, code, ip, userAgent string) (*LoginResult, error) {
	if !s.cfg.Enabled {
		return nil, ErrPluginDisabled
	}

	err := s.checkRate(model.RateCategoryOTPVerify, strings.ToLower(email), ip)
	if err != nil {
		return nil, err
	}

	record, err := s.mfa.VerifyOTP(email, code, model.OTPTypeEmail)
	if err != nil {
		return nil, err
	}

	// A code created by the login flow references the token it belongs to;
	// a standalone resend may not
	if record.TokenID != "" {
		token, err := s.tokens.ByID(record.TokenID)
		if err == nil {
			if token.Context == nil {
				token.Context = model.JSONMap{}
			}
			token.Context[model.ContextKeyMFAVerified] = true
			if err := s.tokens.UpdateContext(token); err != nil {
				slog.Warn("failed to mark token verified", "error", err, "token_id", token.ID)
			}
			return s.completeLogin(token, model.SessionSourceOTP, ip, userAgent)
		}
		slog.Warn("otp token reference missing, issuing by email", "token_id", record.TokenID)
	}

	user, err := s.resolveLoginUser(email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(user, nil, model.SessionSourceOTP, ip, userAgent)
}

// CompleteTOTP finishes a magic-link login that was parked awaiting an
// authenticator code.
func (s *LoginService) CompleteTOTP(secret, code, ip, userAgent string) (*LoginResult, error) {
	if !s.cfg.Enabled {
		return nil, ErrPluginDisabled
	}

	err := s.checkRate(model.RateCategoryLogin, ip)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Validate(secret)
	if err != nil {
		return nil, err
	}

	// The token's owner is authoritative; context is never trusted here
	err = s.verifyAuthenticatorCode(token.UserID, code)
	if err != nil {
		return nil, err
	}

	if token.Context == nil {
		token.Context = model.JSONMap{}
	}
	token.Context[model.ContextKeyMFAVerified] = true
	if err := s.tokens.UpdateContext(token); err != nil {
		slog.Warn("failed to mark token verified", "error", err, "token_id", token.ID)
	}

	return s.completeLogin(token, model.SessionSourceMFA, ip, userAgent)
}

// LoginWithTOTP is the parallel entry point that skips the magic link
// entirely: email plus authenticator code. Requires the TOTP-primary
// deployment flag and an advanced-or-higher license.
func (s *LoginService) LoginWithTOTP(email, code, ip, userAgent string) (*LoginResult, error) {
	if !s.cfg.Enabled {
		return nil, ErrPluginDisabled
	}
	if !s.cfg.TOTPPrimaryEnabled || !s.gate.HasFeature(license.FeatureTOTPPrimary) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotLicensed, license.FeatureTOTPPrimary)
	}

	err := s.checkRate(model.RateCategoryLogin, strings.ToLower(email), ip)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveLoginUser(email)
	if err != nil {
		return nil, err
	}

	if !s.mfa.TOTPEnabled(user.ID) {
		return nil, ErrTOTPNotConfigured
	}

	err = s.verifyAuthenticatorCode(user.ID, code)
	if err != nil {
		return nil, err
	}

	return s.issueSession(user, nil, model.SessionSourceTOTPPrimary, ip, userAgent)
}

// verifyAuthenticatorCode accepts either a current TOTP code or one of the
// user's single-use backup codes.
func (s *LoginService) verifyAuthenticatorCode(userID, code string) error {
	err := s.mfa.VerifyTOTP(userID, code, false)
	if errors.Is(err, ErrTOTPInvalid) {
		return s.mfa.VerifyBackupCode(userID, code)
	}
	return err
}

// completeLogin consumes the token and issues the session. Consumption and
// session creation are each single atomic store operations; nothing is left
// half-applied on failure.
func (s *LoginService) completeLogin(token *model.Token, source, ip, userAgent string) (*LoginResult, error) {
	err := s.tokens.Consume(token, ip, userAgent)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveLoginUser(token.Email)
	if err != nil {
		return nil, err
	}

	return s.issueSession(user, token.Context, source, ip, userAgent)
}

func (s *LoginService) resolveLoginUser(email string) (*model.User, error) {
	user, err := s.dir.ByEmail(email)
	if errors.Is(err, directory.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.Blocked {
		return nil, ErrUserBlocked
	}

	// Presenting a valid link proves control of the mailbox
	if !user.IsConfirmed() {
		err = s.dir.SetConfirmed(user.ID)
		if err != nil {
			slog.Warn("failed to auto-confirm user", "error", err, "user_id", user.ID)
		}
	}

	return user, nil
}

// issueSession signs the bearer credential and records the session
// atomically with it.
func (s *LoginService) issueSession(user *model.User, tokenContext model.JSONMap, source, ip, userAgent string) (*LoginResult, error) {
	sessionID := NewSessionID()
	expiry := config.ParseExpiry(s.cfg.SessionExpiry)
	now := time.Now()
	expiresAt := now.Add(expiry)

	sanitized := s.sanitizeContext(tokenContext)

	claims := jwt.MapClaims{
		"user_id":    user.ID,
		"email":      user.Email,
		"session_id": sessionID,
		"source":     source,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	if len(sanitized) > 0 {
		claims["context"] = sanitized
	}

	bearer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if ip != "" {
		session.IP = &ip
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}

	err = s.sessions.Record(session, bearer)
	if err != nil {
		return nil, err
	}

	slog.Info("login completed", "user_id", user.ID, "source", source, "session_id", sessionID)

	return &LoginResult{
		JWT:       bearer,
		User:      user,
		ExpiresAt: expiresAt,
		Context:   sanitized,
		Source:    source,
	}, nil
}

// VerifyJWT parses and validates a bearer credential.
func (s *LoginService) VerifyJWT(bearer string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(bearer, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// sanitizeContext reduces a token context to the subset safe to echo into
// session claims: allow-listed keys, length-capped strings, and a hard cap
// on the serialized size after a JSON round trip.
func (s *LoginService) sanitizeContext(tokenContext model.JSONMap) map[string]any {
	if len(tokenContext) == 0 {
		return nil
	}

	sanitized := map[string]any{}
	for _, key := range s.cfg.ContextAllowed {
		value, ok := tokenContext[key]
		if !ok {
			continue
		}

		if str, ok := value.(string); ok {
			if len(str) > maxContextValueLength {
				str = str[:maxContextValueLength]
			}
			sanitized[key] = str
			continue
		}

		// Round-trip non-string values so only plain JSON survives
		raw, err := json.Marshal(value)
		if err != nil || len(raw) > maxContextBytes {
			continue
		}
		var clean any
		if json.Unmarshal(raw, &clean) == nil {
			sanitized[key] = clean
		}
	}

	// Enforce the overall cap after assembly
	raw, err := json.Marshal(sanitized)
	if err != nil || len(raw) > maxContextBytes {
		return nil
	}
	if len(sanitized) == 0 {
		return nil
	}
	return sanitized
}

// checkRate runs the limiter for every non-empty identifier. The first
// denial wins and carries the retry-after hint.
func (s *LoginService) checkRate(category string, identifiers ...string) error {
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		result, err := s.limiter.Check(category, id)
		if err != nil {
			// Fail open for this identifier only; the rest still count
			slog.Error("rate limit check failed", "error", err, "category", category)
			continue
		}
		if !result.Allowed {
			return &RateLimitedError{RetryAfter: result.RetryAfter}
		}
	}
	return nil
}

// RateLimitedError carries the retry-after hint to the transport boundary.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
