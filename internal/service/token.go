package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/crypto"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/sesamelabs/sesame/internal/validation"
)

// maxContextFields caps the free-form context map stored with a token.
const maxContextFields = 16

// TokenService owns the magic-link token lifecycle: issuance, validation,
// consumption and the administrative mutations.
type TokenService struct {
	cfg    *config.Config
	tokens repository.TokenRepository
	dir    directory.Directory
	gate   *license.Gate
}

func NewTokenService(
	cfg *config.Config,
	tokens repository.TokenRepository,
	dir directory.Directory,
	gate *license.Gate,
) *TokenService {
	return &TokenService{
		cfg:    cfg,
		tokens: tokens,
		dir:    dir,
		gate:   gate,
	}
}

// Issue creates a magic-link token for the email. The returned token carries
// the plaintext secret for delivery; only its salted hash is persisted.
func (s *TokenService) Issue(email string, context map[string]any) (*model.Token, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	err := validation.ValidateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	user, err := s.resolveUser(email)
	if err != nil {
		return nil, err
	}
	if user.Blocked {
		return nil, ErrUserBlocked
	}

	if max := s.gate.MaxTokens(); max >= 0 {
		count, err := s.tokens.CountActive()
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}
		if !license.WithinQuota(max, count) {
			return nil, fmt.Errorf("%w: tokens", ErrQuotaExceeded)
		}
	}

	secret, err := crypto.RandomToken(s.cfg.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	salt, err := crypto.RandomSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	filtered := s.filterContext(context)

	token := &model.Token{
		Email:     email,
		UserID:    user.ID,
		Hash:      crypto.HashToken(secret, salt),
		Salt:      salt,
		Context:   filtered,
		Active:    true,
		CreatedAt: time.Now(),
		ExpiresAt: s.expiryFor(filtered),
		Secret:    secret,
	}

	err = s.tokens.Create(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	slog.Info("magic link token issued", "email", email, "token_id", token.ID)
	return token, nil
}

// resolveUser finds or creates the owning user. Creation is a deployment
// policy; with it off an unknown email fails the request.
func (s *TokenService) resolveUser(email string) (*model.User, error) {
	user, err := s.dir.ByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !s.cfg.AllowUserCreation {
		return nil, ErrUserNotFound
	}

	user, err = s.dir.Create(email)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user auto-created for magic link", "email", email, "user_id", user.ID)
	return user, nil
}

// reservedContextKeys are written by the login flow itself to track
// challenge progress. Caller-supplied context must never set them.
var reservedContextKeys = []string{
	model.ContextKeyOTPPending,
	model.ContextKeyTOTPPending,
	model.ContextKeyTOTPUserID,
	model.ContextKeyMFAVerified,
}

// filterContext applies the optional whitelist then blacklist of field names
// and caps the number of fields.
func (s *TokenService) filterContext(context map[string]any) model.JSONMap {
	if len(context) == 0 {
		return model.JSONMap{}
	}

	filtered := model.JSONMap{}
	for key, value := range context {
		if contains(reservedContextKeys, key) {
			slog.Warn("reserved context key dropped", "key", key)
			continue
		}
		if len(s.cfg.ContextWhitelist) > 0 && !contains(s.cfg.ContextWhitelist, key) {
			continue
		}
		if contains(s.cfg.ContextBlacklist, key) {
			continue
		}
		if len(filtered) >= maxContextFields {
			slog.Warn("token context truncated", "dropped_key", key)
			break
		}
		filtered[key] = value
	}
	return filtered
}

// expiryFor computes the token expiry: an explicit ttl (hours) in the
// context always wins over the configured default period (seconds).
func (s *TokenService) expiryFor(context model.JSONMap) time.Time {
	now := time.Now()

	if raw, ok := context[model.ContextKeyTTL]; ok {
		if hours, ok := asFloat(raw); ok && hours > 0 {
			return now.Add(time.Duration(hours * float64(time.Hour)))
		}
	}

	return now.Add(time.Duration(s.cfg.TokenExpirePeriod) * time.Second)
}

// Validate resolves a plaintext secret to its token record. It pages
// through every active token, recomputing each candidate's salted hash and
// comparing in constant time. Validation never mutates state.
func (s *TokenService) Validate(secret string) (*model.Token, error) {
	if secret == "" {
		return nil, ErrTokenInvalid
	}

	for offset := 0; ; {
		candidates, err := s.tokens.Active(offset, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokens: %w", err)
		}
		if len(candidates) == 0 {
			return nil, ErrTokenInvalid
		}

		for _, candidate := range candidates {
			hash := crypto.HashToken(secret, candidate.Salt)
			if !crypto.SafeEqual(hash, candidate.Hash) {
				continue
			}
			if !candidate.IsValid(s.cfg.TokenStaysValid) {
				return nil, ErrTokenInvalid
			}
			return candidate, nil
		}

		offset += len(candidates)
	}
}

// Consume marks the token used. Under the default policy this is a
// compare-and-swap deactivation, so two concurrent logins cannot both redeem
// the same token. With the stays-valid policy only usage metadata is
// recorded.
func (s *TokenService) Consume(token *model.Token, ip, userAgent string) error {
	now := time.Now()

	var ipPtr, uaPtr *string
	if s.cfg.StoreLoginInfo {
		if ip != "" {
			ipPtr = &ip
		}
		if userAgent != "" {
			uaPtr = &userAgent
		}
	}

	if s.cfg.TokenStaysValid {
		err := s.tokens.Touch(token.ID, now, ipPtr, uaPtr)
		if err != nil {
			return fmt.Errorf("failed to record token use: %w", err)
		}
		return nil
	}

	err := s.tokens.Consume(token.ID, now, ipPtr, uaPtr)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	return nil
}

// UpdateContext persists changes the login flow makes to a token's context
// (second-factor progress markers).
func (s *TokenService) UpdateContext(token *model.Token) error {
	err := s.tokens.Update(token)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// Block administratively deactivates a token.
func (s *TokenService) Block(id string) error {
	err := s.tokens.SetActive(id, false)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return ErrTokenInvalid
	}
	return err
}

// Reactivate re-enables a blocked token.
func (s *TokenService) Reactivate(id string) error {
	err := s.tokens.SetActive(id, true)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return ErrTokenInvalid
	}
	return err
}

// Extend pushes a token's expiry out by the given number of days, counted
// from whichever is later: now or the current expiry.
func (s *TokenService) Extend(id string, days int) (*model.Token, error) {
	token, err := s.tokens.ByID(id)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	base := time.Now()
	if token.ExpiresAt.After(base) {
		base = token.ExpiresAt
	}
	token.ExpiresAt = base.Add(time.Duration(days) * 24 * time.Hour)

	err = s.tokens.Update(token)
	if err != nil {
		return nil, fmt.Errorf("failed to extend token: %w", err)
	}
	return token, nil
}

func (s *TokenService) ByID(id string) (*model.Token, error) {
	token, err := s.tokens.ByID(id)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrTokenInvalid
	}
	return token, err
}

func (s *TokenService) List(email string) ([]*model.Token, error) {
	return s.tokens.List(strings.TrimSpace(strings.ToLower(email)))
}

func (s *TokenService) Delete(id string) error {
	err := s.tokens.Delete(id)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return ErrTokenInvalid
	}
	return err
}

// CleanupExpired physically removes expired token rows. Expiry is otherwise
// evaluated lazily at validation time.
func (s *TokenService) CleanupExpired() (int64, error) {
	return s.tokens.DeleteExpired(time.Now())
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
