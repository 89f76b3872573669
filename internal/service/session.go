package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
)

// bearerPrefixLength is how much of the credential is stored for the legacy
// revoke-by-credential path. Long enough to disambiguate sessions, short
// enough that the stored prefix is useless as a credential.
const bearerPrefixLength = 64

// SessionRegistry records issued bearer credentials so they can be
// individually revoked and swept once expired.
type SessionRegistry struct {
	sessions repository.SessionRepository
	gate     *license.Gate
}

func NewSessionRegistry(sessions repository.SessionRepository, gate *license.Gate) *SessionRegistry {
	return &SessionRegistry{
		sessions: sessions,
		gate:     gate,
	}
}

// NewSessionID builds a unique session id from a high-resolution timestamp
// plus a random suffix.
func NewSessionID() string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(suffix))
}

// BearerPrefix returns the stable prefix of a credential used for matching.
func BearerPrefix(bearer string) string {
	if len(bearer) <= bearerPrefixLength {
		return bearer
	}
	return bearer[:bearerPrefixLength]
}

// Record stores a new session. Fails the quota check before anything is
// written; session creation itself is a single insert.
func (s *SessionRegistry) Record(session *model.Session, bearer string) error {
	if max := s.gate.MaxSessions(); max >= 0 {
		count, err := s.sessions.CountActive()
		if err != nil {
			return fmt.Errorf("failed to count sessions: %w", err)
		}
		if !license.WithinQuota(max, count) {
			return fmt.Errorf("%w: sessions", ErrQuotaExceeded)
		}
	}

	if session.ID == "" {
		session.ID = NewSessionID()
	}
	session.BearerPrefix = BearerPrefix(bearer)

	err := s.sessions.Create(session)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	slog.Info("session recorded", "session_id", session.ID, "user_id", session.UserID, "source", session.Source)
	return nil
}

// Revoke disables a session by id, or by the bearer credential itself,
// in which case every session matching the credential's prefix is
// revoked. Revoking an already-revoked session is a no-op.
func (s *SessionRegistry) Revoke(idOrBearer, reason string) error {
	// Bearer credentials are JWTs and contain dots; session ids never do
	if strings.Contains(idOrBearer, ".") {
		return s.revokeByBearer(idOrBearer, reason)
	}

	session, err := s.sessions.ByID(idOrBearer)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	return s.revoke(session, reason)
}

func (s *SessionRegistry) revokeByBearer(bearer, reason string) error {
	matches, err := s.sessions.ByBearerPrefix(BearerPrefix(bearer))
	if err != nil {
		return fmt.Errorf("failed to look up sessions: %w", err)
	}
	if len(matches) == 0 {
		return ErrSessionNotFound
	}

	for _, session := range matches {
		err := s.revoke(session, reason)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionRegistry) revoke(session *model.Session, reason string) error {
	if session.Revoked {
		return nil // idempotent
	}

	now := time.Now()
	session.Revoked = true
	session.RevokedAt = &now
	session.RevokeReason = &reason

	err := s.sessions.Update(session)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	slog.Info("session revoked", "session_id", session.ID, "reason", reason)
	return nil
}

// Unrevoke restores a revoked session unless it has naturally expired.
func (s *SessionRegistry) Unrevoke(id string) error {
	session, err := s.sessions.ByID(id)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if session.IsExpired() {
		return ErrSessionExpired
	}

	session.Revoked = false
	session.RevokedAt = nil
	session.RevokeReason = nil

	err = s.sessions.Update(session)
	if err != nil {
		return fmt.Errorf("failed to unrevoke session: %w", err)
	}

	slog.Info("session unrevoked", "session_id", session.ID)
	return nil
}

// SweepExpired marks every unrevoked, past-expiry session as revoked.
// Returns the number affected. Runs periodically and on admin demand.
func (s *SessionRegistry) SweepExpired() (int64, error) {
	affected, err := s.sessions.SweepExpired(time.Now(), model.RevokeReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	if affected > 0 {
		slog.Info("expired sessions swept", "count", affected)
	}
	return affected, nil
}

// IsBlocked reports whether the bearer credential belongs to a revoked
// session. A revoked session fails authorization regardless of the
// credential's own unexpired status.
func (s *SessionRegistry) IsBlocked(bearer string) (bool, error) {
	matches, err := s.sessions.ByBearerPrefix(BearerPrefix(bearer))
	if err != nil {
		return false, fmt.Errorf("failed to look up sessions: %w", err)
	}

	for _, session := range matches {
		if session.Revoked {
			return true, nil
		}
	}
	return false, nil
}

// Touch records credential use for session listing.
func (s *SessionRegistry) Touch(bearer string) {
	matches, err := s.sessions.ByBearerPrefix(BearerPrefix(bearer))
	if err != nil {
		slog.Warn("failed to touch session", "error", err)
		return
	}

	now := time.Now()
	for _, session := range matches {
		if session.Revoked {
			continue
		}
		session.LastUsedAt = &now
		err := s.sessions.Update(session)
		if err != nil {
			slog.Warn("failed to touch session", "error", err, "session_id", session.ID)
		}
	}
}

func (s *SessionRegistry) List(userID string) ([]*model.Session, error) {
	return s.sessions.List(userID)
}
