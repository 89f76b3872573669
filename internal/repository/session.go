package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

type SessionRepository interface {
	Create(session *model.Session) error
	ByID(id string) (*model.Session, error)
	ByBearerPrefix(prefix string) ([]*model.Session, error)
	List(userID string) ([]*model.Session, error)
	Update(session *model.Session) error
	CountActive() (int, error)
	// SweepExpired marks unrevoked, past-expiry sessions as revoked and
	// returns the number affected.
	SweepExpired(now time.Time, reason string) (int64, error)
}

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *model.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (id, user_id, email, bearer_prefix, source, ip, user_agent, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(query,
		session.ID,
		session.UserID,
		session.Email,
		session.BearerPrefix,
		session.Source,
		session.IP,
		session.UserAgent,
		session.CreatedAt,
		session.ExpiresAt,
		session.Revoked,
	)
	return err
}

func (r *sessionRepository) ByID(id string) (*model.Session, error) {
	session := &model.Session{}
	query := `SELECT * FROM sessions WHERE id = $1`

	err := r.db.Get(session, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}

	return session, err
}

func (r *sessionRepository) ByBearerPrefix(prefix string) ([]*model.Session, error) {
	sessions := []*model.Session{}
	query := `SELECT * FROM sessions WHERE bearer_prefix = $1`

	err := r.db.Select(&sessions, query, prefix)
	return sessions, err
}

func (r *sessionRepository) List(userID string) ([]*model.Session, error) {
	sessions := []*model.Session{}
	if userID == "" {
		err := r.db.Select(&sessions, `SELECT * FROM sessions ORDER BY created_at DESC`)
		return sessions, err
	}

	err := r.db.Select(&sessions, `SELECT * FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	return sessions, err
}

func (r *sessionRepository) Update(session *model.Session) error {
	query := `
		UPDATE sessions
		SET revoked = $1, revoked_at = $2, revoke_reason = $3, last_used_at = $4
		WHERE id = $5
	`
	result, err := r.db.Exec(query,
		session.Revoked,
		session.RevokedAt,
		session.RevokeReason,
		session.LastUsedAt,
		session.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) CountActive() (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sessions WHERE revoked = $1 AND expires_at > $2`
	err := r.db.Get(&count, query, false, time.Now())
	return count, err
}

func (r *sessionRepository) SweepExpired(now time.Time, reason string) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked = $1, revoked_at = $2, revoke_reason = $3
		WHERE revoked = $4 AND expires_at < $5
	`
	result, err := r.db.Exec(query, true, now, reason, false, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
