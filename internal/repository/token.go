package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/model"
)

var (
	ErrTokenNotFound = errors.New("token not found")
)

// activeScanPage bounds one page of the candidate scan for hash validation.
// Callers page until an empty result, so every active row is reachable.
const activeScanPage = 500

type TokenRepository interface {
	Create(token *model.Token) error
	ByID(id string) (*model.Token, error)
	Active(offset, limit int) ([]*model.Token, error)
	List(email string) ([]*model.Token, error)
	Update(token *model.Token) error
	// Consume atomically deactivates the token. Returns ErrTokenNotFound if
	// it was already inactive, so concurrent logins cannot both redeem it.
	Consume(id string, usedAt time.Time, ip, userAgent *string) error
	Touch(id string, usedAt time.Time, ip, userAgent *string) error
	SetActive(id string, active bool) error
	Delete(id string) error
	CountActive() (int, error)
	DeleteExpired(cutoff time.Time) (int64, error)
}

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Create(token *model.Token) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tokens (id, email, user_id, hash, salt, context, active, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(query,
		token.ID,
		token.Email,
		token.UserID,
		token.Hash,
		token.Salt,
		token.Context,
		token.Active,
		token.CreatedAt,
		token.ExpiresAt,
		token.IP,
		token.UserAgent,
	)
	return err
}

func (r *tokenRepository) ByID(id string) (*model.Token, error) {
	token := &model.Token{}
	query := `SELECT * FROM tokens WHERE id = $1`

	err := r.db.Get(token, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}

	return token, err
}

// Active returns one page of active tokens, newest first. Validation
// recomputes each candidate's salted hash; there is no hash index because
// every row carries its own salt.
func (r *tokenRepository) Active(offset, limit int) ([]*model.Token, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > activeScanPage {
		limit = activeScanPage
	}

	tokens := []*model.Token{}
	// The id tiebreaker keeps the ordering total so pages never skip rows
	query := `SELECT * FROM tokens WHERE active = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	err := r.db.Select(&tokens, query, true, limit, offset)
	return tokens, err
}

func (r *tokenRepository) List(email string) ([]*model.Token, error) {
	tokens := []*model.Token{}
	if email == "" {
		err := r.db.Select(&tokens, `SELECT * FROM tokens ORDER BY created_at DESC`)
		return tokens, err
	}

	err := r.db.Select(&tokens, `SELECT * FROM tokens WHERE email = $1 ORDER BY created_at DESC`, email)
	return tokens, err
}

func (r *tokenRepository) Update(token *model.Token) error {
	query := `
		UPDATE tokens
		SET context = $1, active = $2, expires_at = $3, last_used_at = $4, ip = $5, user_agent = $6
		WHERE id = $7
	`
	_, err := r.db.Exec(query,
		token.Context,
		token.Active,
		token.ExpiresAt,
		token.LastUsedAt,
		token.IP,
		token.UserAgent,
		token.ID,
	)
	return err
}

// Consume is a compare-and-swap on the active flag: only one concurrent
// login can deactivate the token.
func (r *tokenRepository) Consume(id string, usedAt time.Time, ip, userAgent *string) error {
	query := `
		UPDATE tokens
		SET active = $1, last_used_at = $2, ip = COALESCE($3, ip), user_agent = COALESCE($4, user_agent)
		WHERE id = $5 AND active = $6
	`
	result, err := r.db.Exec(query, false, usedAt, ip, userAgent, id, true)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Touch records usage without deactivating (the "stays valid" policy).
func (r *tokenRepository) Touch(id string, usedAt time.Time, ip, userAgent *string) error {
	query := `
		UPDATE tokens
		SET last_used_at = $1, ip = COALESCE($2, ip), user_agent = COALESCE($3, user_agent)
		WHERE id = $4
	`
	_, err := r.db.Exec(query, usedAt, ip, userAgent, id)
	return err
}

func (r *tokenRepository) SetActive(id string, active bool) error {
	result, err := r.db.Exec(`UPDATE tokens SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *tokenRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (r *tokenRepository) CountActive() (int, error) {
	var count int
	err := r.db.Get(&count, `SELECT COUNT(*) FROM tokens WHERE active = $1`, true)
	return count, err
}

// DeleteExpired removes inactive and long-expired tokens. Expiry is
// otherwise evaluated lazily at validation time; this is the administrative
// cleanup path only.
func (r *tokenRepository) DeleteExpired(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
