package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/model"
)

var (
	ErrTOTPNotFound = errors.New("totp config not found")
)

type TOTPRepository interface {
	Upsert(config *model.TOTPConfig) error
	ByUserID(userID string) (*model.TOTPConfig, error)
	Update(config *model.TOTPConfig) error
	Delete(userID string) error
}

type totpRepository struct {
	db *sqlx.DB
}

func NewTOTPRepository(db *sqlx.DB) TOTPRepository {
	return &totpRepository{db: db}
}

// Upsert replaces any existing enrollment for the user. Re-running setup
// before the first verification simply rotates the pending secret.
func (r *totpRepository) Upsert(config *model.TOTPConfig) error {
	if config.CreatedAt.IsZero() {
		config.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO totp_configs (user_id, email, encrypted_secret, enabled, backup_codes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET email = $2, encrypted_secret = $3, enabled = $4, backup_codes = $5
	`
	_, err := r.db.Exec(query,
		config.UserID,
		config.Email,
		config.EncryptedSecret,
		config.Enabled,
		config.BackupCodes,
		config.CreatedAt,
	)
	return err
}

func (r *totpRepository) ByUserID(userID string) (*model.TOTPConfig, error) {
	config := &model.TOTPConfig{}
	query := `SELECT * FROM totp_configs WHERE user_id = $1`

	err := r.db.Get(config, query, userID)
	if err == sql.ErrNoRows {
		return nil, ErrTOTPNotFound
	}

	return config, err
}

func (r *totpRepository) Update(config *model.TOTPConfig) error {
	query := `
		UPDATE totp_configs
		SET enabled = $1, backup_codes = $2, last_used_at = $3
		WHERE user_id = $4
	`
	result, err := r.db.Exec(query,
		config.Enabled,
		config.BackupCodes,
		config.LastUsedAt,
		config.UserID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTOTPNotFound
	}
	return nil
}

func (r *totpRepository) Delete(userID string) error {
	result, err := r.db.Exec(`DELETE FROM totp_configs WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTOTPNotFound
	}
	return nil
}
