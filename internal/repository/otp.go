package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/model"
)

var (
	ErrOTPNotFound = errors.New("otp code not found")
)

type OTPRepository interface {
	Create(code *model.OTPCode) error
	// RecentUnused returns the newest unused codes for the email and channel,
	// most recent first. Verification scans this bounded set.
	RecentUnused(email, otpType string, limit int) ([]*model.OTPCode, error)
	Update(code *model.OTPCode) error
	MarkUsedByEmail(email, otpType string) error
	DeleteExpired(cutoff time.Time) (int64, error)
}

type otpRepository struct {
	db *sqlx.DB
}

func NewOTPRepository(db *sqlx.DB) OTPRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) Create(code *model.OTPCode) error {
	if code.ID == "" {
		code.ID = uuid.New().String()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO otp_codes (id, email, type, code_hash, token_id, used, attempts, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(query,
		code.ID,
		code.Email,
		code.Type,
		code.CodeHash,
		code.TokenID,
		code.Used,
		code.Attempts,
		code.CreatedAt,
		code.ExpiresAt,
	)
	return err
}

func (r *otpRepository) RecentUnused(email, otpType string, limit int) ([]*model.OTPCode, error) {
	codes := []*model.OTPCode{}
	query := `
		SELECT * FROM otp_codes
		WHERE email = $1 AND type = $2 AND used = $3
		ORDER BY created_at DESC
		LIMIT $4
	`
	err := r.db.Select(&codes, query, email, otpType, false, limit)
	return codes, err
}

func (r *otpRepository) Update(code *model.OTPCode) error {
	query := `UPDATE otp_codes SET used = $1, attempts = $2 WHERE id = $3`
	_, err := r.db.Exec(query, code.Used, code.Attempts, code.ID)
	return err
}

// MarkUsedByEmail invalidates all outstanding codes for an email, used
// before issuing a replacement on resend.
func (r *otpRepository) MarkUsedByEmail(email, otpType string) error {
	query := `UPDATE otp_codes SET used = $1 WHERE email = $2 AND type = $3 AND used = $4`
	_, err := r.db.Exec(query, true, email, otpType, false)
	return err
}

func (r *otpRepository) DeleteExpired(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM otp_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
