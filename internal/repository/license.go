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
	ErrLicenseNotFound = errors.New("license not found")
)

// LicenseRepository stores the single cached license row for this
// deployment.
type LicenseRepository interface {
	Current() (*model.License, error)
	Save(license *model.License) error
	Delete() error
}

type licenseRepository struct {
	db *sqlx.DB
}

func NewLicenseRepository(db *sqlx.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

func (r *licenseRepository) Current() (*model.License, error) {
	license := &model.License{}
	query := `SELECT * FROM license_state ORDER BY created_at DESC LIMIT 1`

	err := r.db.Get(license, query)
	if err == sql.ErrNoRows {
		return nil, ErrLicenseNotFound
	}

	return license, err
}

func (r *licenseRepository) Save(license *model.License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}
	if license.CreatedAt.IsZero() {
		license.CreatedAt = time.Now()
	}

	// Single-row cache: replace whatever was there
	_, err := r.db.Exec(`DELETE FROM license_state`)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO license_state (id, key, tier, device_id, active, expires_at, last_validated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Exec(query,
		license.ID,
		license.Key,
		license.Tier,
		license.DeviceID,
		license.Active,
		license.ExpiresAt,
		license.LastValidated,
		license.CreatedAt,
	)
	return err
}

func (r *licenseRepository) Delete() error {
	_, err := r.db.Exec(`DELETE FROM license_state`)
	return err
}
