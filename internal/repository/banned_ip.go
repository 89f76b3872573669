package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/model"
)

var (
	ErrBannedIPNotFound = errors.New("banned ip not found")
)

type BannedIPRepository interface {
	Create(ban *model.BannedIP) error
	List() ([]*model.BannedIP, error)
	Exists(ip string) (bool, error)
	Count() (int, error)
	Delete(ip string) error
}

type bannedIPRepository struct {
	db *sqlx.DB
}

func NewBannedIPRepository(db *sqlx.DB) BannedIPRepository {
	return &bannedIPRepository{db: db}
}

func (r *bannedIPRepository) Create(ban *model.BannedIP) error {
	if ban.ID == "" {
		ban.ID = uuid.New().String()
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO banned_ips (id, ip, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip) DO UPDATE SET reason = $3
	`
	_, err := r.db.Exec(query, ban.ID, ban.IP, ban.Reason, ban.CreatedAt)
	return err
}

func (r *bannedIPRepository) List() ([]*model.BannedIP, error) {
	bans := []*model.BannedIP{}
	err := r.db.Select(&bans, `SELECT * FROM banned_ips ORDER BY created_at DESC`)
	return bans, err
}

func (r *bannedIPRepository) Exists(ip string) (bool, error) {
	var count int
	err := r.db.Get(&count, `SELECT COUNT(*) FROM banned_ips WHERE ip = $1`, ip)
	return count > 0, err
}

func (r *bannedIPRepository) Count() (int, error) {
	var count int
	err := r.db.Get(&count, `SELECT COUNT(*) FROM banned_ips`)
	return count, err
}

func (r *bannedIPRepository) Delete(ip string) error {
	result, err := r.db.Exec(`DELETE FROM banned_ips WHERE ip = $1`, ip)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBannedIPNotFound
	}
	return nil
}
