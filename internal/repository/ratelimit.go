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
	ErrRateLimitNotFound = errors.New("rate limit entry not found")
)

type RateLimitRepository interface {
	Get(category, identifier string) (*model.RateLimitEntry, error)
	Upsert(entry *model.RateLimitEntry) error
	DeleteOlderThan(cutoff time.Time) (int64, error)
	DeleteAll() error
	Count() (int, error)
	TopEntries(limit int) ([]*model.RateLimitEntry, error)
}

type rateLimitRepository struct {
	db *sqlx.DB
}

func NewRateLimitRepository(db *sqlx.DB) RateLimitRepository {
	return &rateLimitRepository{db: db}
}

func (r *rateLimitRepository) Get(category, identifier string) (*model.RateLimitEntry, error) {
	entry := &model.RateLimitEntry{}
	query := `SELECT * FROM rate_limits WHERE category = $1 AND identifier = $2`

	err := r.db.Get(entry, query, category, identifier)
	if err == sql.ErrNoRows {
		return nil, ErrRateLimitNotFound
	}

	return entry, err
}

func (r *rateLimitRepository) Upsert(entry *model.RateLimitEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO rate_limits (id, category, identifier, count, window_start, last_request)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (category, identifier) DO UPDATE
		SET count = $4, window_start = $5, last_request = $6
	`
	_, err := r.db.Exec(query,
		entry.ID,
		entry.Category,
		entry.Identifier,
		entry.Count,
		entry.WindowStart,
		entry.LastRequest,
	)
	return err
}

func (r *rateLimitRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM rate_limits WHERE last_request < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *rateLimitRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM rate_limits`)
	return err
}

func (r *rateLimitRepository) Count() (int, error) {
	var count int
	err := r.db.Get(&count, `SELECT COUNT(*) FROM rate_limits`)
	return count, err
}

func (r *rateLimitRepository) TopEntries(limit int) ([]*model.RateLimitEntry, error) {
	entries := []*model.RateLimitEntry{}
	query := `SELECT * FROM rate_limits ORDER BY count DESC LIMIT $1`

	err := r.db.Select(&entries, query, limit)
	return entries, err
}
