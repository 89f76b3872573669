package model

import (
	"time"
)

// License is the locally cached license descriptor. The tier is only ever
// what the license server last confirmed; LastValidated drives the grace
// period applied when re-verification fails.
type License struct {
	ID            string     `db:"id"`
	Key           string     `db:"key"`
	Tier          string     `db:"tier"`
	DeviceID      string     `db:"device_id"`
	Active        bool       `db:"active"`
	ExpiresAt     *time.Time `db:"expires_at"`
	LastValidated time.Time  `db:"last_validated"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (l *License) IsExpired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}
