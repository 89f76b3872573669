package model

import (
	"time"
)

// BannedIP blocks all auth traffic from an address. The list length is
// capped by the license tier's maxIPBans quota.
type BannedIP struct {
	ID        string    `db:"id"`
	IP        string    `db:"ip"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}
