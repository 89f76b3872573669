package model

import (
	"time"
)

// User is the directory record the engine needs: identity, blocked flag and
// confirmation state. The engine never touches credentials beyond this.
type User struct {
	ID          string     `db:"id"`
	Email       string     `db:"email"`
	Username    string     `db:"username"`
	Blocked     bool       `db:"blocked"`
	ConfirmedAt *time.Time `db:"confirmed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (u *User) IsConfirmed() bool {
	return u.ConfirmedAt != nil
}
