package model

import (
	"time"
)

// TOTPConfig is a per-user authenticator-app enrollment. EncryptedSecret is
// AES-GCM encrypted and only decrypted at verification time. BackupCodes
// holds bcrypt hashes; each code is removed once used.
type TOTPConfig struct {
	UserID          string      `db:"user_id"`
	Email           string      `db:"email"`
	EncryptedSecret string      `db:"encrypted_secret"`
	Enabled         bool        `db:"enabled"`
	BackupCodes     JSONStrings `db:"backup_codes"`
	CreatedAt       time.Time   `db:"created_at"`
	LastUsedAt      *time.Time  `db:"last_used_at"`
}
