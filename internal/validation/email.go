package validation

import (
	"errors"
	"net/mail"
)

// RFC 5321 caps a full address at 254 octets.
const maxEmailLength = 254

var (
	ErrEmailRequired = errors.New("email address is required")
	ErrEmailTooLong  = errors.New("email address is too long")
	ErrEmailInvalid  = errors.New("invalid email address")
)

// ValidateEmail checks that the input is a bare, RFC 5322 parseable
// address. Display names and angle brackets are not login identifiers, so
// anything the parser had to unwrap is rejected. Callers trim whitespace
// first.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrEmailInvalid
	}
	return nil
}
