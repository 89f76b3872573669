package validation

import (
	"strings"
	"testing"
)

func TestValidateEmail_Valid(t *testing.T) {
	for _, email := range []string{
		"alice@example.com",
		"a.b+tag@sub.example.co",
		"x@y.io",
	} {
		if err := ValidateEmail(email); err != nil {
			t.Errorf("ValidateEmail(%q) = %v, want nil", email, err)
		}
	}
}

func TestValidateEmail_Invalid(t *testing.T) {
	for _, email := range []string{
		"",
		"not-an-email",
		"@example.com",
		"alice@",
		"a b@example.com",
		"Alice <alice@example.com>",
		strings.Repeat("a", 250) + "@x.io",
	} {
		if err := ValidateEmail(email); err == nil {
			t.Errorf("ValidateEmail(%q) = nil, want error", email)
		}
	}
}
