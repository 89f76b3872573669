// Package directory is the user-directory seam: the engine looks up, creates
// and confirms users by email through this interface and never touches the
// host's credential storage.
package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserBlocked  = errors.New("user is blocked")
)

type Directory interface {
	ByEmail(email string) (*model.User, error)
	ByID(id string) (*model.User, error)
	Create(email string) (*model.User, error)
	SetConfirmed(id string) error
	SetBlocked(id string, blocked bool) error
}

type sqlDirectory struct {
	users repository.UserRepository
}

// New returns the default store-backed directory. Deployments embedding the
// engine in a host with its own user store supply their own implementation.
func New(users repository.UserRepository) Directory {
	return &sqlDirectory{users: users}
}

func (d *sqlDirectory) ByEmail(email string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := d.users.ByEmail(email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (d *sqlDirectory) ByID(id string) (*model.User, error) {
	user, err := d.users.ByID(id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (d *sqlDirectory) Create(email string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Username:  usernameFromEmail(email),
		CreatedAt: time.Now(),
	}

	err := d.users.Create(user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		// Lost a creation race; the existing row wins
		return d.ByEmail(email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (d *sqlDirectory) SetConfirmed(id string) error {
	err := d.users.SetConfirmed(id, time.Now())
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (d *sqlDirectory) SetBlocked(id string, blocked bool) error {
	user, err := d.ByID(id)
	if err != nil {
		return err
	}

	user.Blocked = blocked
	return d.users.Update(user)
}

// usernameFromEmail derives a default username from the local part of the
// address.
func usernameFromEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	return email[:at]
}
