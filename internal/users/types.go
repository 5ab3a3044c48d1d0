// Package users manages local accounts: registration, login, and lookup.
// Passwords are stored as bcrypt hashes; sessions are JWT pairs issued by
// the auth package.
package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means no user matched the id or username.
	ErrNotFound = errors.New("user not found")

	// ErrUsernameTaken means the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidLogin means the username or password did not match.
	ErrInvalidLogin = errors.New("invalid username or password")
)

// User is an account row. PasswordHash never leaves the package.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
