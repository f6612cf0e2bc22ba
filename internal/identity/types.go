package identity

import (
	"errors"
	"time"
)

// Purpose binds a credential code to exactly one flow.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email-verification"
	PurposePasswordReset     Purpose = "password-reset"
)

// CodeState is the explicit lifecycle state of a (user, purpose) code slot.
// Only an ACTIVE slot accepts a matching verify; every terminal state needs a
// fresh issue to re-enter ACTIVE.
type CodeState string

const (
	CodeNone       CodeState = "NONE"
	CodeActive     CodeState = "ACTIVE"
	CodeConsumed   CodeState = "CONSUMED"
	CodeExpired    CodeState = "EXPIRED"
	CodeSuperseded CodeState = "SUPERSEDED"
)

// User is the identity record. The password is only ever held as a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// Code is one issued credential code. The zero ConsumedAt means unconsumed.
type Code struct {
	ID         string
	UserID     string
	Purpose    Purpose
	Value      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt time.Time
	Superseded bool
}

// State reports the slot state of this code at the given instant.
// The boundary now == ExpiresAt still counts as active.
func (c *Code) State(now time.Time) CodeState {
	switch {
	case c == nil:
		return CodeNone
	case !c.ConsumedAt.IsZero():
		return CodeConsumed
	case c.Superseded:
		return CodeSuperseded
	case now.After(c.ExpiresAt):
		return CodeExpired
	default:
		return CodeActive
	}
}

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrNotFound        = errors.New("user not found")
	ErrUnauthorized    = errors.New("invalid credentials")
	ErrNotVerified     = errors.New("email not verified")
	ErrAlreadyVerified = errors.New("user already verified")

	// ErrInvalidCode covers mismatch, expiry and replay uniformly so the
	// response never reveals which one failed.
	ErrInvalidCode = errors.New("invalid or expired code")
)
