package identity

import (
	"context"
	"time"
)

// Store persists users and credential codes. It is the only shared mutable
// state in the system; implementations must make ConsumeCode a single atomic
// compare-and-mark so two concurrent verifies cannot both succeed on the same
// code.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// IssueCode stores a new active code for the (user, purpose) slot,
	// superseding any prior active code.
	IssueCode(ctx context.Context, code *Code) error

	// ConsumeCode marks the slot's active code consumed iff the presented
	// value matches and now <= expiry. Any other state returns ErrInvalidCode.
	ConsumeCode(ctx context.Context, userID string, purpose Purpose, presented string, now time.Time) error

	// SlotState reports the current state of the (user, purpose) code slot.
	SlotState(ctx context.Context, userID string, purpose Purpose, now time.Time) (CodeState, error)
}
