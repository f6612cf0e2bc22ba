package identity

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"mallhive.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by the
// test surfaces and local development; production uses the pg store.
type InMemory struct {
	mu      sync.Mutex
	users   map[string]*User // id -> user
	byEmail map[string]string
	byName  map[string]string
	codes   map[string]*Code // userID/purpose -> active or terminal code
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
		codes:   make(map[string]*Code),
	}
}

func slotKey(userID string, purpose Purpose) string {
	return userID + "/" + string(purpose)
}

func (s *InMemory) CreateUser(ctx context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	if _, ok := s.byName[user.Username]; ok {
		return nil, ErrUsernameTaken
	}

	stored := *user
	stored.Email = email
	if stored.ID == "" {
		stored.ID = ids.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.users[stored.ID] = &stored
	s.byEmail[email] = stored.ID
	s.byName[stored.Username] = stored.ID

	out := stored
	return &out, nil
}

func (s *InMemory) UserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.users[id]
	return &out, nil
}

func (s *InMemory) MarkVerified(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Verified = true
	return nil
}

func (s *InMemory) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *InMemory) IssueCode(ctx context.Context, code *Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[code.UserID]; !ok {
		return ErrNotFound
	}
	key := slotKey(code.UserID, code.Purpose)
	if prior, ok := s.codes[key]; ok && prior.State(code.IssuedAt) == CodeActive {
		prior.Superseded = true
	}
	stored := *code
	if stored.ID == "" {
		stored.ID = ids.New()
	}
	s.codes[key] = &stored
	return nil
}

// ConsumeCode is the atomic compare-and-mark transition: the slot must hold
// an ACTIVE code whose value matches, and the mark happens under the same
// lock as the check.
func (s *InMemory) ConsumeCode(ctx context.Context, userID string, purpose Purpose, presented string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[slotKey(userID, purpose)]
	if !ok || code.State(now) != CodeActive {
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(code.Value), []byte(presented)) != 1 {
		return ErrInvalidCode
	}
	code.ConsumedAt = now
	return nil
}

// ActiveCode returns the current code value for a slot if it is ACTIVE.
// Used by tests and local tooling; production reads go through ConsumeCode.
func (s *InMemory) ActiveCode(userID string, purpose Purpose) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[slotKey(userID, purpose)]
	if !ok || code.State(time.Now()) != CodeActive {
		return "", false
	}
	return code.Value, true
}

func (s *InMemory) SlotState(ctx context.Context, userID string, purpose Purpose, now time.Time) (CodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[slotKey(userID, purpose)]
	if !ok {
		return CodeNone, nil
	}
	return code.State(now), nil
}
