package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mallhive.org/internal/audit"
	"mallhive.org/internal/ids"
	"mallhive.org/internal/obs"
)

const (
	defaultCodeTTL       = 15 * time.Minute
	defaultNotifyTimeout = 5 * time.Second
)

// TokenSource issues and validates session tokens for authenticated users.
type TokenSource interface {
	Issue(subject string) (string, time.Time, error)
	Validate(token string) (string, error)
}

// Notifier delivers a message to a user. Delivery is best effort: the service
// never fails a request because a notification could not be sent.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service implements the identity flows: registration, login, email
// verification, and password reset.
type Service struct {
	store         Store
	tokens        TokenSource
	notifier      Notifier
	codeTTL       time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithCodeTTL overrides the default credential-code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithNotifyTimeout bounds each fire-and-forget notification attempt.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity service with injected collaborators.
func NewService(store Store, tokens TokenSource, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:         store,
		tokens:        tokens,
		notifier:      notifier,
		codeTTL:       defaultCodeTTL,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an unverified user and issues a verification code.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.issueCode(ctx, user, PurposeEmailVerification,
		"Verify Your Email", "Your verification code is: %s"); err != nil {
		return nil, err
	}

	obs.CountRegistration()
	_ = audit.LogEvent(ctx, "identity.user.registered", map[string]any{"user_id": user.ID})
	return user, nil
}

// Login checks credentials and returns a signed session token. Unknown users
// and bad passwords are indistinguishable; unverified users are rejected.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", time.Time{}, ErrUnauthorized
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	if !user.Verified {
		return "", time.Time{}, ErrNotVerified
	}

	signed, expiresAt, err := s.tokens.Issue(user.Email)
	if err != nil {
		return "", time.Time{}, err
	}

	obs.CountLogin()
	_ = audit.LogEvent(ctx, "identity.user.login", map[string]any{"user_id": user.ID})
	return signed, expiresAt, nil
}

// VerifyEmail consumes an active verification code and marks the user
// verified. Failure is uniform: wrong code, expired code and replay all
// return ErrInvalidCode.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return ErrInvalidCode
	}
	if err := s.store.ConsumeCode(ctx, user.ID, PurposeEmailVerification, code, s.now().UTC()); err != nil {
		return ErrInvalidCode
	}
	if err := s.store.MarkVerified(ctx, user.ID); err != nil {
		return err
	}

	obs.CountEmailVerified()
	_ = audit.LogEvent(ctx, "identity.email.verified", map[string]any{"user_id": user.ID})
	return nil
}

// ResendVerification issues a fresh verification code, superseding any prior
// active one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.Verified {
		return ErrAlreadyVerified
	}
	return s.issueCode(ctx, user, PurposeEmailVerification,
		"Resend Verification", "Your new verification code is: %s")
}

// ForgotPassword issues a reset code when the account exists. The result is
// identical either way so callers cannot enumerate registered emails.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		// Unknown email: same outward behavior as success.
		return nil
	}
	return s.issueCode(ctx, user, PurposePasswordReset,
		"Reset Password", "Your reset code is: %s")
}

// ResetPassword consumes an active reset code and replaces the password hash.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return ErrInvalidCode
	}
	if err := s.store.ConsumeCode(ctx, user.ID, PurposePasswordReset, code, s.now().UTC()); err != nil {
		return ErrInvalidCode
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	obs.CountPasswordReset()
	_ = audit.LogEvent(ctx, "identity.password.reset", map[string]any{"user_id": user.ID})
	return nil
}

// Authenticate validates a session token and loads its user.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*User, error) {
	subject, err := s.tokens.Validate(tokenString)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.store.UserByEmail(ctx, subject)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// issueCode generates and stores a fresh code for the slot, then dispatches
// the notification without blocking the caller.
func (s *Service) issueCode(ctx context.Context, user *User, purpose Purpose, subject, bodyFormat string) error {
	value, err := GenerateCode()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.IssueCode(ctx, &Code{
		ID:        ids.New(),
		UserID:    user.ID,
		Purpose:   purpose,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.codeTTL),
	}); err != nil {
		return err
	}

	obs.CountCodeIssued(string(purpose))
	_ = audit.LogEvent(ctx, "identity.code.issued", map[string]any{
		"user_id": user.ID,
		"purpose": string(purpose),
	})

	s.dispatch(user.Email, subject, fmt.Sprintf(bodyFormat, value))
	return nil
}

// dispatch sends a notification on a detached goroutine with its own bounded
// context. Failures are counted and logged, never surfaced.
func (s *Service) dispatch(to, subject, body string) {
	if s.notifier == nil {
		return
	}
	timeout := s.notifyTimeout
	notifier := s.notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := notifier.Send(ctx, to, subject, body); err != nil {
			obs.CountNotifyFailure()
			obs.LogEvent(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "notification failed",
				"to":    to,
				"error": err.Error(),
			})
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t")
}
