package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeTokens struct {
	subjects map[string]string // token -> subject
	issued   int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{subjects: make(map[string]string)}
}

func (f *fakeTokens) Issue(subject string) (string, time.Time, error) {
	f.issued++
	tok := "tok-" + subject
	f.subjects[tok] = subject
	return tok, time.Now().Add(30 * time.Minute), nil
}

func (f *fakeTokens) Validate(token string) (string, error) {
	if sub, ok := f.subjects[token]; ok {
		return sub, nil
	}
	return "", errors.New("invalid token")
}

// recordingNotifier captures sends on a channel so tests can wait for the
// detached delivery goroutine.
type recordingNotifier struct {
	sent chan string // body of each message
	fail bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan string, 16)}
}

func (n *recordingNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.sent <- body
	if n.fail {
		return errors.New("notification service unreachable")
	}
	return nil
}

func (n *recordingNotifier) waitForCode(t *testing.T) string {
	t.Helper()
	select {
	case body := <-n.sent:
		idx := strings.LastIndex(body, ": ")
		if idx < 0 {
			t.Fatalf("notification body has no code: %q", body)
		}
		return body[idx+2:]
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func newTestService(t *testing.T) (*Service, *InMemory, *fakeTokens, *recordingNotifier) {
	t.Helper()
	store := NewInMemory()
	tokens := newFakeTokens()
	notifier := newRecordingNotifier()
	svc := NewService(store, tokens, notifier)
	return svc, store, tokens, notifier
}

func TestRegisterIssuesCodeOnce(t *testing.T) {
	svc, store, _, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "Alice@Example.com", "pw1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Verified {
		t.Fatal("new user must be unverified")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "pw1" || user.PasswordHash == "" {
		t.Fatal("password must be stored as a hash")
	}

	notifier.waitForCode(t)
	select {
	case extra := <-notifier.sent:
		t.Fatalf("expected exactly one notification, got extra: %q", extra)
	case <-time.After(50 * time.Millisecond):
	}

	state, err := store.SlotState(ctx, user.ID, PurposeEmailVerification, time.Now())
	if err != nil || state != CodeActive {
		t.Fatalf("expected ACTIVE verification slot, got %v (%v)", state, err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "alice2", "alice@example.com", "pw2")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct{ username, email, password string }{
		{"", "a@b.com", "pw"},
		{"alice", "", "pw"},
		{"alice", "not-an-email", "pw"},
		{"alice", "@example.com", "pw"},
		{"alice", "a@b.com", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.username, tc.email, tc.password); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	store := NewInMemory()
	notifier := newRecordingNotifier()
	notifier.fail = true
	svc := NewService(store, newFakeTokens(), notifier)

	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register must not fail on notification failure: %v", err)
	}
	notifier.waitForCode(t)
}

func TestVerifyEmailFlow(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := notifier.waitForCode(t)

	if err := svc.VerifyEmail(ctx, "alice@example.com", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: expected ErrInvalidCode, got %v", err)
	}
	if err := svc.VerifyEmail(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	// Second verify with the same (now consumed) code must fail.
	if err := svc.VerifyEmail(ctx, "alice@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replay: expected ErrInvalidCode, got %v", err)
	}
	// Unknown user is indistinguishable from a bad code.
	if err := svc.VerifyEmail(ctx, "nobody@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("unknown user: expected ErrInvalidCode, got %v", err)
	}
}

func TestLoginPolicies(t *testing.T) {
	svc, _, tokens, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := notifier.waitForCode(t)

	// Unverified users cannot log in.
	if _, _, err := svc.Login(ctx, "alice@example.com", "pw1"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}

	if err := svc.VerifyEmail(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad password: expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "pw1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: expected ErrUnauthorized, got %v", err)
	}

	signed, expiresAt, err := svc.Login(ctx, "alice@example.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("token expiry must be in the future")
	}
	user, err := svc.Authenticate(ctx, signed)
	if err != nil || user.Email != "alice@example.com" {
		t.Fatalf("Authenticate: user=%v err=%v", user, err)
	}
	if tokens.issued != 1 {
		t.Fatalf("expected one issued token, got %d", tokens.issued)
	}
}

func TestResendVerification(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first := notifier.waitForCode(t)

	if err := svc.ResendVerification(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.ResendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	second := notifier.waitForCode(t)

	// The superseded code must no longer verify, the fresh one must.
	if first != second {
		if err := svc.VerifyEmail(ctx, "alice@example.com", first); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("superseded code: expected ErrInvalidCode, got %v", err)
		}
	}
	if err := svc.VerifyEmail(ctx, "alice@example.com", second); err != nil {
		t.Fatalf("VerifyEmail with fresh code: %v", err)
	}
	if err := svc.ResendVerification(ctx, "alice@example.com"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
}

func TestForgotPasswordIsUniform(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	notifier.waitForCode(t)

	// Known and unknown emails behave identically from the caller's view.
	if err := svc.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword known: %v", err)
	}
	notifier.waitForCode(t)
	if err := svc.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("ForgotPassword unknown: %v", err)
	}
	select {
	case body := <-notifier.sent:
		t.Fatalf("no notification expected for unknown email, got %q", body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResetPasswordFlow(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	verify := notifier.waitForCode(t)
	if err := svc.VerifyEmail(ctx, "alice@example.com", verify); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if err := svc.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	reset := notifier.waitForCode(t)

	if err := svc.ResetPassword(ctx, "alice@example.com", "000000", "pw2"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong reset code: expected ErrInvalidCode, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "alice@example.com", reset, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty password: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "alice@example.com", reset, "pw2"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	// Consumed reset code cannot be replayed.
	if err := svc.ResetPassword(ctx, "alice@example.com", reset, "pw3"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replay: expected ErrInvalidCode, got %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "pw1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "pw2"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestExpiredCodeFails(t *testing.T) {
	store := NewInMemory()
	notifier := newRecordingNotifier()
	base := time.Now().UTC()
	current := base
	svc := NewService(store, newFakeTokens(), notifier,
		WithCodeTTL(15*time.Minute),
		WithClock(func() time.Time { return current }))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "pw1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := notifier.waitForCode(t)

	current = base.Add(15*time.Minute + time.Second)
	if err := svc.VerifyEmail(ctx, "alice@example.com", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expired code: expected ErrInvalidCode, got %v", err)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatal("codes do not vary")
	}
}
