package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mallhive.org/internal/identity"
	"mallhive.org/internal/obs"
)

// IdentityAPI is the HTTP surface of the identity service.
type IdentityAPI struct {
	mux        *http.ServeMux
	svc        *identity.Service
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// NewIdentity wires the identity routes.
func NewIdentity(svc *identity.Service, rp ReadyProbe, version string) *IdentityAPI {
	a := &IdentityAPI{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/v1/auth/token", a.handleToken)
	a.mux.HandleFunc("/api/v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("/api/v1/auth/resend-verification", a.handleResendVerification)
	a.mux.HandleFunc("/api/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/api/v1/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/api/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *IdentityAPI) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RequestID(h)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	return obs.Instrument(h)
}

func (a *IdentityAPI) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mallhive-identity",
		"version": a.version,
	})
}

func (a *IdentityAPI) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *IdentityAPI) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mallhive-identity",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- auth handlers ---

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *IdentityAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	user, err := a.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		a.handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleToken accepts the form-encoded credential grant: username (the email)
// and password.
func (a *IdentityAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed form body")
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")

	signed, _, err := a.svc.Login(r.Context(), email, password)
	if err != nil {
		a.handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: signed, TokenType: "bearer"})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (a *IdentityAPI) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		if errors.Is(err, identity.ErrInvalidCode) {
			writeError(w, r, http.StatusBadRequest, "Invalid verification code")
			return
		}
		a.handleIdentityError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified successfully")
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *IdentityAPI) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResendVerification(r.Context(), req.Email); err != nil {
		a.handleIdentityError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification code resent")
}

// handleForgotPassword always answers generically so the endpoint cannot be
// used to enumerate registered emails.
func (a *IdentityAPI) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeMessage(w, http.StatusOK, "If the account exists, a reset code has been sent")
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (a *IdentityAPI) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		if errors.Is(err, identity.ErrInvalidCode) {
			writeError(w, r, http.StatusBadRequest, "Invalid reset code")
			return
		}
		a.handleIdentityError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password updated successfully")
}

func (a *IdentityAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token, err := extractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	user, err := a.svc.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("authorization header is required")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("authorization header must use the Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("bearer token is empty")
	}
	return token, nil
}

func (a *IdentityAPI) handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, r, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, identity.ErrUsernameTaken):
		writeError(w, r, http.StatusBadRequest, "Username already taken")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "User not found")
	case errors.Is(err, identity.ErrAlreadyVerified):
		writeError(w, r, http.StatusBadRequest, "User already verified")
	case errors.Is(err, identity.ErrNotVerified):
		writeError(w, r, http.StatusForbidden, "Email not verified")
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, identity.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, "Invalid verification code")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
