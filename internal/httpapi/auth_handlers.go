package httpapi

import (
	"errors"
	"net/http"

	"campusiam.org/internal/auth"
)

const (
	refreshCookieName = "refreshToken"
	// The cookie is scoped to the refresh endpoint only, so the browser
	// never attaches the long-lived token anywhere else.
	refreshCookiePath = "/api/auth/token"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

type tokenResponse struct {
	AccessToken string          `json:"accessToken"`
	User        auth.PublicUser `json:"user"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type mfaVerifyRequest struct {
	Token string `json:"token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Registered",
		"user":    user,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.Login(r.Context(), req.Email, req.Password, req.TOTP)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		User:        result.User,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var refreshToken string
	if c, err := r.Cookie(refreshCookieName); err == nil {
		refreshToken = c.Value
	}
	result, err := a.svc.Refresh(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoToken):
			writeError(w, r, http.StatusUnauthorized, "no refresh token")
		case errors.Is(err, auth.ErrInvalidToken):
			writeError(w, r, http.StatusUnauthorized, "refresh token invalid or expired")
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusUnauthorized, "user not found")
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, r, http.StatusForbidden, "account disabled")
		default:
			writeError(w, r, http.StatusInternalServerError, "server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		User:        result.User,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	setup, err := a.svc.SetupMFA(r.Context(), principal.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.VerifyMFA(r.Context(), principal.ID, req.Token); err != nil {
		// During setup verification a wrong code is a plain bad request,
		// unlike the 401 at login.
		if errors.Is(err, auth.ErrInvalidMFAToken) {
			writeError(w, r, http.StatusBadRequest, "invalid token")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(a.svc.Tokens().RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.production(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production(),
		SameSite: http.SameSiteLaxMode,
	})
}

// handleAuthError maps service failures onto the API error taxonomy.
// Internal detail never crosses the boundary; unexpected errors collapse
// to a stable server-error message.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "missing or invalid fields")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, r, http.StatusBadRequest, "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusBadRequest, "invalid credentials")
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, r, http.StatusForbidden, "account disabled")
	case errors.Is(err, auth.ErrMFARequired):
		writeError(w, r, http.StatusUnauthorized, "mfa token required")
	case errors.Is(err, auth.ErrInvalidMFAToken):
		writeError(w, r, http.StatusUnauthorized, "invalid mfa token")
	case errors.Is(err, auth.ErrMFANotInitiated):
		writeError(w, r, http.StatusBadRequest, "mfa not initiated")
	case errors.Is(err, auth.ErrInvalidResetToken):
		writeError(w, r, http.StatusBadRequest, "invalid or expired token")
	case errors.Is(err, auth.ErrRootAdmin):
		writeError(w, r, http.StatusForbidden, "root admin account is protected")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoToken):
		writeError(w, r, http.StatusUnauthorized, "token invalid or expired")
	default:
		writeError(w, r, http.StatusInternalServerError, "server error")
	}
}
