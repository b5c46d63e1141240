// Package handler contains the HTTP handlers of the account core.
//
// Handlers parse requests, call a service and write the response. They hold
// no business rules: which errors exist and when they happen is decided in
// the service layer, and handlers only choose how to show them (JSON error,
// redirect, flash message).
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/model"
)

// Redirect targets of the browser flows.
const (
	landingPath            = "/"
	accountPath            = "/account"
	afterRegisterRedirect  = "/?login=confirmation"
	afterConfirmedRedirect = "/?login=confirmed"
)

const oauthStateCookie = "oauth_state"

// Authenticator is the part of service.AuthService the handlers use.
type Authenticator interface {
	Register(ctx context.Context, email, password, passwordRepeat, ip string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, error)
	LoginFederated(ctx context.Context, profile *auth.GoogleUser) (*model.User, error)
	Confirm(ctx context.Context, token string) (*model.User, error)
	ResendConfirmation(ctx context.Context, email string) error
	ChangeUsername(ctx context.Context, userID int64, username, usernameRepeat string) error
}

// SessionManager is the part of service.SessionService the handlers use.
type SessionManager interface {
	Create(ctx context.Context, user *model.User) (*model.Session, error)
	Destroy(ctx context.Context, sessionID string) error
}

// OAuthProvider is implemented by *auth.GoogleProvider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// AuthHandler serves registration, confirmation, login and logout.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister        → POST /register
//   - HandleResend          → POST /register/resend
//   - HandleConfirm         → GET  /account/confirm/{token}
//   - HandleLogin           → POST /login
//   - HandleGoogleLogin     → GET  /auth/google
//   - HandleGoogleCallback  → GET  /auth/google/callback
//   - HandleLogout          → GET  /logout
type AuthHandler struct {
	auth     Authenticator
	sessions SessionManager
	cookies  *auth.SessionCookies
	google   OAuthProvider // nil when Google login is not configured
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. google may be nil.
func NewAuthHandler(
	authn Authenticator,
	sessions SessionManager,
	cookies *auth.SessionCookies,
	google OAuthProvider,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     authn,
		sessions: sessions,
		cookies:  cookies,
		google:   google,
		logger:   logger,
	}
}

// HandleRegister creates an account and sends the confirmation mail.
//
// HTTP: POST /register
// REQUEST BODY: {"email": "...", "password": "...", "password_repeat": "..."}
//
// Success redirects (303) to the landing page with the "check your mail"
// prompt. Mismatch, duplicate email and invalid input answer 400 JSON.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	_, err := h.auth.Register(r.Context(), req.Email, req.Password, req.PasswordRepeat, clientIP(r))
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			writeErrorStatus(w, h.logger, err, http.StatusBadRequest)
			return
		}
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, afterRegisterRedirect, http.StatusSeeOther)
}

// HandleResend mails a fresh confirmation link.
//
// HTTP: POST /register/resend
//
// The answer is the same redirect whether or not the email belongs to an
// unconfirmed account.
func (h *AuthHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.auth.ResendConfirmation(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, afterRegisterRedirect, http.StatusSeeOther)
}

// HandleConfirm redeems the link from the confirmation mail.
//
// HTTP: GET /account/confirm/{token}
//
// Not behind the access guard: the user following the link is usually not
// logged in yet.
func (h *AuthHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if _, err := h.auth.Confirm(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, afterConfirmedRedirect, http.StatusFound)
}

// HandleLogin checks email and password and opens a session.
//
// HTTP: POST /login (form or JSON)
//
// Success → 303 /account with the session cookie set.
// Bad credentials or an unconfirmed account → 303 / with a flash message.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		setFlash(w, apperror.InvalidCredentials().Message)
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.failLogin(w, r, err)
		return
	}

	h.startSession(w, r, user)
}

// HandleGoogleLogin redirects the browser to Google's consent page.
//
// HTTP: GET /auth/google
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// consent URL. The callback only proceeds if both match.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the Google login.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a Google profile
//  3. Find or provision the local user
//  4. Open a session and redirect to /account
//
// Every failure ends on the landing page.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: state mismatch")
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}

	user, err := h.auth.LoginFederated(r.Context(), profile)
	if err != nil {
		h.failLogin(w, r, err)
		return
	}

	h.startSession(w, r, user)
}

// HandleLogout ends the session server-side and clears the cookie.
//
// HTTP: GET /logout
//
// Deleting the session row is what makes logout real: a copy of the old
// cookie replayed later resolves to nothing.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)

	if sessionID, err := h.cookies.Read(r); err == nil {
		if err := h.sessions.Destroy(r.Context(), sessionID); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	http.Redirect(w, r, landingPath, http.StatusFound)
}

// startSession opens a session for user, sets the cookie and redirects to
// the account page. Any session the browser already carried is destroyed
// first so a login always starts from a fresh id.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *model.User) {
	if oldID, err := h.cookies.Read(r); err == nil {
		if err := h.sessions.Destroy(r.Context(), oldID); err != nil {
			h.logger.Warn("destroying previous session failed", slog.String("error", err.Error()))
		}
	}

	sess, err := h.sessions.Create(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.cookies.Write(w, sess.ID, sess.ExpiresAt); err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, accountPath, http.StatusSeeOther)
}

// failLogin shows credential problems as a flash on the landing page and
// everything else as an error response.
func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) &&
		(errors.Is(err, apperror.ErrUnauthorized) || errors.Is(err, apperror.ErrUnconfirmed)) {
		setFlash(w, appErr.Message)
		http.Redirect(w, r, landingPath, http.StatusSeeOther)
		return
	}
	writeError(w, h.logger, err)
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware has
// already replaced it with the forwarded address when behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
