package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/mineshare/internal/auth"
)

// AccountHandler serves the pages behind the access guard. Every handler
// here can rely on a principal in the request context.
type AccountHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(authn Authenticator, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{auth: authn, logger: logger}
}

// HandleAccount returns the logged-in user.
//
// HTTP: GET /account
// Auth: Required
//
// Sensitive fields of model.User are tagged json:"-" and never leave the
// server.
func (h *AccountHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		// Only reachable if the route was mounted without RequireAuth.
		http.Redirect(w, r, auth.LoginRedirect, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleUsernameChange sets the display name.
//
// HTTP: POST /account/username-change
// REQUEST BODY: {"username": "...", "username_repeat": "..."}
//
// Mismatch → 400 JSON; success → 303 /account.
func (h *AccountHandler) HandleUsernameChange(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginRedirect, http.StatusFound)
		return
	}

	var req UsernameChangeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.auth.ChangeUsername(r.Context(), user.ID, req.Username, req.UsernameRepeat); err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, accountPath, http.StatusSeeOther)
}
