package handler

import (
	"net/http"

	"github.com/sakif/mineshare/internal/auth"
)

// LandingResponse is what GET / returns in place of the rendered page.
type LandingResponse struct {
	// Login echoes the ?login= prompt: "login", "confirmation", "confirmed".
	Login string `json:"login,omitempty"`
	// Flash is the one-shot message left by a failed login.
	Flash         string `json:"flash,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// HandleLanding serves the landing page data.
//
// HTTP: GET /
func HandleLanding(w http.ResponseWriter, r *http.Request) {
	_, authenticated := auth.UserFromContext(r.Context())

	writeJSON(w, http.StatusOK, LandingResponse{
		Login:         r.URL.Query().Get("login"),
		Flash:         popFlash(w, r),
		Authenticated: authenticated,
	})
}
