package handler

import (
	"encoding/base64"
	"net/http"
	"time"
)

// FLASH MESSAGES:
// A failed browser login redirects to "/" and the landing page shows why.
// The reason travels in a short-lived cookie that the next GET / reads and
// deletes, so it is shown exactly once.
//
// The value is base64url encoded because cookie values cannot hold spaces
// or most punctuation.

const (
	flashCookieName = "flash"
	flashMaxAge     = 60 // seconds
)

func setFlash(w http.ResponseWriter, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns the pending flash message, if any, and clears it.
func popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	msg, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return ""
	}
	return string(msg)
}
