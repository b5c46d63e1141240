package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/mineshare/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue accepts any key. A package-private type means no other
// package can build a colliding key, so only this package reads or writes
// the principal.
type contextKey string

const userKey contextKey = "user"

// LoginRedirect is where RequireAuth sends anonymous callers.
const LoginRedirect = "/?login=login"

// PrincipalResolver turns a session id into the user it belongs to.
//
// It returns (nil, nil) when the session is unknown, expired, or points at
// a user that no longer exists. A non-nil error means the store itself
// failed.
type PrincipalResolver interface {
	Resolve(ctx context.Context, sessionID string) (*model.User, error)
}

// LoadPrincipal runs on every request. It reads the session cookie, resolves
// it to a user and stores the user in the request context.
//
// Requests without a usable session continue as anonymous. A cookie with a
// bad signature, or one whose session is gone, is cleared so the browser
// stops sending it. A store failure aborts the request with a 500; treating
// it as "anonymous" would silently log everybody out.
func LoadPrincipal(cookies *SessionCookies, resolver PrincipalResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := cookies.Read(r)
			if err != nil {
				if !errors.Is(err, ErrNoSession) {
					logger.Debug("discarding session cookie", slog.String("error", err.Error()))
					cookies.Clear(w)
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.Resolve(r.Context(), sessionID)
			if err != nil {
				logger.Error("resolving session failed", slog.String("error", err.Error()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if user == nil {
				cookies.Clear(w)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAuth guards a route group. Anonymous requests are redirected to
// the landing page with the login prompt flag; the route handler never runs.
//
// It only reads the context, so LoadPrincipal must run earlier in the chain.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			http.Redirect(w, r, LoginRedirect, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns a copy of ctx carrying user as the principal.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the principal of the request, or (nil, false) for
// anonymous requests.
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // anonymous
//	}
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}
