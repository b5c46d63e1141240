package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SESSION COOKIE OVERVIEW:
// 1. After a successful login the server creates a session row (random id,
//    absolute expiry) and sends the id to the browser in the "sid" cookie.
// 2. The id is not sent bare. It is wrapped in a small HS256 JWT whose "jti"
//    claim is the session id and whose "exp" matches the session expiry.
// 3. On every request LoadPrincipal verifies the signature, pulls out the id
//    and asks the session store who it belongs to.
//
// WHY SIGN AN OPAQUE ID?
// The session store is still the source of truth: logout deletes the row,
// and a deleted row means anonymous no matter what the cookie says. The
// signature only lets the server drop forged or mangled cookies without
// touching the store.

// SessionCookieName is the cookie that carries the signed session id.
const SessionCookieName = "sid"

const cookieIssuer = "mineshare"

// ErrNoSession is returned by SessionCookies.Read when the request carries
// no usable session cookie.
var ErrNoSession = errors.New("auth: no session cookie")

// CookieSigner signs and verifies session ids with an HMAC secret.
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner creates a CookieSigner. The secret must be at least 16
// characters.
func NewCookieSigner(secret string) (*CookieSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	return &CookieSigner{secret: []byte(secret)}, nil
}

// Sign wraps sessionID in a signed token that expires at expiresAt.
func (s *CookieSigner) Sign(sessionID string, expiresAt time.Time) (string, error) {
	c := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session cookie: %w", err)
	}
	return signed, nil
}

// Open verifies a signed token and returns the session id inside it.
//
// Only HS256 is accepted, which rules out "alg: none" and algorithm
// confusion tricks.
func (s *CookieSigner) Open(token string) (string, error) {
	var c jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(
		token,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: session cookie expired")
		}
		return "", fmt.Errorf("auth: invalid session cookie: %w", err)
	}
	if !parsed.Valid || c.ID == "" {
		return "", fmt.Errorf("auth: session cookie has no session id")
	}
	return c.ID, nil
}

// SessionCookies writes, reads and clears the "sid" cookie.
type SessionCookies struct {
	signer *CookieSigner
	secure bool
}

// NewSessionCookies creates a SessionCookies. secure sets the Secure flag
// and should be true whenever the site is served over HTTPS.
func NewSessionCookies(signer *CookieSigner, secure bool) *SessionCookies {
	return &SessionCookies{signer: signer, secure: secure}
}

// Write sets the session cookie. Expires matches the server-side session so
// the browser drops the cookie when the session ends.
func (c *SessionCookies) Write(w http.ResponseWriter, sessionID string, expiresAt time.Time) error {
	value, err := c.signer.Sign(sessionID, expiresAt)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear tells the browser to delete the session cookie.
func (c *SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the session id carried by the request, or ErrNoSession when
// the cookie is missing. A cookie that fails verification returns the
// verification error.
func (c *SessionCookies) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoSession
	}
	return c.signer.Open(cookie.Value)
}
