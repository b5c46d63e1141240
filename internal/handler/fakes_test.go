package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/model"
)

// MockAuthenticator records what the handler passed in and returns canned
// results, so handler tests never touch bcrypt or a database.
type MockAuthenticator struct {
	CapturedEmail    string
	CapturedPassword string
	CapturedRepeat   string
	CapturedIP       string
	CapturedToken    string
	CapturedUserID   int64
	CapturedUsername string
	CapturedProfile  *auth.GoogleUser

	ReturnUser *model.User
	ReturnErr  error
	Calls      int
}

func (m *MockAuthenticator) Register(_ context.Context, email, password, passwordRepeat, ip string) (*model.User, error) {
	m.Calls++
	m.CapturedEmail, m.CapturedPassword, m.CapturedRepeat, m.CapturedIP = email, password, passwordRepeat, ip
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAuthenticator) Login(_ context.Context, email, password string) (*model.User, error) {
	m.Calls++
	m.CapturedEmail, m.CapturedPassword = email, password
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAuthenticator) LoginFederated(_ context.Context, profile *auth.GoogleUser) (*model.User, error) {
	m.Calls++
	m.CapturedProfile = profile
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAuthenticator) Confirm(_ context.Context, token string) (*model.User, error) {
	m.Calls++
	m.CapturedToken = token
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAuthenticator) ResendConfirmation(_ context.Context, email string) error {
	m.Calls++
	m.CapturedEmail = email
	return m.ReturnErr
}

func (m *MockAuthenticator) ChangeUsername(_ context.Context, userID int64, username, usernameRepeat string) error {
	m.Calls++
	m.CapturedUserID, m.CapturedUsername, m.CapturedRepeat = userID, username, usernameRepeat
	return m.ReturnErr
}

// MockSessions hands out predictable session ids.
type MockSessions struct {
	Created   []*model.Session
	Destroyed []string
	CreateErr error
}

func (m *MockSessions) Create(_ context.Context, user *model.User) (*model.Session, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	sess := &model.Session{
		ID:        "session-" + user.Email,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	m.Created = append(m.Created, sess)
	return sess, nil
}

func (m *MockSessions) Destroy(_ context.Context, sessionID string) error {
	m.Destroyed = append(m.Destroyed, sessionID)
	return nil
}

// MockGoogle stands in for the Google OAuth round trip.
type MockGoogle struct {
	Profile      *auth.GoogleUser
	ExchangeErr  error
	CapturedCode string
}

func (m *MockGoogle) AuthURL(state string) string {
	return "https://accounts.example.test/auth?state=" + state
}

func (m *MockGoogle) Exchange(_ context.Context, code string) (*auth.GoogleUser, error) {
	m.CapturedCode = code
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return m.Profile, nil
}

var errStoreDown = errors.New("store down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCookies(t *testing.T) *auth.SessionCookies {
	t.Helper()
	signer, err := auth.NewCookieSigner("handler-test-secret-value")
	require.NoError(t, err)
	return auth.NewSessionCookies(signer, false)
}

// addSessionCookie attaches a valid signed cookie for sessionID to req.
func addSessionCookie(t *testing.T, cookies *auth.SessionCookies, req *http.Request, sessionID string) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, cookies.Write(rec, sessionID, time.Now().Add(time.Hour)))
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
}

// responseCookie returns the named cookie set by the response, or nil.
func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
