package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
)

// DefaultSessionTTL is how long a session lives after login.
const DefaultSessionTTL = 30 * 24 * time.Hour

// sessionIDBytes is the entropy of a session id before encoding.
const sessionIDBytes = 32

var _ auth.PrincipalResolver = (*SessionService)(nil)

// SessionService is the Session Manager.
//
// A session is a random id stored server-side with the owning user id and
// an absolute expiry. The id goes to the browser (see auth.SessionCookies);
// every request turns it back into a full User with two lookups, session by
// id and user by primary key. There is no cache, so a logout or a
// confirmation takes effect on the very next request.
type SessionService struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	ttl      time.Duration
	logger   *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewSessionService creates a SessionService. A ttl of zero means
// DefaultSessionTTL.
func NewSessionService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	ttl time.Duration,
	logger *slog.Logger,
) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a new session for user.
func (s *SessionService) Create(ctx context.Context, user *model.User) (*model.Session, error) {
	if user == nil || user.ID == 0 {
		return nil, fmt.Errorf("service/session: user must be persisted before login")
	}

	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &model.Session{
		ID:        id,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("service/session: creating session: %w", err)
	}

	s.logger.Debug("session created", slog.Int64("userID", user.ID))
	return sess, nil
}

// Resolve returns the user behind sessionID.
//
// It returns (nil, nil) for unknown or expired sessions and for sessions
// whose user has disappeared; the request is then anonymous. Any other error
// is a store failure and is returned as is.
func (s *SessionService) Resolve(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	sess, err := s.sessions.GetSession(ctx, sessionID, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("service/session: reading session: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("session points at a missing user", slog.Int64("userID", sess.UserID))
			return nil, nil
		}
		return nil, fmt.Errorf("service/session: loading user %d: %w", sess.UserID, err)
	}

	return user, nil
}

// Destroy ends a session server-side. Destroying an unknown session is not
// an error.
func (s *SessionService) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("service/session: deleting session: %w", err)
	}
	return nil
}

// PruneExpired deletes every session past its expiry.
func (s *SessionService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("service/session: pruning sessions: %w", err)
	}
	return n, nil
}

// newSessionID returns 32 random bytes, base64url encoded without padding.
func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("service/session: generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
