package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

// TIMESTAMPS AS UNIX SECONDS:
// Sessions store expires_at and created_at as integers. Comparisons in the
// WHERE clause are then plain integer comparisons on both engines, with no
// driver-specific time formatting involved.

// CreateSession persists a new session.
func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO sessions (sid, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
		s.ID, s.UserID, s.ExpiresAt.Unix(), s.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("session", "<redacted>")
		}
		return fmt.Errorf("sqldb: inserting session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id if it has not expired
// at now. Expired rows are treated exactly like missing ones.
func (db *DB) GetSession(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	var (
		s         model.Session
		expiresAt int64
		createdAt int64
	)
	err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT sid, user_id, expires_at, created_at FROM sessions
		 WHERE sid = ? AND expires_at > ?`),
		id, now.Unix(),
	).Scan(&s.ID, &s.UserID, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The id is a bearer secret, keep it out of error messages.
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, fmt.Errorf("sqldb: getting session: %w", err)
	}

	s.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}

// DeleteSession removes a session. Deleting an unknown id is not an error.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM sessions WHERE sid = ?`), id); err != nil {
		return fmt.Errorf("sqldb: deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session whose expiry is at or before
// now and reports how many rows went away.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqldb: reading rows affected: %w", err)
	}
	return n, nil
}
