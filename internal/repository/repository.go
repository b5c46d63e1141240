// Package repository declares the storage ports the service layer depends on.
//
// Services only ever see these interfaces; the SQL implementation lives in
// repository/sqldb and the Redis session store in repository/redisstore.
// Every method is a single round trip to the store. Nothing here opens a
// transaction.
package repository

import (
	"context"
	"time"

	"github.com/sakif/mineshare/internal/model"
)

// UserRepository is the Credential Store.
//
// Lookups return apperror.ErrNotFound (wrapped in an *AppError) when no row
// matches. CreateUser returns apperror.DuplicateEmail when the email unique
// index rejects the insert.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// ConfirmByToken marks the owner of token as confirmed and clears the
	// token in one statement. It returns ErrNotFound when no unconfirmed row
	// carries that token, including when it was already redeemed.
	ConfirmByToken(ctx context.Context, token string) (*model.User, error)

	// SetConfirmationToken replaces the token of an unconfirmed user.
	// It returns ErrNotFound if the user does not exist or is confirmed.
	SetConfirmationToken(ctx context.Context, userID int64, token string) error

	UpdateUsername(ctx context.Context, userID int64, username string) error
}

// SessionRepository persists sessions keyed by their opaque ID.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error

	// GetSession returns ErrNotFound for unknown IDs and for sessions that
	// expired at or before now.
	GetSession(ctx context.Context, id string, now time.Time) (*model.Session, error)

	// DeleteSession is idempotent: deleting an unknown ID is not an error.
	DeleteSession(ctx context.Context, id string) error

	// DeleteExpiredSessions removes sessions expired at or before now and
	// returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
