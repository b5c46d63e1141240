package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// userColumns is the SELECT list matching scanUser.
// username is nullable in the table (users created before choosing one),
// COALESCE lets it scan into a plain string.
const userColumns = `id, email, COALESCE(username, ''), password, confirmation,
	confirmation_token, admin, regip, logip, created_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.Confirmed,
		&u.ConfirmationToken,
		&u.Admin,
		&u.RegIP,
		&u.LogIP,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user and fills in ID and CreatedAt.
//
// There is no existence check here. A concurrent insert with the same email
// is rejected by the UNIQUE index and reported as apperror.DuplicateEmail.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.CreatedAt = time.Now().UTC()

	err := db.conn.QueryRowContext(ctx, db.rebind(
		`INSERT INTO users (email, password, confirmation, confirmation_token, admin, regip, logip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		user.Email,
		user.PasswordHash,
		user.Confirmed,
		user.ConfirmationToken,
		user.Admin,
		user.RegIP,
		user.LogIP,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(user.Email)
		}
		return fmt.Errorf("sqldb: inserting user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by primary key.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqldb: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by exact (case-sensitive) email match.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+userColumns+` FROM users WHERE email = ?`), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqldb: getting user by email: %w", err)
	}
	return u, nil
}

// ConfirmByToken redeems a confirmation token.
//
// ONE STATEMENT, ONE WINNER:
// The WHERE clause only matches an unconfirmed row that still carries the
// token, and the SET clears it. Two concurrent redemptions of the same token
// cannot both match, so the second one sees no row and gets ErrNotFound.
//
// Only the id is returned from the UPDATE. SQLite drops column type info on
// RETURNING, which would leave created_at as raw text, so the full row is
// read back with a plain SELECT.
func (db *DB) ConfirmByToken(ctx context.Context, token string) (*model.User, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, db.rebind(
		`UPDATE users SET confirmation = ?, confirmation_token = NULL
		 WHERE confirmation_token = ? AND confirmation = ?
		 RETURNING id`),
		true, token, false,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("confirmation token", token)
		}
		return nil, fmt.Errorf("sqldb: confirming user: %w", err)
	}
	return db.GetUserByID(ctx, id)
}

// SetConfirmationToken stores a new token on an unconfirmed user.
func (db *DB) SetConfirmationToken(ctx context.Context, userID int64, token string) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE users SET confirmation_token = ? WHERE id = ? AND confirmation = ?`),
		token, userID, false,
	)
	if err != nil {
		return fmt.Errorf("sqldb: setting confirmation token for user %d: %w", userID, err)
	}
	return requireAffected(res, "unconfirmed user", strconv.FormatInt(userID, 10))
}

// UpdateUsername sets the display name of a user.
func (db *DB) UpdateUsername(ctx context.Context, userID int64, username string) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE users SET username = ? WHERE id = ?`),
		username, userID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating username for user %d: %w", userID, err)
	}
	return requireAffected(res, "user", strconv.FormatInt(userID, 10))
}

// requireAffected turns "0 rows affected" into a NotFound error.
func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
