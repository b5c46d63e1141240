// Package redisstore keeps sessions in Redis instead of the SQL database.
//
// WHY REDIS FOR SESSIONS?
// Sessions are read on every request and expire on their own. Redis gives
// both for free: a GET per request and a key TTL equal to the session's
// remaining lifetime, so expired sessions disappear without a pruner.
//
// Users still live in SQL; only repository.SessionRepository is implemented
// here.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
)

const keyPrefix = "sess:"

var _ repository.SessionRepository = (*Store)(nil)

// record is the JSON value stored under each key. model.Session hides its ID
// from JSON, and the key already carries it.
type record struct {
	UserID    int64 `json:"uid"`
	ExpiresAt int64 `json:"exp"`
	CreatedAt int64 `json:"iat"`
}

// Store implements repository.SessionRepository on a Redis client.
type Store struct {
	rdb redis.Cmdable
}

// New wraps an existing client. The caller owns the client and closes it.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func key(id string) string {
	return keyPrefix + id
}

// CreateSession stores the session with a TTL matching its expiry.
// SETNX semantics guard against overwriting an existing id.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return apperror.ValidationFailed("expiresAt", "session already expired")
	}

	value, err := json.Marshal(record{
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt.Unix(),
		CreatedAt: sess.CreatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encoding session: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, key(sess.ID), value, ttl).Result()
	if err != nil {
		return fmt.Errorf("redisstore: storing session: %w", err)
	}
	if !ok {
		return apperror.Conflict("session", "<redacted>")
	}
	return nil
}

// GetSession loads a session. Missing keys and sessions past their expiry
// both report ErrNotFound; the expiry check covers clock skew between the
// app and Redis.
func (s *Store) GetSession(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	raw, err := s.rdb.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, fmt.Errorf("redisstore: reading session: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A value we cannot decode is useless; drop it and treat it as gone.
		// A failed DEL only leaves the key to its TTL; the caller sees
		// NotFound either way.
		_ = s.rdb.Del(ctx, key(id)).Err()
		return nil, apperror.NotFound("session", "<redacted>")
	}

	sess := &model.Session{
		ID:        id,
		UserID:    rec.UserID,
		ExpiresAt: time.Unix(rec.ExpiresAt, 0).UTC(),
		CreatedAt: time.Unix(rec.CreatedAt, 0).UTC(),
	}
	if sess.Expired(now) {
		return nil, apperror.NotFound("session", "<redacted>")
	}
	return sess, nil
}

// DeleteSession removes the key. DEL on a missing key is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redisstore: deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op: Redis evicts keys when their TTL runs out.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
