package model

import "time"

// Session is the server-side half of a login. The ID travels in a cookie;
// everything else stays in the store.
//
// ExpiresAt is absolute: it is fixed when the session is created and is not
// pushed forward by later requests.
type Session struct {
	ID        string    `json:"-"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
