// Package model defines the data structures used throughout the application.
package model

import "time"

// FederatedRegIP is stored in users.regip for accounts provisioned by a
// Google login instead of a registration form.
const FederatedRegIP = "GOOGLE"

// User represents a registered account.
//
// WHY int64 IDs?
// The users table uses an auto-increment integer key. Session rows store that
// key, and every request resolves it back to a full User with a primary-key
// lookup, so a compact integer is the natural choice.
//
// CONFIRMATION STATE:
// Confirmed and ConfirmationToken move together. An unconfirmed row always
// has a token; redeeming it flips Confirmed and clears the token in a single
// UPDATE, so the same token can never be used twice.
//
// Sensitive fields (PasswordHash, ConfirmationToken, IPs) carry json:"-" so a
// User can be written straight to a JSON response without leaking them.
type User struct {
	ID                int64     `json:"id"           db:"id"`
	Email             string    `json:"email"        db:"email"`
	Username          string    `json:"username"     db:"username"`
	PasswordHash      string    `json:"-"            db:"password"`
	Confirmed         bool      `json:"confirmation" db:"confirmation"`
	ConfirmationToken *string   `json:"-"            db:"confirmation_token"` // nil once confirmed
	Admin             bool      `json:"admin"        db:"admin"`
	RegIP             string    `json:"-"            db:"regip"`
	LogIP             string    `json:"-"            db:"logip"`
	CreatedAt         time.Time `json:"createdAt"    db:"created_at"`
}
