// Package auth holds the building blocks of authentication: password
// hashing, the signed session cookie, the Google OAuth provider and the
// request middleware that loads and guards the principal.
//
// WHY BCRYPT?
// bcrypt is deliberately slow, embeds its own random salt in the output and
// carries its work factor ("cost") in the hash string. Existing rows keep
// verifying even if the cost changes later, because the cost is read back
// from the stored hash.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$10$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (10 rounds → 2^10 iterations)
//	 version
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used for every stored hash.
const defaultCost = 10

// maxPasswordBytes is bcrypt's input limit. Longer inputs would be silently
// truncated, so they are rejected instead.
const maxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the plaintext does not
// match the hash.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so the cost can be lowered in tests.
// bcrypt's minimum cost 4 keeps test suites fast.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (10).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use bcrypt.MinCost from tests in other packages.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext password with bcrypt.
//
// Returns an error if the plaintext is longer than 72 bytes.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// Returns nil on match and ErrPasswordMismatch on a wrong password. Any
// other error means the stored hash itself is unusable.
//
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// passwordCharset is the alphabet GeneratePassword draws from.
const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_-+=<>?"

const (
	minGeneratedLen = 8
	maxGeneratedLen = 20
)

// GeneratePassword returns a random password of 8 to 20 characters.
//
// Accounts created by a federated login still need a password hash in the
// users table. The password behind it is generated here, hashed, and thrown
// away; nobody ever learns it.
func GeneratePassword() (string, error) {
	span, err := rand.Int(rand.Reader, big.NewInt(maxGeneratedLen-minGeneratedLen+1))
	if err != nil {
		return "", fmt.Errorf("auth: generating password length: %w", err)
	}
	length := minGeneratedLen + int(span.Int64())

	charsetLen := big.NewInt(int64(len(passwordCharset)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("auth: generating password: %w", err)
		}
		buf[i] = passwordCharset[n.Int64()]
	}

	return string(buf), nil
}
