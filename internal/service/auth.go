// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the store
//
// Services take repository interfaces, never concrete stores, and return
// apperror values that handlers translate to HTTP. Nothing in this package
// knows about cookies, redirects or status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/mail"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
)

// unknownIP is recorded when the client address cannot be determined.
const unknownIP = "0.0.0.0"

// MaxUsernameLength bounds the display name set on the account page.
const MaxUsernameLength = 32

// AuthService handles registration, login and email confirmation.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users     repository.UserRepository → the Credential Store
//   - passwords *auth.PasswordService     → bcrypt hash/verify
//   - mailer    mail.Mailer               → delivers confirmation links
//   - baseURL                             → prefix of confirmation links
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	mailer    mail.Mailer
	baseURL   string
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	mailer mail.Mailer,
	baseURL string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		passwords: passwords,
		mailer:    mailer,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// Register creates an unconfirmed account and mails its confirmation link.
//
// ORDER OF CHECKS:
//  1. password and passwordRepeat must match (ValidationFailed)
//  2. email must not be taken (DuplicateEmail)
//  3. hash, insert with a fresh confirmation token
//  4. mail the link
//
// The email lookup in step 2 only produces the friendly error early. Two
// concurrent registrations can both pass it; the unique index then rejects
// the second insert and the store reports DuplicateEmail as well.
//
// A mail failure is logged but not returned: the account exists either way
// and the user can ask for a new link.
func (s *AuthService) Register(ctx context.Context, email, password, passwordRepeat, ip string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if password != passwordRepeat {
		return nil, apperror.ValidationFailed("password_repeat", "Password mismatch.")
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.DuplicateEmail(email)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	if ip == "" {
		ip = unknownIP
	}
	token := uuid.NewString()

	user := &model.User{
		Email:             email,
		PasswordHash:      hash,
		Confirmed:         false,
		ConfirmationToken: &token,
		RegIP:             ip,
		LogIP:             ip,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("email", user.Email),
	)

	s.sendConfirmation(ctx, user.Email, token)

	return user, nil
}

// Login is the Local Authenticator.
//
// Unknown email and wrong password both yield InvalidCredentials with the
// same message, so a caller cannot probe which emails are registered. The
// password is checked BEFORE the confirmation flag: an unconfirmed account
// with a wrong password is still just "invalid credentials", and only the
// rightful owner learns that confirmation is pending.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("login failed: unknown email")
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Debug("login failed: wrong password", slog.Int64("userID", user.ID))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: verifying password for user %d: %w", user.ID, err)
	}

	if !user.Confirmed {
		return nil, apperror.AccountUnconfirmed()
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return user, nil
}

// LoginFederated is the Federated Authenticator.
//
// An existing account with the profile's email is returned as is; Google
// has already proven control of the address. Otherwise a confirmed account
// is provisioned with a random, never disclosed password and regip "GOOGLE".
//
// Profiles without an email, or whose email Google has not verified, are
// rejected with InvalidCredentials. Linking by an unverified address would
// hand an existing account to whoever typed that address into Google.
func (s *AuthService) LoginFederated(ctx context.Context, profile *auth.GoogleUser) (*model.User, error) {
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return nil, apperror.InvalidCredentials()
	}
	if !profile.VerifiedEmail {
		s.logger.Warn("federated login rejected: email not verified by provider")
		return nil, apperror.InvalidCredentials()
	}
	email := strings.TrimSpace(profile.Email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		s.logger.Info("user logged in via Google", slog.Int64("userID", user.ID))
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up federated user: %w", err)
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing generated password: %w", err)
	}

	user = &model.User{
		Email:        email,
		PasswordHash: hash,
		Confirmed:    true,
		RegIP:        model.FederatedRegIP,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/auth: provisioning federated user: %w", err)
		}
		// A concurrent first login inserted the row first. Use theirs.
		winner, err := s.users.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("service/auth: re-reading federated user: %w", err)
		}
		return winner, nil
	}

	s.logger.Info("user provisioned via Google",
		slog.Int64("userID", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Confirm redeems a confirmation token.
//
// The store clears the token in the same statement that sets the flag, so a
// second redemption of the same token finds nothing and gets InvalidToken.
func (s *AuthService) Confirm(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.InvalidToken()
	}

	user, err := s.users.ConfirmByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidToken()
		}
		return nil, fmt.Errorf("service/auth: confirming token: %w", err)
	}

	s.logger.Info("user confirmed", slog.Int64("userID", user.ID))
	return user, nil
}

// IssueConfirmation gives an unconfirmed user a fresh token and mails the
// new link. The previous token stops working.
func (s *AuthService) IssueConfirmation(ctx context.Context, user *model.User) (string, error) {
	if user == nil {
		return "", fmt.Errorf("service/auth: user must not be nil")
	}
	if user.Confirmed {
		return "", apperror.ValidationFailed("email", "account is already confirmed")
	}

	token := uuid.NewString()
	if err := s.users.SetConfirmationToken(ctx, user.ID, token); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Confirmed (or removed) between the caller's read and now.
			return "", apperror.ValidationFailed("email", "account is already confirmed")
		}
		return "", fmt.Errorf("service/auth: storing confirmation token: %w", err)
	}
	user.ConfirmationToken = &token

	s.logger.Info("confirmation re-issued", slog.Int64("userID", user.ID))
	s.sendConfirmation(ctx, user.Email, token)

	return token, nil
}

// ResendConfirmation re-issues the link for the account behind email.
//
// Unknown and already confirmed emails are silently ignored so the endpoint
// cannot be used to find out which addresses have accounts.
func (s *AuthService) ResendConfirmation(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if user.Confirmed {
		return nil
	}

	if _, err := s.IssueConfirmation(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			return nil
		}
		return err
	}
	return nil
}

// ChangeUsername sets the display name of userID.
func (s *AuthService) ChangeUsername(ctx context.Context, userID int64, username, usernameRepeat string) error {
	if username != usernameRepeat {
		return apperror.ValidationFailed("username_repeat", "Usernames do not match.")
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or fewer", MaxUsernameLength))
	}

	if err := s.users.UpdateUsername(ctx, userID, username); err != nil {
		return fmt.Errorf("service/auth: updating username: %w", err)
	}

	s.logger.Info("username changed", slog.Int64("userID", userID))
	return nil
}

// ConfirmationLink returns the URL mailed for token.
func (s *AuthService) ConfirmationLink(token string) string {
	return s.baseURL + "/account/confirm/" + token
}

func (s *AuthService) sendConfirmation(ctx context.Context, email, token string) {
	if err := s.mailer.SendConfirmation(ctx, email, s.ConfirmationLink(token)); err != nil {
		s.logger.Error("sending confirmation email failed",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}
