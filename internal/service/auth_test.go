package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/mineshare/internal/apperror"
	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/model"
	"github.com/sakif/mineshare/internal/repository"
	"github.com/sakif/mineshare/internal/repository/sqldb"
)

const testBaseURL = "http://localhost:8080"

// newTestAuthService wires an AuthService with cheap bcrypt and a
// recording mailer.
func newTestAuthService(t *testing.T, users repository.UserRepository) (*AuthService, *fakeMailer) {
	t.Helper()
	mailer := &fakeMailer{}
	svc := NewAuthService(users, auth.NewPasswordServiceForTest(bcrypt.MinCost), mailer, testBaseURL+"/", discardLogger())
	return svc, mailer
}

// tokenFromLink extracts the token from a mailed confirmation link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	prefix := testBaseURL + "/account/confirm/"
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("link %q does not start with %q", link, prefix)
	}
	return strings.TrimPrefix(link, prefix)
}

func wantAppErr(t *testing.T, err error, target error) *apperror.AppError {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an *AppError", err)
	}
	return appErr
}

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister_Success(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)

	user, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret123", "10.0.0.1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.ID == 0 {
		t.Error("Register() did not assign an ID")
	}
	if user.Confirmed {
		t.Error("new user should be unconfirmed")
	}
	if user.ConfirmationToken == nil || *user.ConfirmationToken == "" {
		t.Fatal("new user should carry a confirmation token")
	}
	if user.RegIP != "10.0.0.1" || user.LogIP != "10.0.0.1" {
		t.Errorf("RegIP/LogIP = %q/%q, want 10.0.0.1", user.RegIP, user.LogIP)
	}
	if user.PasswordHash == "Secret123" {
		t.Error("password was stored in plain text")
	}

	sent, ok := mailer.last()
	if !ok {
		t.Fatal("no confirmation email was sent")
	}
	if sent.to != "a@x.com" {
		t.Errorf("mail to = %q, want a@x.com", sent.to)
	}
	if got := tokenFromLink(t, sent.link); got != *user.ConfirmationToken {
		t.Errorf("mailed token = %q, want %q", got, *user.ConfirmationToken)
	}
}

func TestRegister_PasswordMismatch(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret124", "")
	appErr := wantAppErr(t, err, apperror.ErrValidation)
	if appErr.Message != "Password mismatch." {
		t.Errorf("Message = %q", appErr.Message)
	}

	if repo.stored("a@x.com") != nil {
		t.Error("no user should be created on mismatch")
	}
	if _, ok := mailer.last(); ok {
		t.Error("no mail should be sent on mismatch")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc, _ := newTestAuthService(t, repo)

	if _, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret123", ""); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, err := svc.Register(context.Background(), "a@x.com", "Other456", "Other456", "")
	wantAppErr(t, err, apperror.ErrConflict)
}

func TestRegister_MissingIPRecordsPlaceholder(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo())

	user, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret123", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.RegIP != "0.0.0.0" {
		t.Errorf("RegIP = %q, want 0.0.0.0", user.RegIP)
	}
}

func TestRegister_MailFailureStillRegisters(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	mailer.err = errors.New("smtp down")

	if _, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret123", ""); err != nil {
		t.Fatalf("Register() error = %v, want nil despite mail failure", err)
	}
	if repo.stored("a@x.com") == nil {
		t.Error("user should exist even though the mail failed")
	}
}

func TestRegister_StoreFailure(t *testing.T) {
	repo := newFakeUserRepo()
	repo.getErr = errStoreDown
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), "a@x.com", "Secret123", "Secret123", "")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("error = %v, want store error", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		t.Error("store failures must not look like domain errors")
	}
}

func TestRegister_RejectsOverlongPassword(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo())

	long := strings.Repeat("p", 73)
	_, err := svc.Register(context.Background(), "a@x.com", long, long, "")
	wantAppErr(t, err, apperror.ErrValidation)
}

// =========================================================================
// Login TESTS
// =========================================================================

// TestRegisterConfirmLogin walks the a@x.com / Secret123 example end to end.
func TestRegisterConfirmLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Before confirmation the right password is not enough.
	_, err = svc.Login(ctx, "a@x.com", "Secret123")
	appErr := wantAppErr(t, err, apperror.ErrUnconfirmed)
	if !strings.Contains(appErr.Message, "Email not confirmed") {
		t.Errorf("Message = %q", appErr.Message)
	}

	sent, _ := mailer.last()
	if _, err := svc.Confirm(ctx, tokenFromLink(t, sent.link)); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	user, err := svc.Login(ctx, "a@x.com", "Secret123")
	if err != nil {
		t.Fatalf("Login() after confirmation error = %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("Login() ID = %d, want %d", user.ID, registered.ID)
	}
}

func TestLogin_WrongPasswordRegardlessOfConfirmation(t *testing.T) {
	for _, confirmed := range []bool{false, true} {
		repo := newFakeUserRepo()
		svc, mailer := newTestAuthService(t, repo)
		ctx := context.Background()

		if _, err := svc.Register(ctx, "a@x.com", "Secret123", "Secret123", ""); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if confirmed {
			sent, _ := mailer.last()
			if _, err := svc.Confirm(ctx, tokenFromLink(t, sent.link)); err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
		}

		_, err := svc.Login(ctx, "a@x.com", "wrong")
		appErr := wantAppErr(t, err, apperror.ErrUnauthorized)
		if appErr.Message != "Invalid email or password." {
			t.Errorf("confirmed=%v: Message = %q", confirmed, appErr.Message)
		}
	}
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc, _ := newTestAuthService(t, repo)
	ctx := context.Background()

	svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")

	_, errUnknown := svc.Login(ctx, "nobody@x.com", "Secret123")
	_, errWrong := svc.Login(ctx, "a@x.com", "nope")

	a := wantAppErr(t, errUnknown, apperror.ErrUnauthorized)
	b := wantAppErr(t, errWrong, apperror.ErrUnauthorized)
	if a.Message != b.Message {
		t.Errorf("messages differ: %q vs %q", a.Message, b.Message)
	}
}

func TestLogin_EmailIsCaseSensitive(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")
	sent, _ := mailer.last()
	svc.Confirm(ctx, tokenFromLink(t, sent.link))

	_, err := svc.Login(ctx, "A@x.com", "Secret123")
	wantAppErr(t, err, apperror.ErrUnauthorized)
}

func TestLogin_StoreFailure(t *testing.T) {
	repo := newFakeUserRepo()
	repo.getErr = errStoreDown
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.Login(context.Background(), "a@x.com", "Secret123")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("error = %v, want store error", err)
	}
}

// =========================================================================
// Confirm TESTS
// =========================================================================

func TestConfirm_OnlyOnce(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")
	sent, _ := mailer.last()
	token := tokenFromLink(t, sent.link)

	user, err := svc.Confirm(ctx, token)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !user.Confirmed {
		t.Error("user should be confirmed")
	}
	if stored := repo.stored("a@x.com"); stored.ConfirmationToken != nil {
		t.Errorf("stored token = %q, want nil", *stored.ConfirmationToken)
	}

	_, err = svc.Confirm(ctx, token)
	appErr := wantAppErr(t, err, apperror.ErrInvalidToken)
	if appErr.Message != "Invalid token or user not found." {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestConfirm_UnknownAndEmpty(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo())

	for _, token := range []string{"", "   ", "no-such-token"} {
		_, err := svc.Confirm(context.Background(), token)
		wantAppErr(t, err, apperror.ErrInvalidToken)
	}
}

// =========================================================================
// IssueConfirmation / ResendConfirmation TESTS
// =========================================================================

func TestIssueConfirmation_ReplacesToken(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	user, _ := svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")
	oldToken := *user.ConfirmationToken

	newToken, err := svc.IssueConfirmation(ctx, user)
	if err != nil {
		t.Fatalf("IssueConfirmation() error = %v", err)
	}
	if newToken == oldToken {
		t.Fatal("IssueConfirmation() reused the old token")
	}

	sent, _ := mailer.last()
	if got := tokenFromLink(t, sent.link); got != newToken {
		t.Errorf("mailed token = %q, want %q", got, newToken)
	}

	if _, err := svc.Confirm(ctx, oldToken); !errors.Is(err, apperror.ErrInvalidToken) {
		t.Errorf("old token error = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Confirm(ctx, newToken); err != nil {
		t.Errorf("new token error = %v", err)
	}
}

func TestIssueConfirmation_AlreadyConfirmed(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo())

	_, err := svc.IssueConfirmation(context.Background(), &model.User{ID: 1, Confirmed: true})
	wantAppErr(t, err, apperror.ErrValidation)
}

func TestResendConfirmation(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")
	before := len(mailer.sent)

	if err := svc.ResendConfirmation(ctx, "a@x.com"); err != nil {
		t.Fatalf("ResendConfirmation() error = %v", err)
	}
	if len(mailer.sent) != before+1 {
		t.Errorf("mails sent = %d, want %d", len(mailer.sent), before+1)
	}

	// Unknown address: silent success, nothing sent.
	if err := svc.ResendConfirmation(ctx, "nobody@x.com"); err != nil {
		t.Errorf("ResendConfirmation(unknown) error = %v", err)
	}
	if len(mailer.sent) != before+1 {
		t.Error("no mail should go to an unknown address")
	}
}

// =========================================================================
// LoginFederated TESTS
// =========================================================================

func googleProfile(email string) *auth.GoogleUser {
	return &auth.GoogleUser{ID: "g-1", Email: email, VerifiedEmail: true, Name: "Alex"}
}

func TestLoginFederated_ProvisionsOnce(t *testing.T) {
	repo := newFakeUserRepo()
	svc, mailer := newTestAuthService(t, repo)
	ctx := context.Background()

	first, err := svc.LoginFederated(ctx, googleProfile("g@x.com"))
	if err != nil {
		t.Fatalf("LoginFederated() error = %v", err)
	}
	if !first.Confirmed {
		t.Error("federated user should be confirmed")
	}
	if first.RegIP != model.FederatedRegIP {
		t.Errorf("RegIP = %q, want %q", first.RegIP, model.FederatedRegIP)
	}
	if first.ConfirmationToken != nil {
		t.Error("federated user should never get a confirmation token")
	}
	if _, err := bcrypt.Cost([]byte(first.PasswordHash)); err != nil {
		t.Errorf("PasswordHash is not a bcrypt hash: %v", err)
	}
	if _, ok := mailer.last(); ok {
		t.Error("federated login should not send mail")
	}

	second, err := svc.LoginFederated(ctx, googleProfile("g@x.com"))
	if err != nil {
		t.Fatalf("second LoginFederated() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second login ID = %d, want %d", second.ID, first.ID)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

func TestLoginFederated_ExistingLocalAccount(t *testing.T) {
	repo := newFakeUserRepo()
	svc, _ := newTestAuthService(t, repo)
	ctx := context.Background()

	local, _ := svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")

	got, err := svc.LoginFederated(ctx, googleProfile("a@x.com"))
	if err != nil {
		t.Fatalf("LoginFederated() error = %v", err)
	}
	if got.ID != local.ID {
		t.Errorf("ID = %d, want existing %d", got.ID, local.ID)
	}
}

func TestLoginFederated_RejectsMissingOrUnverifiedEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc, _ := newTestAuthService(t, repo)

	cases := map[string]*auth.GoogleUser{
		"nil profile": nil,
		"no email":    {ID: "g-1", VerifiedEmail: true},
		"unverified":  {ID: "g-1", Email: "g@x.com", VerifiedEmail: false},
	}
	for name, profile := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.LoginFederated(context.Background(), profile)
			wantAppErr(t, err, apperror.ErrUnauthorized)
		})
	}
	if len(repo.users) != 0 {
		t.Errorf("users = %d, want 0", len(repo.users))
	}
}

// racingUserRepo simulates losing the insert race: right before our
// CreateUser, a concurrent login inserts the same email.
type racingUserRepo struct {
	*fakeUserRepo
	raced bool
}

func (r *racingUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	if !r.raced {
		r.raced = true
		winner := *user
		if err := r.fakeUserRepo.CreateUser(ctx, &winner); err != nil {
			return err
		}
	}
	return r.fakeUserRepo.CreateUser(ctx, user)
}

func TestLoginFederated_LosesInsertRace(t *testing.T) {
	repo := &racingUserRepo{fakeUserRepo: newFakeUserRepo()}
	svc, _ := newTestAuthService(t, repo)

	user, err := svc.LoginFederated(context.Background(), googleProfile("g@x.com"))
	if err != nil {
		t.Fatalf("LoginFederated() error = %v", err)
	}
	if user.ID != 1 {
		t.Errorf("ID = %d, want the winner's id 1", user.ID)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

// =========================================================================
// ChangeUsername TESTS
// =========================================================================

func TestChangeUsername(t *testing.T) {
	repo := newFakeUserRepo()
	svc, _ := newTestAuthService(t, repo)
	ctx := context.Background()
	user, _ := svc.Register(ctx, "a@x.com", "Secret123", "Secret123", "")

	tests := []struct {
		name     string
		username string
		repeat   string
		wantErr  error
	}{
		{"mismatch", "steve", "alex", apperror.ErrValidation},
		{"empty", "  ", "  ", apperror.ErrValidation},
		{"too long", strings.Repeat("s", MaxUsernameLength+1), strings.Repeat("s", MaxUsernameLength+1), apperror.ErrValidation},
		{"ok", " steve ", " steve ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ChangeUsername(ctx, user.ID, tt.username, tt.repeat)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ChangeUsername() error = %v", err)
				}
				return
			}
			wantAppErr(t, err, tt.wantErr)
		})
	}

	if got := repo.stored("a@x.com").Username; got != "steve" {
		t.Errorf("Username = %q, want steve", got)
	}
}

// =========================================================================
// CONCURRENCY AGAINST A REAL STORE
// =========================================================================

// TestRegister_ConcurrentDuplicates races registrations of one email through
// the whole service against SQLite. The pre-check cannot stop them all; the
// unique index must, and every loser must see DuplicateEmail.
func TestRegister_ConcurrentDuplicates(t *testing.T) {
	db, err := sqldb.New(sqldb.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqldb.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, _ := newTestAuthService(t, db)

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), "race@x.com", "Secret123", "Secret123", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Errorf("successes = %d, conflicts = %d; want 1 and %d", successes, conflicts, workers-1)
	}
}

func TestLoginFederated_RealStore(t *testing.T) {
	db, err := sqldb.New(sqldb.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqldb.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, _ := newTestAuthService(t, db)
	ctx := context.Background()

	first, err := svc.LoginFederated(ctx, googleProfile("g@x.com"))
	if err != nil {
		t.Fatalf("LoginFederated() error = %v", err)
	}
	second, err := svc.LoginFederated(ctx, googleProfile("g@x.com"))
	if err != nil {
		t.Fatalf("second LoginFederated() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("IDs differ: %d vs %d", first.ID, second.ID)
	}

	stored, err := db.GetUserByEmail(ctx, "g@x.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if !stored.Confirmed || stored.RegIP != model.FederatedRegIP {
		t.Errorf("stored = confirmed %v regip %q", stored.Confirmed, stored.RegIP)
	}
}
