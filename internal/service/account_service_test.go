package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/convospace/convospace-api/internal/config"
	"github.com/convospace/convospace-api/internal/domain"
	"github.com/convospace/convospace-api/internal/repository"
	"github.com/convospace/convospace-api/internal/security"
)

type fakeAccountRepo struct {
	accounts map[uint]*domain.Account
	nextID   uint

	failUpdate error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[uint]*domain.Account{}, nextID: 1}
}

func (r *fakeAccountRepo) FindByID(id uint) (*domain.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *fakeAccountRepo) FindByEmail(email string) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			clone := *a
			return &clone, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *fakeAccountRepo) FindByEmailWithActiveOTP(email string, now time.Time) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Email == email && a.OTPHash != nil && a.OTPExpiresAt != nil && a.OTPExpiresAt.After(now) {
			clone := *a
			return &clone, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *fakeAccountRepo) FindByResetTokenHash(hash string, now time.Time) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.ResetTokenHash != nil && *a.ResetTokenHash == hash &&
			a.ResetTokenExpiresAt != nil && a.ResetTokenExpiresAt.After(now) {
			clone := *a
			return &clone, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *fakeAccountRepo) Create(account *domain.Account) error {
	account.ID = r.nextID
	r.nextID++
	clone := *account
	r.accounts[account.ID] = &clone
	return nil
}

func (r *fakeAccountRepo) Update(id uint, fields map[string]any) error {
	if r.failUpdate != nil {
		return r.failUpdate
	}
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	for k, v := range fields {
		switch k {
		case "first_name":
			a.FirstName = v.(string)
		case "last_name":
			a.LastName = v.(string)
		case "email":
			a.Email = v.(string)
		case "password_hash":
			a.PasswordHash = v.(string)
		case "avatar_key":
			a.AvatarKey = v.(string)
		case "verified":
			a.Verified = v.(bool)
		case "otp_hash":
			a.OTPHash = toStringPtr(v)
		case "otp_expires_at":
			a.OTPExpiresAt = toTimePtr(v)
		case "reset_token_hash":
			a.ResetTokenHash = toStringPtr(v)
		case "reset_token_expires_at":
			a.ResetTokenExpiresAt = toTimePtr(v)
		case "password_changed_at":
			a.PasswordChangedAt = toTimePtr(v)
		}
	}
	return nil
}

func (r *fakeAccountRepo) Save(account *domain.Account) error {
	clone := *account
	r.accounts[account.ID] = &clone
	return nil
}

func toStringPtr(v any) *string {
	if v == nil {
		return nil
	}
	switch s := v.(type) {
	case string:
		return &s
	case *string:
		return s
	}
	return nil
}

func toTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

type fakeNotifier struct {
	otps    []OTPNotification
	resets  []ResetNotification
	failErr error
}

func (n *fakeNotifier) SendOTP(_ context.Context, notification OTPNotification) error {
	if n.failErr != nil {
		return n.failErr
	}
	n.otps = append(n.otps, notification)
	return nil
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, notification ResetNotification) error {
	if n.failErr != nil {
		return n.failErr
	}
	n.resets = append(n.resets, notification)
	return nil
}

type accountServiceState struct {
	svc      *AccountService
	repo     *fakeAccountRepo
	notifier *fakeNotifier
	tokens   *TokenService
}

func newAccountServiceState(t *testing.T) *accountServiceState {
	t.Helper()
	cfg := &config.Config{
		OTPTTL:               10 * time.Minute,
		ResetTokenTTL:        10 * time.Minute,
		SessionTTL:           time.Hour,
		PasswordResetBaseURL: "https://app.example.com/auth/resetPassword/",
	}
	tokens := NewTokenService(security.NewJWTManager("issuer", "aud", "0123456789abcdef0123456789abcdef", cfg.SessionTTL))
	repo := newFakeAccountRepo()
	notifier := &fakeNotifier{}
	return &accountServiceState{
		svc:      NewAccountService(cfg, tokens, repo, notifier),
		repo:     repo,
		notifier: notifier,
		tokens:   tokens,
	}
}

func (s *accountServiceState) registerVerified(t *testing.T, email, password string) *domain.Account {
	t.Helper()
	id, err := s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "Lovelace", Email: email, Password: password})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	account := s.repo.accounts[id]
	account.Verified = true
	return account
}

func TestRegister(t *testing.T) {
	t.Run("creates pending account with hashed password", func(t *testing.T) {
		s := newAccountServiceState(t)
		id, err := s.svc.Register(RegisterInput{FirstName: " Ada ", LastName: "Lovelace", Email: "Ada@Example.COM ", Password: "correct-horse"})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		a := s.repo.accounts[id]
		if a.Email != "ada@example.com" {
			t.Fatalf("email not normalized: %q", a.Email)
		}
		if a.Verified {
			t.Fatal("new account must start unverified")
		}
		if a.PasswordHash == "correct-horse" || a.PasswordHash == "" {
			t.Fatal("password must be stored hashed")
		}
		if !security.VerifySecret("correct-horse", a.PasswordHash) {
			t.Fatal("stored hash does not verify")
		}
	})

	t.Run("rejects duplicate of verified account", func(t *testing.T) {
		s := newAccountServiceState(t)
		s.registerVerified(t, "ada@example.com", "correct-horse")
		_, err := s.svc.Register(RegisterInput{FirstName: "Eve", LastName: "Mallory", Email: "ada@example.com", Password: "different-pw"})
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("want ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("overwrites unverified account in place", func(t *testing.T) {
		s := newAccountServiceState(t)
		firstID, err := s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "first-password"})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		secondID, err := s.svc.Register(RegisterInput{FirstName: "Adeline", LastName: "King", Email: "ada@example.com", Password: "second-password"})
		if err != nil {
			t.Fatalf("re-register: %v", err)
		}
		if firstID != secondID {
			t.Fatalf("expected same account id, got %d and %d", firstID, secondID)
		}
		a := s.repo.accounts[firstID]
		if a.FirstName != "Adeline" {
			t.Fatalf("first name not updated: %q", a.FirstName)
		}
		if !security.VerifySecret("second-password", a.PasswordHash) {
			t.Fatal("password not replaced")
		}
		if a.Verified {
			t.Fatal("account must remain unverified")
		}
	})

	t.Run("validation", func(t *testing.T) {
		s := newAccountServiceState(t)
		cases := []struct {
			name string
			in   RegisterInput
			want error
		}{
			{"bad email", RegisterInput{FirstName: "A", LastName: "B", Email: "not-an-email", Password: "long-enough"}, ErrInvalidEmail},
			{"short password", RegisterInput{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "short"}, ErrWeakPassword},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := s.svc.Register(tc.in); !errors.Is(err, tc.want) {
					t.Fatalf("want %v, got %v", tc.want, err)
				}
			})
		}
	})
}

func TestSendOTP(t *testing.T) {
	t.Run("stores hash and expiry, delivers plaintext", func(t *testing.T) {
		s := newAccountServiceState(t)
		id, _ := s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "correct-horse"})
		if err := s.svc.SendOTP(id); err != nil {
			t.Fatalf("send otp: %v", err)
		}
		if len(s.notifier.otps) != 1 {
			t.Fatalf("expected one otp notification, got %d", len(s.notifier.otps))
		}
		code := s.notifier.otps[0].Code
		if len(code) != 6 {
			t.Fatalf("otp must be 6 digits, got %q", code)
		}
		a := s.repo.accounts[id]
		if a.OTPHash == nil || *a.OTPHash == code {
			t.Fatal("otp must be stored hashed")
		}
		if !security.VerifySecret(code, *a.OTPHash) {
			t.Fatal("stored otp hash does not verify")
		}
		if a.OTPExpiresAt == nil || !a.OTPExpiresAt.After(time.Now()) {
			t.Fatal("otp expiry missing or in the past")
		}
	})

	t.Run("no-op for verified account", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		if err := s.svc.SendOTP(a.ID); err != nil {
			t.Fatalf("send otp: %v", err)
		}
		if len(s.notifier.otps) != 0 {
			t.Fatal("verified account must not receive otp")
		}
	})

	t.Run("notify failure is reported", func(t *testing.T) {
		s := newAccountServiceState(t)
		id, _ := s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "correct-horse"})
		s.notifier.failErr = fmt.Errorf("smtp down")
		err := s.svc.SendOTP(id)
		if !errors.Is(err, ErrNotifyFailed) {
			t.Fatalf("want ErrNotifyFailed, got %v", err)
		}
	})
}

func TestVerifyOTP(t *testing.T) {
	setup := func(t *testing.T) (*accountServiceState, uint, string) {
		s := newAccountServiceState(t)
		id, _ := s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "correct-horse"})
		if err := s.svc.SendOTP(id); err != nil {
			t.Fatalf("send otp: %v", err)
		}
		return s, id, s.notifier.otps[0].Code
	}

	t.Run("success verifies account and issues session", func(t *testing.T) {
		s, id, code := setup(t)
		token, err := s.svc.VerifyOTP("ada@example.com", code)
		if err != nil {
			t.Fatalf("verify otp: %v", err)
		}
		if token == "" {
			t.Fatal("expected session token")
		}
		a := s.repo.accounts[id]
		if !a.Verified {
			t.Fatal("account not marked verified")
		}
		if a.OTPHash != nil || a.OTPExpiresAt != nil {
			t.Fatal("otp state must be cleared after verification")
		}
		if _, err := s.tokens.VerifySession(token); err != nil {
			t.Fatalf("issued token does not verify: %v", err)
		}
	})

	t.Run("same code cannot verify twice", func(t *testing.T) {
		s, _, code := setup(t)
		if _, err := s.svc.VerifyOTP("ada@example.com", code); err != nil {
			t.Fatalf("first verify: %v", err)
		}
		if _, err := s.svc.VerifyOTP("ada@example.com", code); !errors.Is(err, ErrInvalidOrExpiredOTP) {
			t.Fatalf("want ErrInvalidOrExpiredOTP, got %v", err)
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		s, _, code := setup(t)
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		if _, err := s.svc.VerifyOTP("ada@example.com", wrong); !errors.Is(err, ErrInvalidOrExpiredOTP) {
			t.Fatalf("want ErrInvalidOrExpiredOTP, got %v", err)
		}
	})

	t.Run("expired code", func(t *testing.T) {
		s, id, code := setup(t)
		past := time.Now().UTC().Add(-time.Minute)
		s.repo.accounts[id].OTPExpiresAt = &past
		if _, err := s.svc.VerifyOTP("ada@example.com", code); !errors.Is(err, ErrInvalidOrExpiredOTP) {
			t.Fatalf("want ErrInvalidOrExpiredOTP, got %v", err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		s, _, code := setup(t)
		if _, err := s.svc.VerifyOTP("nobody@example.com", code); !errors.Is(err, ErrInvalidOrExpiredOTP) {
			t.Fatalf("want ErrInvalidOrExpiredOTP, got %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("success returns token and account", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		token, got, err := s.svc.Login("Ada@Example.com", "correct-horse")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if got.ID != a.ID {
			t.Fatalf("wrong account: %d", got.ID)
		}
		claims, err := s.tokens.VerifySession(token)
		if err != nil {
			t.Fatalf("token invalid: %v", err)
		}
		id, err := claims.AccountID()
		if err != nil || id != a.ID {
			t.Fatalf("token subject mismatch: %d %v", id, err)
		}
	})

	t.Run("failures", func(t *testing.T) {
		s := newAccountServiceState(t)
		s.registerVerified(t, "ada@example.com", "correct-horse")
		_, _ = s.svc.Register(RegisterInput{FirstName: "Bob", LastName: "P", Email: "bob@example.com", Password: "correct-horse"})

		cases := []struct {
			name     string
			email    string
			password string
			want     error
		}{
			{"missing email", "", "correct-horse", ErrMissingCredentials},
			{"missing password", "ada@example.com", "", ErrMissingCredentials},
			{"unknown email", "nobody@example.com", "correct-horse", ErrInvalidCredentials},
			{"wrong password", "ada@example.com", "wrong-password", ErrInvalidCredentials},
			{"unverified account", "bob@example.com", "correct-horse", ErrInvalidCredentials},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := s.svc.Login(tc.email, tc.password)
				if !errors.Is(err, tc.want) {
					t.Fatalf("want %v, got %v", tc.want, err)
				}
			})
		}
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("resolves account from token", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		token, _, err := s.svc.Login("ada@example.com", "correct-horse")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		got, err := s.svc.Authenticate(token)
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if got.ID != a.ID {
			t.Fatalf("wrong account %d", got.ID)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		s := newAccountServiceState(t)
		if _, err := s.svc.Authenticate("not.a.token"); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("want ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("deleted account", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		token, _, _ := s.svc.Login("ada@example.com", "correct-horse")
		delete(s.repo.accounts, a.ID)
		if _, err := s.svc.Authenticate(token); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("want ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("token issued before password change is rejected", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		token, _, _ := s.svc.Login("ada@example.com", "correct-horse")
		changed := time.Now().UTC().Add(time.Hour)
		s.repo.accounts[a.ID].PasswordChangedAt = &changed
		if _, err := s.svc.Authenticate(token); !errors.Is(err, ErrStalePassword) {
			t.Fatalf("want ErrStalePassword, got %v", err)
		}
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("stores hashed token and mails reset link", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		if err := s.svc.ForgotPassword("ada@example.com"); err != nil {
			t.Fatalf("forgot: %v", err)
		}
		if len(s.notifier.resets) != 1 {
			t.Fatalf("expected one reset notification, got %d", len(s.notifier.resets))
		}
		n := s.notifier.resets[0]
		stored := s.repo.accounts[a.ID]
		if stored.ResetTokenHash == nil || *stored.ResetTokenHash == n.Token {
			t.Fatal("reset token must be stored hashed")
		}
		if *stored.ResetTokenHash != s.tokens.HashResetToken(n.Token) {
			t.Fatal("stored hash does not match the mailed token")
		}
		if !strings.Contains(n.ResetURL, "code="+n.Token) {
			t.Fatalf("reset url missing token: %q", n.ResetURL)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		s := newAccountServiceState(t)
		if err := s.svc.ForgotPassword("nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("want ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("notify failure rolls back stored token", func(t *testing.T) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		s.notifier.failErr = fmt.Errorf("smtp down")
		err := s.svc.ForgotPassword("ada@example.com")
		if !errors.Is(err, ErrNotifyFailed) {
			t.Fatalf("want ErrNotifyFailed, got %v", err)
		}
		stored := s.repo.accounts[a.ID]
		if stored.ResetTokenHash != nil || stored.ResetTokenExpiresAt != nil {
			t.Fatal("reset state must be cleared when the email fails")
		}
	})
}

func TestResetPassword(t *testing.T) {
	setup := func(t *testing.T) (*accountServiceState, *domain.Account, string) {
		s := newAccountServiceState(t)
		a := s.registerVerified(t, "ada@example.com", "correct-horse")
		if err := s.svc.ForgotPassword("ada@example.com"); err != nil {
			t.Fatalf("forgot: %v", err)
		}
		return s, a, s.notifier.resets[0].Token
	}

	t.Run("success rotates password and issues session", func(t *testing.T) {
		s, a, plain := setup(t)
		token, err := s.svc.ResetPassword(plain, "new-password-1", "new-password-1")
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		if token == "" {
			t.Fatal("expected session token")
		}
		stored := s.repo.accounts[a.ID]
		if !security.VerifySecret("new-password-1", stored.PasswordHash) {
			t.Fatal("password not rotated")
		}
		if stored.ResetTokenHash != nil || stored.ResetTokenExpiresAt != nil {
			t.Fatal("reset state must be cleared")
		}
		if stored.PasswordChangedAt == nil {
			t.Fatal("password_changed_at not stamped")
		}
		if _, _, err := s.svc.Login("ada@example.com", "new-password-1"); err != nil {
			t.Fatalf("login with new password: %v", err)
		}
		if _, _, err := s.svc.Login("ada@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatal("old password must stop working")
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		s, _, plain := setup(t)
		if _, err := s.svc.ResetPassword(plain, "new-password-1", "new-password-1"); err != nil {
			t.Fatalf("first reset: %v", err)
		}
		if _, err := s.svc.ResetPassword(plain, "new-password-2", "new-password-2"); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("want ErrInvalidOrExpiredToken, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		s, a, plain := setup(t)
		past := time.Now().UTC().Add(-time.Minute)
		s.repo.accounts[a.ID].ResetTokenExpiresAt = &past
		if _, err := s.svc.ResetPassword(plain, "new-password-1", "new-password-1"); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("want ErrInvalidOrExpiredToken, got %v", err)
		}
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		s, _, plain := setup(t)
		if _, err := s.svc.ResetPassword(plain, "new-password-1", "other"); !errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("want ErrPasswordMismatch, got %v", err)
		}
	})

	t.Run("weak replacement password", func(t *testing.T) {
		s, _, plain := setup(t)
		if _, err := s.svc.ResetPassword(plain, "short", "short"); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("want ErrWeakPassword, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		s, _, _ := setup(t)
		if _, err := s.svc.ResetPassword("  ", "new-password-1", "new-password-1"); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Fatalf("want ErrInvalidOrExpiredToken, got %v", err)
		}
	})
}

func TestResendOTP(t *testing.T) {
	t.Run("unknown email", func(t *testing.T) {
		s := newAccountServiceState(t)
		if err := s.svc.ResendOTP("nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("want ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("issues fresh code for unverified account", func(t *testing.T) {
		s := newAccountServiceState(t)
		_, _ = s.svc.Register(RegisterInput{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "correct-horse"})
		if err := s.svc.ResendOTP("Ada@Example.com"); err != nil {
			t.Fatalf("resend: %v", err)
		}
		if len(s.notifier.otps) != 1 {
			t.Fatalf("expected one notification, got %d", len(s.notifier.otps))
		}
	})
}
