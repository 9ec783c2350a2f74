package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/convospace/convospace-api/internal/config"
	"github.com/convospace/convospace-api/internal/domain"
	"github.com/convospace/convospace-api/internal/observability"
	"github.com/convospace/convospace-api/internal/repository"
	"github.com/convospace/convospace-api/internal/security"
)

var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrMissingCredentials    = errors.New("both email and password are required")
	ErrInvalidCredentials    = errors.New("email or password is incorrect")
	ErrInvalidOrExpiredOTP   = errors.New("otp is invalid or has expired")
	ErrInvalidOrExpiredToken = errors.New("reset token is invalid or has expired")
	ErrUnauthenticated       = errors.New("not authenticated")
	ErrAccountNotFound       = errors.New("no account found with that email")
	ErrStalePassword         = errors.New("password was changed after this token was issued")
	ErrNotifyFailed          = errors.New("failed to send email")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrWeakPassword          = errors.New("password must be at least 8 characters")
)

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// AccountService drives the account lifecycle: Pending on registration,
// Verified once the OTP is confirmed, with an independent reset-pending
// excursion for forgotten passwords. Every state mutation is a single
// repository write; hashing happens here, explicitly, before the write.
type AccountService struct {
	cfg         *config.Config
	tokenSvc    *TokenService
	accountRepo repository.AccountRepository
	notifier    Notifier
}

func NewAccountService(cfg *config.Config, tokenSvc *TokenService, accountRepo repository.AccountRepository, notifier Notifier) *AccountService {
	return &AccountService{cfg: cfg, tokenSvc: tokenSvc, accountRepo: accountRepo, notifier: notifier}
}

// Register creates a Pending account, or refreshes an existing unverified
// one in place. Only an existing verified account is a duplicate. The
// returned id feeds straight into SendOTP.
func (s *AccountService) Register(in RegisterInput) (uint, error) {
	email := normalizeEmail(in.Email)
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if err := validateEmail(email); err != nil {
		return 0, err
	}
	if firstName == "" {
		return 0, fmt.Errorf("first name is required")
	}
	if lastName == "" {
		return 0, fmt.Errorf("last name is required")
	}
	if err := validateNewPassword(in.Password); err != nil {
		return 0, err
	}

	hash, err := security.HashSecret(in.Password)
	if err != nil {
		return 0, err
	}

	existing, err := s.accountRepo.FindByEmail(email)
	switch {
	case err == nil && existing.Verified:
		return 0, ErrDuplicateEmail
	case err == nil:
		// Unverified re-registration overwrites the allow-listed fields
		// only; verification and reset state is untouched.
		if err := s.accountRepo.Update(existing.ID, map[string]any{
			"first_name":    firstName,
			"last_name":     lastName,
			"email":         email,
			"password_hash": hash,
		}); err != nil {
			return 0, err
		}
		return existing.ID, nil
	case !errors.Is(err, repository.ErrAccountNotFound):
		return 0, err
	}

	account := &domain.Account{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.accountRepo.Create(account); err != nil {
		return 0, err
	}
	return account.ID, nil
}

// SendOTP issues a fresh 6-digit code for an unverified account and hands
// the plaintext to the notifier. Only the hash and expiry are stored.
func (s *AccountService) SendOTP(accountID uint) error {
	account, err := s.accountRepo.FindByID(accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if account.Verified {
		return nil
	}

	code, err := s.tokenSvc.NewOTP()
	if err != nil {
		return err
	}
	otpHash, err := security.HashSecret(code)
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.cfg.OTPTTL)
	if err := s.accountRepo.Update(account.ID, map[string]any{
		"otp_hash":       otpHash,
		"otp_expires_at": expiresAt,
	}); err != nil {
		return err
	}

	if err := s.notifier.SendOTP(context.Background(), OTPNotification{
		AccountID: account.ID,
		Email:     account.Email,
		Code:      code,
		ExpiresAt: expiresAt,
	}); err != nil {
		observability.RecordNotificationDispatch(context.Background(), "otp", "failure")
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	observability.RecordNotificationDispatch(context.Background(), "otp", "success")
	return nil
}

// ResendOTP issues a new code for the unverified account behind email.
// Verified accounts are a silent no-op, so a success response does not
// reveal whether a known address has already been confirmed.
func (s *AccountService) ResendOTP(email string) error {
	email = normalizeEmail(email)
	account, err := s.accountRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return s.SendOTP(account.ID)
}

// VerifyOTP flips an account to Verified when the candidate code matches a
// stored, unexpired OTP hash. The hash is cleared on success so the same
// code can never verify twice.
func (s *AccountService) VerifyOTP(email, candidate string) (string, error) {
	email = normalizeEmail(email)
	now := time.Now().UTC()
	account, err := s.accountRepo.FindByEmailWithActiveOTP(email, now)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrInvalidOrExpiredOTP
		}
		return "", err
	}
	if account.OTPHash == nil || !security.VerifySecret(candidate, *account.OTPHash) {
		return "", ErrInvalidOrExpiredOTP
	}

	if err := s.accountRepo.Update(account.ID, map[string]any{
		"verified":       true,
		"otp_hash":       nil,
		"otp_expires_at": nil,
	}); err != nil {
		return "", err
	}
	return s.tokenSvc.IssueSession(account.ID)
}

// Login checks credentials and returns a session token. Unknown email, a
// bad password, and an unverified account all fail identically so the
// response leaks nothing about account state.
func (s *AccountService) Login(email, password string) (string, *domain.Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, ErrMissingCredentials
	}
	account, err := s.accountRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !security.VerifySecret(password, account.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	if !account.Verified {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokenSvc.IssueSession(account.ID)
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}

// Authenticate resolves a raw session token to its account, rejecting
// tokens issued before the account's last password change.
func (s *AccountService) Authenticate(rawToken string) (*domain.Account, error) {
	claims, err := s.tokenSvc.VerifySession(rawToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	accountID, err := claims.AccountID()
	if err != nil {
		return nil, ErrUnauthenticated
	}
	account, err := s.accountRepo.FindByID(accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	// JWT iat has second precision; compare on whole seconds so a token
	// issued in the same instant as the change still passes.
	if account.PasswordChangedAt != nil && claims.IssuedAt.Unix() < account.PasswordChangedAt.Unix() {
		return nil, ErrStalePassword
	}
	return account, nil
}

// ForgotPassword stores a hashed single-use reset token and mails the
// plaintext embedded in a reset link. If the mail cannot be dispatched the
// stored token is rolled back so no orphaned secret stays live.
func (s *AccountService) ForgotPassword(email string) error {
	email = normalizeEmail(email)
	account, err := s.accountRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	plain, hash, err := s.tokenSvc.NewResetToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.accountRepo.Update(account.ID, map[string]any{
		"reset_token_hash":       hash,
		"reset_token_expires_at": expiresAt,
	}); err != nil {
		return err
	}

	resetURL, err := s.buildResetURL(plain)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(context.Background(), ResetNotification{
		AccountID: account.ID,
		Email:     account.Email,
		Token:     plain,
		ExpiresAt: expiresAt,
		ResetURL:  resetURL,
	}); err != nil {
		_ = s.accountRepo.Update(account.ID, map[string]any{
			"reset_token_hash":       nil,
			"reset_token_expires_at": nil,
		})
		observability.RecordNotificationDispatch(context.Background(), "password_reset", "failure")
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	observability.RecordNotificationDispatch(context.Background(), "password_reset", "success")
	return nil
}

// ResetPassword consumes a plaintext reset token: the stored hash must
// match and be unexpired. Success rotates the password, clears the reset
// fields, stamps password_changed_at, and returns a fresh session token.
func (s *AccountService) ResetPassword(plainToken, newPassword, confirm string) (string, error) {
	if newPassword != confirm {
		return "", ErrPasswordMismatch
	}
	if err := validateNewPassword(newPassword); err != nil {
		return "", err
	}
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return "", ErrInvalidOrExpiredToken
	}

	now := time.Now().UTC()
	account, err := s.accountRepo.FindByResetTokenHash(s.tokenSvc.HashResetToken(plainToken), now)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", err
	}

	newHash, err := security.HashSecret(newPassword)
	if err != nil {
		return "", err
	}
	if err := s.accountRepo.Update(account.ID, map[string]any{
		"password_hash":          newHash,
		"reset_token_hash":       nil,
		"reset_token_expires_at": nil,
		"password_changed_at":    now,
	}); err != nil {
		return "", err
	}
	return s.tokenSvc.IssueSession(account.ID)
}

// SetAvatarKey records the storage object key of the account's avatar.
// An empty key clears it.
func (s *AccountService) SetAvatarKey(accountID uint, key string) error {
	err := s.accountRepo.Update(accountID, map[string]any{"avatar_key": key})
	if errors.Is(err, repository.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	return err
}

func (s *AccountService) buildResetURL(plainToken string) (string, error) {
	u, err := url.Parse(s.cfg.PasswordResetBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid PASSWORD_RESET_BASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("code", plainToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func validateNewPassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	return nil
}
