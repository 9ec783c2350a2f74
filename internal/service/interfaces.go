package service

import "github.com/convospace/convospace-api/internal/domain"

// AccountLifecycle is the surface the HTTP layer consumes.
type AccountLifecycle interface {
	Register(in RegisterInput) (uint, error)
	SendOTP(accountID uint) error
	ResendOTP(email string) error
	VerifyOTP(email, candidate string) (string, error)
	Login(email, password string) (string, *domain.Account, error)
	Authenticate(rawToken string) (*domain.Account, error)
	ForgotPassword(email string) error
	ResetPassword(plainToken, newPassword, confirm string) (string, error)
	SetAvatarKey(accountID uint, key string) error
}
