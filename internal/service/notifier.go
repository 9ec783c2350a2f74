package service

import (
	"context"
	"log/slog"
	"time"
)

type OTPNotification struct {
	AccountID uint
	Email     string
	Code      string
	ExpiresAt time.Time
}

type ResetNotification struct {
	AccountID uint
	Email     string
	Token     string
	ExpiresAt time.Time
	ResetURL  string
}

// Notifier delivers OTP and password-reset messages out-of-band. Delivery
// failures are reported to the caller but never retried here.
type Notifier interface {
	SendOTP(ctx context.Context, n OTPNotification) error
	SendPasswordReset(ctx context.Context, n ResetNotification) error
}

// DevNotifier logs the message instead of sending it. Useful for local
// development and as the default until an email provider is wired in.
type DevNotifier struct {
	logger *slog.Logger
}

func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

func (n *DevNotifier) SendOTP(ctx context.Context, notification OTPNotification) error {
	n.logger.InfoContext(ctx, "verification otp issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"code", notification.Code,
		"expires_at", notification.ExpiresAt,
	)
	return nil
}

func (n *DevNotifier) SendPasswordReset(ctx context.Context, notification ResetNotification) error {
	n.logger.InfoContext(ctx, "password reset token issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"reset", notification.ResetURL,
	)
	return nil
}
