package domain

import "time"

// Account is the single actor record of the chat backend. An account is
// created unverified at registration and becomes verified once the OTP sent
// to its email is confirmed. Reset fields are populated only while a
// password reset is pending.
type Account struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	FirstName string `gorm:"size:255;not null" json:"first_name"`
	LastName  string `gorm:"size:255;not null" json:"last_name"`
	Email     string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	AvatarKey string `gorm:"size:1024" json:"-"`

	PasswordHash string `gorm:"size:1024" json:"-"`

	Verified     bool       `gorm:"not null;default:false" json:"verified"`
	OTPHash      *string    `gorm:"size:1024" json:"-"`
	OTPExpiresAt *time.Time `json:"-"`

	ResetTokenHash      *string    `gorm:"size:128;index:idx_accounts_reset_token_hash" json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`

	PasswordChangedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
