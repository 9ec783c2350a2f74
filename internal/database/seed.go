package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/convospace/convospace-api/internal/domain"
	"github.com/convospace/convospace-api/internal/security"

	"gorm.io/gorm"
)

// Seed creates a pre-verified bootstrap account for local development.
// Existing accounts are left untouched.
func Seed(db *gorm.DB, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("bootstrap account password is required")
	}

	var existing domain.Account
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	hash, err := security.HashSecret(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	account := domain.Account{
		FirstName:         "Convo",
		LastName:          "Admin",
		Email:             email,
		PasswordHash:      hash,
		Verified:          true,
		PasswordChangedAt: &now,
	}
	return db.Create(&account).Error
}

// VerifyEmail force-verifies an account, for development only.
func VerifyEmail(db *gorm.DB, email string) error {
	normalized := strings.TrimSpace(strings.ToLower(email))
	if normalized == "" {
		return fmt.Errorf("email is required")
	}
	tx := db.Model(&domain.Account{}).Where("email = ?", normalized).
		Updates(map[string]any{"verified": true, "otp_hash": nil, "otp_expires_at": nil})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
