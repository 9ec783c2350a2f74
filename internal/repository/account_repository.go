package repository

import (
	"errors"
	"time"

	"github.com/convospace/convospace-api/internal/domain"

	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountRepository is the persistence contract of the account lifecycle.
// The active-OTP and reset-token lookups fold the expiry gate into the
// query so expired hashes can never match.
type AccountRepository interface {
	FindByID(id uint) (*domain.Account, error)
	FindByEmail(email string) (*domain.Account, error)
	FindByEmailWithActiveOTP(email string, now time.Time) (*domain.Account, error)
	FindByResetTokenHash(hash string, now time.Time) (*domain.Account, error)
	Create(account *domain.Account) error
	Update(id uint, fields map[string]any) error
	Save(account *domain.Account) error
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) FindByID(id uint) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.First(&a, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}

func (r *GormAccountRepository) FindByEmail(email string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.Where("email = ?", email).First(&a).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}

func (r *GormAccountRepository) FindByEmailWithActiveOTP(email string, now time.Time) (*domain.Account, error) {
	var a domain.Account
	err := r.db.Where("email = ? AND otp_hash IS NOT NULL AND otp_expires_at > ?", email, now).
		First(&a).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}

func (r *GormAccountRepository) FindByResetTokenHash(hash string, now time.Time) (*domain.Account, error) {
	var a domain.Account
	err := r.db.Where("reset_token_hash = ? AND reset_token_expires_at > ?", hash, now).
		First(&a).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &a, nil
}

func (r *GormAccountRepository) Create(account *domain.Account) error {
	return r.db.Create(account).Error
}

func (r *GormAccountRepository) Update(id uint, fields map[string]any) error {
	res := r.db.Model(&domain.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *GormAccountRepository) Save(account *domain.Account) error {
	return r.db.Save(account).Error
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	}
	return err
}
