package service

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/convospace/convospace-api/internal/security"
)

const resetTokenBytes = 32

// TokenService issues and verifies session tokens and produces the secrets
// used by the OTP and password-reset flows. Only hashes of those secrets
// are ever persisted; the plaintext goes out-of-band to the account owner.
type TokenService struct {
	jwtMgr *security.JWTManager
}

func NewTokenService(jwtMgr *security.JWTManager) *TokenService {
	return &TokenService{jwtMgr: jwtMgr}
}

func (s *TokenService) IssueSession(accountID uint) (string, error) {
	return s.jwtMgr.SignSessionToken(accountID, time.Now().UTC())
}

func (s *TokenService) VerifySession(raw string) (*security.SessionClaims, error) {
	return s.jwtMgr.ParseSessionToken(raw)
}

// NewResetToken returns the plaintext reset token and the sha256 hash that
// gets persisted in its place.
func (s *TokenService) NewResetToken() (plain string, hash string, err error) {
	plain, err = security.NewRandomToken(resetTokenBytes)
	if err != nil {
		return "", "", err
	}
	return plain, s.HashResetToken(plain), nil
}

func (s *TokenService) HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func (s *TokenService) NewOTP() (string, error) {
	return security.NewOTP()
}
