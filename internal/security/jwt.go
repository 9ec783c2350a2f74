package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid session token")

type SessionClaims struct {
	jwt.RegisteredClaims
}

// AccountID parses the token subject back into an account id.
func (c *SessionClaims) AccountID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token subject")
	}
	return uint(id), nil
}

type JWTManager struct {
	issuer     string
	audience   string
	secret     []byte
	sessionTTL time.Duration
}

// NewJWTManager builds a manager around a process-wide signing secret. A
// zero sessionTTL issues tokens without an expiry claim.
func NewJWTManager(issuer, audience, secret string, sessionTTL time.Duration) *JWTManager {
	return &JWTManager{issuer: issuer, audience: audience, secret: []byte(secret), sessionTTL: sessionTTL}
}

func (m *JWTManager) SignSessionToken(accountID uint, now time.Time) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   m.issuer,
			Audience: jwt.ClaimStrings{m.audience},
			Subject:  strconv.FormatUint(uint64(accountID), 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.sessionTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.sessionTTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *JWTManager) ParseSessionToken(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
