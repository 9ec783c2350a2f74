package security

import "golang.org/x/crypto/bcrypt"

// bcryptCost is fixed: high enough to make offline brute force expensive,
// low enough to keep login latency acceptable.
const bcryptCost = 12

// HashSecret hashes a password or OTP code with a per-call random salt.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether candidate matches the stored hash. A
// malformed or empty stored hash verifies as false rather than erroring:
// callers treat any non-match identically.
func VerifySecret(candidate, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate)) == nil
}
