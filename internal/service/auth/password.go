package auth

import "golang.org/x/crypto/bcrypt"

// SecretVerifier defines the interface for checking a presented trigger
// secret against its configured hash.
type SecretVerifier interface {
	// Compare compares a hashed secret with its possible plaintext equivalent.
	// Returns nil on success, or an error on failure (e.g., mismatch).
	Compare(hashedSecret, secret string) error
}

// BcryptVerifier implements SecretVerifier using bcrypt.
type BcryptVerifier struct{}

// NewBcryptVerifier creates a new BcryptVerifier.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{}
}

// Compare implements the SecretVerifier interface using bcrypt.
func (v *BcryptVerifier) Compare(hashedSecret, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
}
