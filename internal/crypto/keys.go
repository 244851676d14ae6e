package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// RSAKeyBits is the modulus size of generated signing keys.
const RSAKeyBits = 2048

// GenerateRSAKey generates a new RSA private key. It returns the key and any error that
// occurred during the generation process.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSAKeyBits)
}

// Random reads from crypto/rand.
type Random struct{}

// Bytes returns n random bytes.
func (Random) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// RandomSource is satisfied by domain.SecureRandom.
type RandomSource interface {
	Bytes(n int) ([]byte, error)
}

// RandomToken returns n random bytes from src as base64url without padding.
func RandomToken(src RandomSource, n int) (string, error) {
	b, err := src.Bytes(n)
	if err != nil {
		return "", err
	}
	if len(b) != n {
		return "", fmt.Errorf("random source returned %d bytes, want %d", len(b), n)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
