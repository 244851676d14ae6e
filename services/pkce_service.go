package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ValidateChallenge reports whether an authorization request carries a
// usable PKCE challenge.
func ValidateChallenge(challenge, method string) bool {
	if challenge == "" {
		return false
	}
	return method == PKCEMethodS256 || method == PKCEMethodPlain
}

// ValidateVerifier checks a token request's code_verifier against the
// challenge stored with the authorization code.
func ValidateVerifier(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	var computed string
	switch method {
	case PKCEMethodPlain:
		computed = verifier
	case PKCEMethodS256:
		computed = S256Challenge(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// S256Challenge derives the S256 code challenge for verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
