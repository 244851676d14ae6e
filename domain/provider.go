package domain

import (
	"context"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SecureRandom produces cryptographically secure random bytes.
type SecureRandom interface {
	Bytes(n int) ([]byte, error)
}

// JSONWebKey is a public RSA key in JWK form (RFC 7517).
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the published set of verification keys.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// Signer owns the signing keys. Sign takes the key id that was written into
// the token header so rotation between the two calls cannot desync them.
type Signer interface {
	CurrentKeyID() string
	Sign(keyID string, payload []byte) ([]byte, error)
	PublicKeySet() JSONWebKeySet
}

// ClientRegistry resolves clients. Unknown and disabled clients are both
// reported as nil with a nil error.
type ClientRegistry interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
}

// UserDirectory authenticates end users. Unknown users, inactive users and
// wrong passwords all yield nil.
type UserDirectory interface {
	Authenticate(ctx context.Context, tenantID, username, password string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
}
