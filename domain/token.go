package domain

import "time"

// TokenType identifies the kind of a persisted token.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access_token"
	TokenTypeID      TokenType = "id_token"
)

// Token is a minted token. Only Revoked changes after creation.
type Token struct {
	ID        string    `json:"id"`
	Type      TokenType `json:"token_type"`
	Value     string    `json:"token_value"` // Signed JWT
	ClientID  string    `json:"client_id"`
	SubjectID string    `json:"subject_id"`
	TenantID  string    `json:"tenant_id"`
	Scope     string    `json:"scope,omitempty"`
	AuthCode  string    `json:"auth_code,omitempty"` // Code the token was redeemed from
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked,omitempty"`
}
