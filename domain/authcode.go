package domain

import "time"

// AuthCode represents an OAuth 2.0 authorization code.
type AuthCode struct {
	Code        string    `json:"code"`         // Unique authorization code
	ClientID    string    `json:"client_id"`    // Client application ID
	SubjectID   string    `json:"subject_id"`   // User who authorized the request
	TenantID    string    `json:"tenant_id"`    // Tenant of the client
	RedirectURI string    `json:"redirect_uri"` // Client's callback URL
	Scope       string    `json:"scope"`        // Requested scopes, space delimited
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"` // Expiration timestamp
	Used        bool      `json:"used"`       // Whether code has been exchanged
	CreatedAt   time.Time `json:"created_at"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// IsExpired reports whether the code is no longer redeemable at now.
func (c *AuthCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// HasChallenge reports whether the code was issued with a PKCE challenge.
func (c *AuthCode) HasChallenge() bool {
	return c.CodeChallenge != ""
}
