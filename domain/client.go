package domain

import (
	"errors"
	"slices"
	"time"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"

	// DefaultAccessTokenLifetime applies when a client does not configure one.
	DefaultAccessTokenLifetime = time.Hour
)

// Client represents an OAuth2 client application.
type Client struct {
	ID                  string        `json:"client_id"`
	SecretHash          string        `json:"-"`
	Name                string        `json:"client_name"`
	TenantID            string        `json:"tenant_id"`
	Enabled             bool          `json:"enabled"`
	RedirectURIs        []string      `json:"redirect_uris"`
	AllowedScopes       []string      `json:"allowed_scopes"`
	AllowedGrantTypes   []string      `json:"allowed_grant_types"`
	RequirePKCE         bool          `json:"require_pkce"`
	RequireConsent      bool          `json:"require_consent"`
	AccessTokenLifetime time.Duration `json:"access_token_lifetime,omitempty"`
}

// Validate checks the client invariants.
func (c *Client) Validate() error {
	if c.ID == "" {
		return errors.New("client id is required")
	}
	if c.AllowsGrantType(GrantTypeAuthorizationCode) && len(c.RedirectURIs) == 0 {
		return errors.New("authorization code clients need at least one redirect uri")
	}
	return nil
}

// HasRedirectURI reports whether uri is registered. Matching is exact.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsScope reports whether scope is in the allowed set.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.AllowedScopes, scope)
}

func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.AllowedGrantTypes, grantType)
}

// TokenLifetime returns the access token lifetime, falling back to the default.
func (c *Client) TokenLifetime() time.Duration {
	if c.AccessTokenLifetime <= 0 {
		return DefaultAccessTokenLifetime
	}
	return c.AccessTokenLifetime
}
