package domain

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidIssuer is returned when a tenant issuer is not an absolute URL.
var ErrInvalidIssuer = errors.New("issuer must be an absolute URL")

// Tenant groups clients and users under one issuer.
type Tenant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Issuer         string `json:"issuer,omitempty"`
	Active         bool   `json:"active"`
	EnableAuthCode bool   `json:"enable_auth_code"`
	EnableImplicit bool   `json:"enable_implicit"`
	RequirePKCE    bool   `json:"require_pkce"`
}

// Validate checks the tenant invariants.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return errors.New("tenant id is required")
	}
	if t.Issuer == "" {
		return nil
	}

	u, err := url.Parse(t.Issuer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidIssuer, t.Issuer)
	}
	return nil
}
