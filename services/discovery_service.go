package services

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/pilab-dev/shadow-idp/api"
	"github.com/pilab-dev/shadow-idp/domain"
)

// ErrTenantNotFound is returned for discovery of an unknown tenant.
var ErrTenantNotFound = stderrors.New("tenant not found")

// DiscoveryService builds OpenID Provider metadata per tenant.
type DiscoveryService struct {
	clients       domain.ClientRegistry
	defaultIssuer string
}

func NewDiscoveryService(clients domain.ClientRegistry, defaultIssuer string) *DiscoveryService {
	return &DiscoveryService{clients: clients, defaultIssuer: defaultIssuer}
}

// Configuration returns the discovery document for tenantID. The issuer is
// the exact value tokens carry; endpoints hang off it.
func (s *DiscoveryService) Configuration(ctx context.Context, tenantID string) (*api.OpenIDConfiguration, error) {
	tenant, err := s.clients.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, ErrTenantNotFound
	}

	issuer := tenant.Issuer
	if issuer == "" {
		issuer = s.defaultIssuer
	}
	base := strings.TrimSuffix(issuer, "/")

	return &api.OpenIDConfiguration{
		Issuer:                            issuer,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		JwksURI:                           base + "/.well-known/jwks.json",
		ScopesSupported:                   []string{"openid", "profile", "email"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{domain.GrantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ClaimsSupported:                   []string{"iss", "sub", "aud", "iat", "exp", "nonce", "at_hash"},
	}, nil
}
