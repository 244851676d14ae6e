package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/internal/crypto"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer      = "https://idp.test"
	testRedirectURI = "https://app/cb"
	testVerifier    = "M25iVXpKU3puUjFaYWg3T1NDTDQtcW1ROUY5YXlwalNoc0hhakxifmZHag"
)

var sharedKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

// staticKey makes NewKeyService reuse one RSA key across tests.
func staticKey() (*rsa.PrivateKey, error) { return sharedKey() }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingRandom struct{}

func (failingRandom) Bytes(int) ([]byte, error) { return nil, errors.New("entropy exhausted") }

// MockClientRegistry is a testify mock of domain.ClientRegistry.
type MockClientRegistry struct {
	mock.Mock
}

func (m *MockClientRegistry) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientRegistry) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tenant), args.Error(1)
}

// MockSigner is a testify mock of domain.Signer.
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) CurrentKeyID() string {
	return m.Called().String(0)
}

func (m *MockSigner) Sign(keyID string, payload []byte) ([]byte, error) {
	args := m.Called(keyID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSigner) PublicKeySet() domain.JSONWebKeySet {
	return m.Called().Get(0).(domain.JSONWebKeySet)
}

// harness wires the flows over a seeded store.
type harness struct {
	store     *store.Store
	clock     *fakeClock
	keys      *KeyService
	clients   *ClientService
	authorize *AuthorizeFlow
	token     *TokenFlow
}

func testFixtures() store.Fixtures {
	return store.Fixtures{
		Tenants: []domain.Tenant{{ID: "t1", Issuer: testIssuer, Active: true, EnableAuthCode: true}},
		Clients: []domain.Client{
			{
				ID:                  "c1",
				TenantID:            "t1",
				Enabled:             true,
				RedirectURIs:        []string{testRedirectURI, "https://app/cb?tenant=x"},
				AllowedScopes:       []string{"openid", "profile"},
				AllowedGrantTypes:   []string{domain.GrantTypeAuthorizationCode},
				RequirePKCE:         true,
				AccessTokenLifetime: time.Hour,
			},
			{
				ID:                "public",
				TenantID:          "t1",
				Enabled:           true,
				RedirectURIs:      []string{"https://public/cb"},
				AllowedScopes:     []string{"openid"},
				AllowedGrantTypes: []string{domain.GrantTypeAuthorizationCode},
			},
			{
				ID:                "disabled",
				TenantID:          "t1",
				RedirectURIs:      []string{testRedirectURI},
				AllowedScopes:     []string{"openid"},
				AllowedGrantTypes: []string{domain.GrantTypeAuthorizationCode},
			},
		},
		Users: []domain.User{{ID: "u1", Username: "alice", TenantID: "t1", Active: true}},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := store.New()
	require.NoError(t, store.Seed(st, testFixtures()))

	clock := newFakeClock()
	keys, err := NewKeyService(0, time.Hour, log.NewNop(), WithKeyGenerator(staticKey))
	require.NoError(t, err)

	clients := NewClientService(st)
	minter := NewTokenMinter(keys, clock, MinterConfig{Issuer: "https://fallback.test", Audience: "api"})

	return &harness{
		store:     st,
		clock:     clock,
		keys:      keys,
		clients:   clients,
		authorize: NewAuthorizeFlow(st, clients, crypto.Random{}, clock, 0, log.NewNop()),
		token:     NewTokenFlow(st, clients, minter, clock, log.NewNop()),
	}
}

func (h *harness) user() *domain.User {
	return &domain.User{ID: "u1", Username: "alice", TenantID: "t1", Active: true}
}

func validAuthorizeRequest() AuthorizeRequest {
	return AuthorizeRequest{
		ClientID:            "c1",
		RedirectURI:         testRedirectURI,
		ResponseType:        "code",
		Scope:               "openid profile",
		State:               "xyz",
		CodeChallenge:       S256Challenge(testVerifier),
		CodeChallengeMethod: PKCEMethodS256,
		Nonce:               "n-0S6_WzA2Mj",
	}
}

// issueCode runs a successful authorization and returns the code.
func (h *harness) issueCode(t *testing.T) string {
	t.Helper()
	out := h.authorize.Authorize(context.Background(), validAuthorizeRequest(), h.user())
	require.Equal(t, OutcomeRedirect, out.Kind, "authorize failed: %+v", out.Err)
	return out.Code
}

func validTokenRequest(code string) TokenRequest {
	return TokenRequest{
		GrantType:    domain.GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     "c1",
		CodeVerifier: testVerifier,
	}
}

// keyfunc resolves a token's kid against a published key set.
func keyfunc(set domain.JSONWebKeySet) jwt.Keyfunc {
	return func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		for _, k := range set.Keys {
			if k.Kid != kid {
				continue
			}
			n, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			e, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
		}
		return nil, errors.New("unknown kid")
	}
}

func parseClaims(t *testing.T, raw string, set domain.JSONWebKeySet) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, keyfunc(set),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation())
	require.NoError(t, err)
	return tok, claims
}
