package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-idp/api"
	"github.com/pilab-dev/shadow-idp/config"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/internal/server"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	demoCallback = "http://localhost:4200/signin-callback"
	demoVerifier = "dBjftJeZ4CVP-mJ92ZnyKuq4hYkQWdnF8eTPn1ko7Qs"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Issuer:        "https://idp.test",
		Audience:      "api",
		DefaultTenant: "default",
		CodeTTL:       time.Minute,
		CodeRetention: 10 * time.Minute,
		IDTokenTTL:    5 * time.Minute,
		SessionTTL:    time.Hour,
		KeyGrace:      time.Hour,
		SeedDemoData:  true,
		BcryptCost:    bcrypt.MinCost,
	}
}

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(testConfig(), log.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Close()
	})
	return p
}

func TestNewSeedsDemoData(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	client, err := p.Clients.GetClient(ctx, "demo-client")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.True(t, client.RequirePKCE)
	assert.NotEqual(t, "secret", client.SecretHash)

	user, err := p.Accounts.Authenticate(ctx, "default", "alice", "password")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Claims["email"])
}

func TestNewWithoutDemoData(t *testing.T) {
	cfg := testConfig()
	cfg.SeedDemoData = false
	p, err := New(cfg, log.NewNop())
	require.NoError(t, err)
	defer p.Sessions.Close()

	client, err := p.Clients.GetClient(context.Background(), "demo-client")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestDemoClientCodeFlow(t *testing.T) {
	p := newProvider(t)
	reg := prometheus.NewRegistry()
	metrics.InitCustomMetrics(reg)
	e := server.NewHTTPServer(log.NewNop(), p.API, reg, nil)

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}
	form := func(path string, v url.Values) *http.Request {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	authorize := "/authorize?" + url.Values{
		"client_id":             {"demo-client"},
		"redirect_uri":          {demoCallback},
		"response_type":         {"code"},
		"scope":                 {"openid profile email"},
		"state":                 {"s1"},
		"nonce":                 {"n1"},
		"code_challenge":        {services.S256Challenge(demoVerifier)},
		"code_challenge_method": {"S256"},
	}.Encode()

	rec := do(httptest.NewRequest(http.MethodGet, authorize, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loginURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	returnURL := loginURL.Query().Get("returnUrl")

	rec = do(form("/login", url.Values{"username": {"alice"}, "password": {"password"}, "returnUrl": {returnURL}}))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, returnURL, rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, returnURL, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	callback, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "localhost:4200", callback.Host)
	assert.Equal(t, "s1", callback.Query().Get("state"))

	rec = do(form("/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {callback.Query().Get("code")},
		"redirect_uri":  {demoCallback},
		"client_id":     {"demo-client"},
		"code_verifier": {demoVerifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	idToken, err := jwt.Parse(resp.IDToken, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		return p.Keys.PublicKey(kid), nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer("https://idp.test"), jwt.WithAudience("demo-client"))
	require.NoError(t, err)
	claims := idToken.Claims.(jwt.MapClaims)
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "n1", claims["nonce"])

	rec = do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "idp_auth_codes_issued_total")
}
