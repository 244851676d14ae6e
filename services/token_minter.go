package services

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-idp/domain"
)

// DefaultIDTokenLifetime is used when the minter is configured with none.
const DefaultIDTokenLifetime = 5 * time.Minute

// MinterConfig holds the token minter settings.
type MinterConfig struct {
	// Issuer is used for clients whose tenant has no issuer.
	Issuer string
	// Audience is the resource identifier written into access tokens.
	Audience        string
	IDTokenLifetime time.Duration
}

// MintedTokens is the pair produced for one redeemed code.
type MintedTokens struct {
	Access    *domain.Token
	ID        *domain.Token
	ExpiresIn int // access token lifetime in seconds
}

// TokenMinter builds and signs the access and identity tokens for a code.
type TokenMinter struct {
	signer domain.Signer
	clock  domain.Clock
	cfg    MinterConfig
}

// NewTokenMinter creates a TokenMinter.
func NewTokenMinter(signer domain.Signer, clock domain.Clock, cfg MinterConfig) *TokenMinter {
	if cfg.IDTokenLifetime <= 0 {
		cfg.IDTokenLifetime = DefaultIDTokenLifetime
	}
	if cfg.Audience == "" {
		cfg.Audience = "api"
	}
	return &TokenMinter{signer: signer, clock: clock, cfg: cfg}
}

// Mint signs an access token and an identity token for code. tenant may be
// nil, in which case the configured issuer is used.
func (m *TokenMinter) Mint(code *domain.AuthCode, client *domain.Client, tenant *domain.Tenant) (*MintedTokens, error) {
	now := m.clock.Now()
	issuer := m.cfg.Issuer
	if tenant != nil && tenant.Issuer != "" {
		issuer = tenant.Issuer
	}

	lifetime := client.TokenLifetime()
	accessID := uuid.NewString()
	accessExp := now.Add(lifetime)

	accessJWT, err := m.sign(jwt.MapClaims{
		"iss":       issuer,
		"sub":       code.SubjectID,
		"aud":       m.cfg.Audience,
		"iat":       now.Unix(),
		"exp":       accessExp.Unix(),
		"jti":       accessID,
		"client_id": code.ClientID,
		"scope":     code.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	idID := uuid.NewString()
	idExp := now.Add(m.cfg.IDTokenLifetime)
	idClaims := jwt.MapClaims{
		"iss":     issuer,
		"sub":     code.SubjectID,
		"aud":     code.ClientID,
		"iat":     now.Unix(),
		"exp":     idExp.Unix(),
		"jti":     idID,
		"at_hash": accessTokenHash(accessJWT),
	}
	if code.Nonce != "" {
		idClaims["nonce"] = code.Nonce
	}

	idJWT, err := m.sign(idClaims)
	if err != nil {
		return nil, fmt.Errorf("sign id token: %w", err)
	}

	return &MintedTokens{
		Access:    m.record(accessID, domain.TokenTypeAccess, accessJWT, accessExp, now, code),
		ID:        m.record(idID, domain.TokenTypeID, idJWT, idExp, now, code),
		ExpiresIn: int(lifetime / time.Second),
	}, nil
}

// sign serializes claims under a {alg, typ, kid} header and appends the
// signer's signature over header.payload.
func (m *TokenMinter) sign(claims jwt.MapClaims) (string, error) {
	kid := m.signer.CurrentKeyID()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signingString, err := token.SigningString()
	if err != nil {
		return "", err
	}
	sig, err := m.signer.Sign(kid, []byte(signingString))
	if err != nil {
		return "", err
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (m *TokenMinter) record(id string, typ domain.TokenType, value string, exp, now time.Time, code *domain.AuthCode) *domain.Token {
	return &domain.Token{
		ID:        id,
		Type:      typ,
		Value:     value,
		ClientID:  code.ClientID,
		SubjectID: code.SubjectID,
		TenantID:  code.TenantID,
		Scope:     code.Scope,
		AuthCode:  code.Code,
		ExpiresAt: exp,
		CreatedAt: now,
	}
}

// accessTokenHash is the OIDC at_hash: the left half of the SHA-256 digest
// of the access token, base64url encoded.
func accessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
