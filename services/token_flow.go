package services

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/pilab-dev/shadow-idp/api"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/errors"
	"github.com/pilab-dev/shadow-idp/internal/audit"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/store"
	"github.com/pilab-dev/shadow-idp/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// TokenRequest carries the token endpoint form fields.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// TokenOutcome is the result of Token: exactly one of Response and Err is set.
type TokenOutcome struct {
	Response *api.TokenResponse
	Err      *errors.OAuth2Error
}

// Success reports whether tokens were issued.
func (o *TokenOutcome) Success() bool {
	return o.Err == nil
}

// TokenFlow redeems authorization codes for tokens.
type TokenFlow struct {
	store   *store.Store
	clients domain.ClientRegistry
	minter  *TokenMinter
	clock   domain.Clock
	logger  log.Logger
}

// NewTokenFlow creates a TokenFlow.
func NewTokenFlow(
	st *store.Store,
	clients domain.ClientRegistry,
	minter *TokenMinter,
	clock domain.Clock,
	logger log.Logger,
) *TokenFlow {
	return &TokenFlow{
		store:   st,
		clients: clients,
		minter:  minter,
		clock:   clock,
		logger:  logger.With(map[string]interface{}{"component": "token_flow"}),
	}
}

// Token redeems req.Code. Nothing is persisted unless the code is marked
// used in the same commit as the minted tokens.
func (f *TokenFlow) Token(ctx context.Context, req TokenRequest) *TokenOutcome {
	ctx, span := tracing.Start(ctx, "TokenFlow.Token")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))

	out := f.token(ctx, req)

	if out.Err != nil {
		span.SetAttributes(attribute.String("oauth.error", out.Err.Code))
		metrics.FlowRejectionsTotal.WithLabelValues("token", out.Err.Code).Inc()
	}
	return out
}

func (f *TokenFlow) token(ctx context.Context, req TokenRequest) *TokenOutcome {
	fields := map[string]interface{}{"client_id": req.ClientID}

	if req.GrantType != domain.GrantTypeAuthorizationCode {
		return reject(errors.NewUnsupportedGrantType())
	}

	uow := f.store.Begin()
	defer uow.Rollback()

	code, err := uow.AuthCodes.GetByID(req.Code)
	if stderrors.Is(err, store.ErrNotFound) {
		return reject(errors.NewInvalidGrant("unknown authorization code"))
	}
	if err != nil {
		f.logger.Error(ctx, "Authorization code lookup failed", err, fields)
		return reject(errors.NewServerError("authorization code lookup failed"))
	}

	if code.Used {
		f.handleReuse(ctx, code)
		return reject(errors.NewInvalidGrant("authorization code already used"))
	}

	if code.ClientID != req.ClientID {
		f.logger.Warn(ctx, "Token rejected: code issued to another client", fields)
		return reject(errors.NewInvalidClient("client does not match authorization code"))
	}
	if code.RedirectURI != req.RedirectURI {
		return reject(errors.NewInvalidGrant("redirect_uri does not match authorization request"))
	}
	if code.IsExpired(f.clock.Now()) {
		return reject(errors.NewInvalidGrant("authorization code expired"))
	}
	if code.HasChallenge() && !ValidateVerifier(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
		metrics.PKCEFailuresTotal.Inc()
		f.logger.Warn(ctx, "Token rejected: PKCE verification failed", fields)
		return reject(errors.NewInvalidPKCE("code_verifier does not match code_challenge"))
	}

	client, err := f.clients.GetClient(ctx, code.ClientID)
	if err != nil {
		f.logger.Error(ctx, "Client lookup failed", err, fields)
		return reject(errors.NewServerError("client lookup failed"))
	}
	if client == nil {
		return reject(errors.NewInvalidClient("unknown or disabled client"))
	}
	tenant, err := f.clients.GetTenant(ctx, code.TenantID)
	if err != nil {
		f.logger.Error(ctx, "Tenant lookup failed", err, fields)
		return reject(errors.NewServerError("tenant lookup failed"))
	}

	minted, err := f.minter.Mint(code, client, tenant)
	if err != nil {
		f.logger.Error(ctx, "Token minting failed", err, fields)
		return reject(errors.NewServerError("token minting failed"))
	}

	code.Used = true
	unused := func(current *domain.AuthCode) bool { return !current.Used }
	if err := stageRedemption(uow, code, minted, unused); err != nil {
		f.logger.Error(ctx, "Token persist failed", err, fields)
		return reject(errors.NewServerError("could not persist tokens"))
	}

	if err := uow.Commit(); err != nil {
		switch {
		case stderrors.Is(err, store.ErrPreconditionFailed):
			// A concurrent request redeemed the code first.
			f.handleReuse(ctx, code)
			return reject(errors.NewInvalidGrant("authorization code already used"))
		case stderrors.Is(err, store.ErrNotFound):
			return reject(errors.NewInvalidGrant("unknown authorization code"))
		default:
			f.logger.Error(ctx, "Token commit failed", err, fields)
			return reject(errors.NewServerError("could not persist tokens"))
		}
	}

	metrics.TokensMintedTotal.WithLabelValues(string(domain.TokenTypeAccess)).Inc()
	metrics.TokensMintedTotal.WithLabelValues(string(domain.TokenTypeID)).Inc()
	audit.Log("token_flow", audit.ActionTokensIssued, code.SubjectID, code.ClientID, minted.Access.ID, "scope="+code.Scope, true, nil)

	return &TokenOutcome{Response: &api.TokenResponse{
		AccessToken: minted.Access.Value,
		IDToken:     minted.ID.Value,
		TokenType:   api.TokenTypeBearer,
		ExpiresIn:   minted.ExpiresIn,
	}}
}

func stageRedemption(uow *store.UnitOfWork, code *domain.AuthCode, minted *MintedTokens, cond func(*domain.AuthCode) bool) error {
	if err := uow.AuthCodes.UpdateIf(code, cond); err != nil {
		return err
	}
	if err := uow.Tokens.Add(minted.Access); err != nil {
		return err
	}
	return uow.Tokens.Add(minted.ID)
}

// handleReuse revokes every token minted from code. Failures are logged only
// so the caller's rejection stands.
func (f *TokenFlow) handleReuse(ctx context.Context, code *domain.AuthCode) {
	metrics.CodeReuseDetectedTotal.Inc()
	f.logger.Warn(ctx, "Authorization code reuse detected, revoking issued tokens", map[string]interface{}{
		"client_id":  code.ClientID,
		"subject_id": code.SubjectID,
	})

	revoked, err := f.RevokeTokensForCode(ctx, code.Code)
	audit.Log("token_flow", audit.ActionCodeReuse, code.SubjectID, code.ClientID, "",
		fmt.Sprintf("%d tokens revoked", revoked), false, err)
	if err != nil {
		f.logger.Error(ctx, "Token revocation after code reuse failed", err, map[string]interface{}{
			"client_id": code.ClientID,
		})
	}
}

// RevokeTokensForCode marks every unrevoked token minted from code as
// revoked and returns how many it changed. Running it concurrently or
// repeatedly is safe: already revoked tokens are skipped and the flag only
// moves to true.
func (f *TokenFlow) RevokeTokensForCode(ctx context.Context, code string) (int, error) {
	uow := f.store.Begin()
	defer uow.Rollback()

	tokens := uow.Tokens.Find(func(t *domain.Token) bool {
		return t.AuthCode == code && !t.Revoked
	})
	if len(tokens) == 0 {
		return 0, nil
	}

	for _, t := range tokens {
		t.Revoked = true
		if err := uow.Tokens.Update(t); err != nil {
			return 0, err
		}
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("commit revocation: %w", err)
	}

	metrics.TokensRevokedTotal.Add(float64(len(tokens)))
	audit.Log("token_flow", audit.ActionTokensRevoked, tokens[0].SubjectID, tokens[0].ClientID, "",
		fmt.Sprintf("%d tokens revoked", len(tokens)), true, nil)
	return len(tokens), nil
}

func reject(err *errors.OAuth2Error) *TokenOutcome {
	return &TokenOutcome{Err: err}
}
