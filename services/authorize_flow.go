package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/errors"
	"github.com/pilab-dev/shadow-idp/internal/audit"
	"github.com/pilab-dev/shadow-idp/internal/crypto"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/store"
	"github.com/pilab-dev/shadow-idp/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultCodeLifetime is how long an authorization code can be redeemed.
	DefaultCodeLifetime = 60 * time.Second

	codeBytes = 32
)

// OutcomeKind tags an AuthorizeOutcome.
type OutcomeKind int

const (
	// OutcomeRedirect sends the user agent back to the client with a code.
	OutcomeRedirect OutcomeKind = iota
	// OutcomeRedirectError sends an OAuth2 error to the verified redirect URI.
	OutcomeRedirectError
	// OutcomeError is an error that must not be redirected.
	OutcomeError
	// OutcomeLoginRequired asks the caller to authenticate the user and
	// replay the request.
	OutcomeLoginRequired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRedirectError:
		return "redirect_error"
	case OutcomeError:
		return "error"
	case OutcomeLoginRequired:
		return "login_required"
	default:
		return "unknown"
	}
}

// AuthorizeRequest carries the parameters of an authorization request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// AuthorizeOutcome is the result of Authorize. RedirectURI is set for
// OutcomeRedirect and OutcomeRedirectError, Err for both error kinds.
type AuthorizeOutcome struct {
	Kind        OutcomeKind
	RedirectURI string
	Code        string
	Err         *errors.OAuth2Error
}

// AuthorizeFlow validates authorization requests and issues codes.
type AuthorizeFlow struct {
	store   *store.Store
	clients domain.ClientRegistry
	random  domain.SecureRandom
	clock   domain.Clock
	codeTTL time.Duration
	logger  log.Logger
}

// NewAuthorizeFlow creates an AuthorizeFlow. codeTTL <= 0 uses DefaultCodeLifetime.
func NewAuthorizeFlow(
	st *store.Store,
	clients domain.ClientRegistry,
	random domain.SecureRandom,
	clock domain.Clock,
	codeTTL time.Duration,
	logger log.Logger,
) *AuthorizeFlow {
	if codeTTL <= 0 {
		codeTTL = DefaultCodeLifetime
	}
	return &AuthorizeFlow{
		store:   st,
		clients: clients,
		random:  random,
		clock:   clock,
		codeTTL: codeTTL,
		logger:  logger.With(map[string]interface{}{"component": "authorize_flow"}),
	}
}

// Authorize runs the authorization request checks in order and, for an
// authenticated user, persists a one-time code. user may be nil.
func (f *AuthorizeFlow) Authorize(ctx context.Context, req AuthorizeRequest, user *domain.User) *AuthorizeOutcome {
	ctx, span := tracing.Start(ctx, "AuthorizeFlow.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))

	out := f.authorize(ctx, req, user)

	span.SetAttributes(attribute.String("oauth.outcome", out.Kind.String()))
	if out.Err != nil {
		span.SetAttributes(attribute.String("oauth.error", out.Err.Code))
		metrics.FlowRejectionsTotal.WithLabelValues("authorize", out.Err.Code).Inc()
	}
	return out
}

func (f *AuthorizeFlow) authorize(ctx context.Context, req AuthorizeRequest, user *domain.User) *AuthorizeOutcome {
	fields := map[string]interface{}{"client_id": req.ClientID}

	client, err := f.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		f.logger.Error(ctx, "Client lookup failed", err, fields)
		return terminal(errors.NewServerError("client lookup failed"))
	}
	if client == nil {
		f.logger.Info(ctx, "Authorization rejected: unknown client", fields)
		return terminal(errors.NewInvalidClient("unknown or disabled client"))
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		f.logger.Info(ctx, "Authorization rejected: unregistered redirect_uri", fields)
		return terminal(errors.NewInvalidRequest("redirect_uri is not registered for this client"))
	}

	if req.ResponseType != "code" {
		return redirectError(req, errors.NewUnsupportedResponseType())
	}

	for _, s := range strings.Fields(req.Scope) {
		if !client.AllowsScope(s) {
			f.logger.Info(ctx, "Authorization rejected: scope not allowed", map[string]interface{}{
				"client_id": req.ClientID,
				"scope":     s,
			})
			return redirectError(req, errors.NewInvalidScope("scope "+s+" is not allowed for this client"))
		}
	}

	if client.RequirePKCE && !ValidateChallenge(req.CodeChallenge, req.CodeChallengeMethod) {
		return redirectError(req, errors.NewPKCERequired())
	}

	if user == nil {
		return &AuthorizeOutcome{Kind: OutcomeLoginRequired}
	}

	value, err := crypto.RandomToken(f.random, codeBytes)
	if err != nil {
		f.logger.Error(ctx, "Authorization code generation failed", err, fields)
		return terminal(errors.NewServerError("could not generate authorization code"))
	}

	now := f.clock.Now()
	code := &domain.AuthCode{
		Code:                value,
		ClientID:            client.ID,
		SubjectID:           user.ID,
		TenantID:            client.TenantID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		ExpiresAt:           now.Add(f.codeTTL),
		CreatedAt:           now,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}

	uow := f.store.Begin()
	defer uow.Rollback()
	if err := uow.AuthCodes.Add(code); err != nil {
		f.logger.Error(ctx, "Authorization code persist failed", err, fields)
		return terminal(errors.NewServerError("could not persist authorization code"))
	}
	if err := uow.Commit(); err != nil {
		f.logger.Error(ctx, "Authorization code commit failed", err, fields)
		return terminal(errors.NewServerError("could not persist authorization code"))
	}

	metrics.AuthCodesIssuedTotal.Inc()
	audit.Log("authorize_flow", audit.ActionCodeIssued, user.ID, client.ID, "", "scope="+req.Scope, true, nil)

	return &AuthorizeOutcome{
		Kind:        OutcomeRedirect,
		RedirectURI: req.RedirectURI + querySeparator(req.RedirectURI) + "code=" + value + "&state=" + escape(req.State),
		Code:        value,
	}
}

func terminal(err *errors.OAuth2Error) *AuthorizeOutcome {
	return &AuthorizeOutcome{Kind: OutcomeError, Err: err}
}

// redirectError builds redirect_uri?error=..&error_description=..[&state=..].
func redirectError(req AuthorizeRequest, err *errors.OAuth2Error) *AuthorizeOutcome {
	target := req.RedirectURI + querySeparator(req.RedirectURI) +
		"error=" + err.Code + "&error_description=" + escape(err.Description)
	if req.State != "" {
		target += "&state=" + escape(req.State)
	}
	return &AuthorizeOutcome{Kind: OutcomeRedirectError, RedirectURI: target, Err: err}
}

func querySeparator(uri string) string {
	if strings.Contains(uri, "?") {
		return "&"
	}
	return "?"
}

// escape percent-encodes a query value, using %20 for spaces.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
