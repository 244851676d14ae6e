//nolint:varnamelen
package echo

import (
	"context"
	stderrors "errors"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/shadow-idp/cache"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/errors"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/services"
)

// SessionCookie is the name of the login session cookie.
const SessionCookie = "idp_session"

// OAuth2API struct to hold dependencies.
type OAuth2API struct {
	authorize *services.AuthorizeFlow
	token     *services.TokenFlow
	accounts  domain.UserDirectory
	sessions  *cache.SessionStore
	discovery *services.DiscoveryService
	signer    domain.Signer
	tenantID  string
	logger    log.Logger
}

// Options wires the API to the provider services.
type Options struct {
	Authorize *services.AuthorizeFlow
	Token     *services.TokenFlow
	Accounts  domain.UserDirectory
	Sessions  *cache.SessionStore
	Discovery *services.DiscoveryService
	Signer    domain.Signer
	// TenantID is the tenant used for login and discovery.
	TenantID string
	Logger   log.Logger
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(opts Options) *OAuth2API {
	return &OAuth2API{
		authorize: opts.Authorize,
		token:     opts.Token,
		accounts:  opts.Accounts,
		sessions:  opts.Sessions,
		discovery: opts.Discovery,
		signer:    opts.Signer,
		tenantID:  opts.TenantID,
		logger:    opts.Logger.With(map[string]interface{}{"component": "http"}),
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/authorize", oa.AuthorizeHandler)
	e.POST("/token", oa.TokenHandler)
	e.GET("/login", oa.LoginPageHandler)
	e.POST("/login", oa.LoginHandler)
	e.POST("/logout", oa.LogoutHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
}

// AuthorizeHandler runs the authorization flow for the session user and
// translates its outcome into a redirect or a JSON error.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	req := services.AuthorizeRequest{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		Nonce:               c.QueryParam("nonce"),
	}

	ctx := c.Request().Context()
	out := oa.authorize.Authorize(ctx, req, oa.currentUser(ctx, c))

	switch out.Kind {
	case services.OutcomeRedirect, services.OutcomeRedirectError:
		return c.Redirect(http.StatusFound, out.RedirectURI)
	case services.OutcomeLoginRequired:
		return c.Redirect(http.StatusFound, "/login?returnUrl="+url.QueryEscape(c.Request().URL.RequestURI()))
	default:
		return c.JSON(errorStatus(out.Err), out.Err)
	}
}

// TokenHandler redeems an authorization code.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	out := oa.token.Token(c.Request().Context(), services.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		CodeVerifier: c.FormValue("code_verifier"),
	})

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")

	if !out.Success() {
		return c.JSON(errorStatus(out.Err), out.Err)
	}
	return c.JSON(http.StatusOK, out.Response)
}

const loginPage = `<!DOCTYPE html>
<html><body>
<form method="post" action="/login">
<input type="hidden" name="returnUrl" value="{{RETURN}}">
<input name="username" autocomplete="username">
<input name="password" type="password" autocomplete="current-password">
<button type="submit">Sign in</button>
</form>
</body></html>`

// LoginPageHandler renders a bare login form.
func (oa *OAuth2API) LoginPageHandler(c echo.Context) error {
	returnURL := safeReturnURL(c.QueryParam("returnUrl"))
	return c.HTML(http.StatusOK, strings.Replace(loginPage, "{{RETURN}}", html.EscapeString(returnURL), 1))
}

// LoginHandler authenticates the user and starts a session.
func (oa *OAuth2API) LoginHandler(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := oa.accounts.Authenticate(ctx, oa.tenantID, c.FormValue("username"), c.FormValue("password"))
	if err != nil {
		oa.logger.Error(ctx, "Authentication failed", err)
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("authentication failed"))
	}
	if user == nil {
		return c.JSON(http.StatusUnauthorized, errors.New(errors.AccessDenied, "invalid username or password"))
	}

	session, err := oa.sessions.Create(ctx, user.ID)
	if err != nil {
		oa.logger.Error(ctx, "Session creation failed", err)
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("could not start session"))
	}

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	})

	if returnURL := safeReturnURL(c.FormValue("returnUrl")); returnURL != "" {
		return c.Redirect(http.StatusFound, returnURL)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutHandler ends the current session.
func (oa *OAuth2API) LogoutHandler(c echo.Context) error {
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		oa.sessions.Delete(c.Request().Context(), cookie.Value)
	}
	c.SetCookie(&http.Cookie{Name: SessionCookie, Path: "/", MaxAge: -1, HttpOnly: true})
	return c.NoContent(http.StatusNoContent)
}

// OpenIDConfigurationHandler serves the discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	cfg, err := oa.discovery.Configuration(c.Request().Context(), oa.tenantID)
	if stderrors.Is(err, services.ErrTenantNotFound) {
		return c.JSON(http.StatusNotFound, errors.NewInvalidRequest("unknown tenant"))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errors.NewServerError("discovery unavailable"))
	}
	return c.JSON(http.StatusOK, cfg)
}

// JWKSHandler serves the public signing keys.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=300")
	return c.JSON(http.StatusOK, oa.signer.PublicKeySet())
}

func (oa *OAuth2API) currentUser(ctx context.Context, c echo.Context) *domain.User {
	cookie, err := c.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	session, err := oa.sessions.Get(ctx, cookie.Value)
	if err != nil {
		return nil
	}
	user, err := oa.accounts.GetUser(ctx, session.UserID)
	if err != nil {
		oa.logger.Error(ctx, "Session user lookup failed", err)
		return nil
	}
	return user
}

func errorStatus(err *errors.OAuth2Error) int {
	if err.IsServerError() {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// safeReturnURL only allows local absolute paths.
func safeReturnURL(u string) string {
	if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return ""
	}
	return u
}
