package social

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-router"
	secrets "github.com/goliatone/go-secrets"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController handles the federated login HTTP routes.
type HTTPController struct {
	authenticator *SocialAuthenticator
	sessions      *secrets.RouteAuthenticator
	config        HTTPConfig
	logger        secrets.Logger
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// SuccessRedirect is the default redirect after successful auth
	SuccessRedirect string

	// ErrorRedirect is the redirect for auth errors
	ErrorRedirect string

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// NewHTTPController creates a new federated login HTTP controller. The
// sessions authenticator owns the cookie semantics so a federated login
// produces the same session a password login does.
func NewHTTPController(auth *SocialAuthenticator, sessions *secrets.RouteAuthenticator, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/secrets"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login"
	}

	return &HTTPController{
		authenticator: auth,
		sessions:      sessions,
		config:        cfg,
	}
}

// WithLogger sets the logger.
func (c *HTTPController) WithLogger(logger secrets.Logger) *HTTPController {
	c.logger = logger
	return c
}

// RegisterRoutes registers the authorization and callback routes. The
// callback keeps the provider name in the path so the redirect URI
// registered with the provider console stays stable.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/:provider/secrets", c.Callback).SetName("auth.social.callback")
	group.Get("/:provider", c.BeginAuth).SetName("auth.social.begin")
}

// BeginAuth starts the OAuth authorization flow.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	providerName := ctx.Param("provider")

	redirectURL := ctx.Query("redirect_url")
	if redirectURL == "" {
		redirectURL = c.config.SuccessRedirect
	}

	redirect, err := c.authenticator.BeginAuth(ctx.Context(), providerName, WithRedirectURL(redirectURL))
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.Redirect(redirect.URL, router.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback. Any failure lands the visitor
// back on the login page rather than an error page.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")
	code := ctx.Query("code")
	state := ctx.Query("state")

	if errCode := ctx.Query("error"); errCode != "" {
		c.log("provider returned error: %s %s", errCode, ctx.Query("error_description"))
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode), router.StatusTemporaryRedirect)
	}

	if code == "" || state == "" {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "oauth_error", "missing_params"), router.StatusTemporaryRedirect)
	}

	result, err := c.authenticator.CompleteAuth(ctx.Context(), providerName, code, state)
	if err != nil {
		return c.handleError(ctx, err)
	}

	c.sessions.LoginIdentity(ctx, secrets.NewIdentityFromUser(result.User), result.Token)

	redirectURL := result.RedirectURL
	if redirectURL == "" {
		redirectURL = c.config.SuccessRedirect
	}

	return ctx.Redirect(redirectURL, router.StatusSeeOther)
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	c.log("social auth error: %s", err)

	return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "oauth_error", "auth_failed"), router.StatusTemporaryRedirect)
}

func (c *HTTPController) log(format string, args ...any) {
	if c.logger != nil {
		c.logger.Error(format, args...)
	}
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
