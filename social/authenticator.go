package social

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	secrets "github.com/goliatone/go-secrets"
)

// AuthenticatorConfig configures the social authenticator.
type AuthenticatorConfig struct {
	// StateEncryptionKey is the AES key for state encryption (16, 24, or 32 bytes).
	StateEncryptionKey []byte

	// StateHMACKey is the key used to sign the encrypted state.
	StateHMACKey []byte

	// StateTTL bounds how long an authorization round trip may take.
	StateTTL time.Duration

	// DefaultRedirectURL is used when BeginAuth gets no explicit redirect.
	DefaultRedirectURL string
}

// UserStore is the slice of the user repository the authenticator needs.
type UserStore interface {
	GetOrCreateByProviderID(ctx context.Context, record *secrets.User) (*secrets.User, error)
	TrackSucccessfulLogin(ctx context.Context, user *secrets.User) error
}

// SocialAuthenticator drives the OAuth authorization code flow and
// resolves provider profiles to local accounts.
type SocialAuthenticator struct {
	providers    map[string]Provider
	stateManager StateManager
	users        UserStore
	tokenService secrets.TokenService
	config       AuthenticatorConfig
	logger       secrets.Logger
}

// AuthRedirect is the outcome of BeginAuth.
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
}

// AuthResult is the outcome of a completed OAuth flow.
type AuthResult struct {
	User        *secrets.User
	Token       string
	Provider    string
	Profile     *Profile
	RedirectURL string
}

// Option configures the SocialAuthenticator.
type Option func(*SocialAuthenticator)

// WithProvider registers an OAuth provider.
func WithProvider(p Provider) Option {
	return func(a *SocialAuthenticator) {
		if p != nil {
			a.providers[p.Name()] = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger secrets.Logger) Option {
	return func(a *SocialAuthenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStateManager overrides the default encrypted state manager.
func WithStateManager(sm StateManager) Option {
	return func(a *SocialAuthenticator) {
		if sm != nil {
			a.stateManager = sm
		}
	}
}

// NewSocialAuthenticator creates a social authenticator backed by the
// given user store and token service.
func NewSocialAuthenticator(users UserStore, tokenService secrets.TokenService, cfg AuthenticatorConfig, opts ...Option) *SocialAuthenticator {
	a := &SocialAuthenticator{
		providers:    map[string]Provider{},
		users:        users,
		tokenService: tokenService,
		config:       cfg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.stateManager == nil {
		a.stateManager = NewEncryptedStateManager(cfg.StateEncryptionKey, cfg.StateHMACKey, cfg.StateTTL)
	}

	return a
}

// ListProviders returns the names of the registered providers.
func (a *SocialAuthenticator) ListProviders() []string {
	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	return names
}

// BeginAuthOption configures BeginAuth.
type BeginAuthOption func(*beginAuthConfig)

type beginAuthConfig struct {
	redirectURL string
}

// WithRedirectURL sets the post-login redirect carried through the state.
func WithRedirectURL(url string) BeginAuthOption {
	return func(c *beginAuthConfig) {
		c.redirectURL = url
	}
}

// BeginAuth builds the provider authorization URL with PKCE and an
// encrypted state parameter.
func (a *SocialAuthenticator) BeginAuth(ctx context.Context, providerName string, opts ...BeginAuthOption) (*AuthRedirect, error) {
	provider, ok := a.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound
	}

	cfg := beginAuthConfig{redirectURL: a.config.DefaultRedirectURL}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate code verifier")
	}
	codeChallenge := computeCodeChallenge(codeVerifier)

	state := &OAuthState{
		Provider:     providerName,
		CodeVerifier: codeVerifier,
		RedirectURL:  cfg.redirectURL,
	}

	encoded, err := a.stateManager.Encode(state)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode state")
	}

	authURL := provider.AuthCodeURL(encoded, WithPKCE(codeChallenge, "S256"))

	return &AuthRedirect{
		URL:      authURL,
		State:    encoded,
		Provider: providerName,
	}, nil
}

// CompleteAuth finishes the OAuth flow: it verifies the state, exchanges
// the code, fetches the profile, and resolves it to a local account. A
// subject seen for the first time gets a row created on the spot.
func (a *SocialAuthenticator) CompleteAuth(ctx context.Context, providerName, code, stateToken string) (*AuthResult, error) {
	provider, ok := a.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound
	}

	state, err := a.stateManager.Decode(stateToken)
	if err != nil {
		return nil, err
	}

	if state.Provider != providerName {
		return nil, ErrInvalidState
	}

	var exchangeOpts []ExchangeOption
	if state.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, WithCodeVerifier(state.CodeVerifier))
	}

	token, err := provider.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, wrapProviderError(ErrTokenExchangeFailed, providerName, "exchange", err)
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil {
		return nil, wrapProviderError(ErrUserInfoFailed, providerName, "user_info", err)
	}

	if profile == nil || profile.ProviderUserID == "" {
		return nil, wrapProviderError(ErrUserInfoFailed, providerName, "user_info", nil)
	}

	user, err := a.users.GetOrCreateByProviderID(ctx, userFromProfile(profile))
	if err != nil {
		return nil, wrapProviderError(ErrAccountResolveFailed, providerName, "resolve", err)
	}

	if err := a.users.TrackSucccessfulLogin(ctx, user); err != nil {
		a.log("error tracking federated login: %s", err)
	}

	jwt, err := a.tokenService.Generate(secrets.NewIdentityFromUser(user))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate token")
	}

	return &AuthResult{
		User:        user,
		Token:       jwt,
		Provider:    providerName,
		Profile:     profile,
		RedirectURL: state.RedirectURL,
	}, nil
}

func (a *SocialAuthenticator) log(format string, args ...any) {
	if a.logger != nil {
		a.logger.Error(format, args...)
	}
}

// userFromProfile maps a provider profile to a local user record. The
// display name falls back to the mailbox portion of the email, then to
// the provider subject, so the row always has a username. The email is
// deliberately left unset: the same person may already hold a local
// account under that address, and the unique index on email would turn
// their first federated login into a permanent insert failure. The
// provider subject alone identifies the federated row.
func userFromProfile(profile *Profile) *secrets.User {
	username := strings.TrimSpace(profile.Name)
	if username == "" && profile.Email != "" {
		username = strings.Split(profile.Email, "@")[0]
	}
	if username == "" {
		username = profile.Provider + ":" + profile.ProviderUserID
	}

	return &secrets.User{
		GoogleID:       profile.ProviderUserID,
		Username:       username,
		ProfilePicture: profile.AvatarURL,
	}
}
