package social

import (
	"context"
	"net/url"
	"testing"
	"time"

	secrets "github.com/goliatone/go-secrets"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name         string
	exchangeErr  error
	userInfoErr  error
	profile      *Profile
	lastCode     string
	lastVerifier string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string, opts ...AuthCodeOption) string {
	cfg := ApplyAuthCodeOptions([]string{"openid", "email"}, opts...)
	params := url.Values{
		"state":          {state},
		"code_challenge": {cfg.CodeChallenge},
	}
	return "https://provider.test/authorize?" + params.Encode()
}

func (p *fakeProvider) Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	cfg := ApplyExchangeOptions(opts...)
	p.lastCode = code
	p.lastVerifier = cfg.CodeVerifier
	return &Token{AccessToken: "access-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) UserInfo(ctx context.Context, token *Token) (*Profile, error) {
	if p.userInfoErr != nil {
		return nil, p.userInfoErr
	}
	return p.profile, nil
}

type fakeUserStore struct {
	resolved *secrets.User
	lastSeen *secrets.User
	tracked  int
	err      error
}

func (s *fakeUserStore) GetOrCreateByProviderID(ctx context.Context, record *secrets.User) (*secrets.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastSeen = record
	if s.resolved != nil {
		return s.resolved, nil
	}
	record.ID = uuid.New()
	return record, nil
}

func (s *fakeUserStore) TrackSucccessfulLogin(ctx context.Context, user *secrets.User) error {
	s.tracked++
	return nil
}

type fakeTokenService struct {
	token string
}

func (t *fakeTokenService) Generate(identity secrets.Identity) (string, error) {
	return t.token, nil
}

func (t *fakeTokenService) SignClaims(claims *secrets.JWTClaims) (string, error) {
	return t.token, nil
}

func (t *fakeTokenService) Validate(tokenString string) (secrets.AuthClaims, error) {
	return nil, nil
}

func testConfig() AuthenticatorConfig {
	return AuthenticatorConfig{
		StateEncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		StateHMACKey:       []byte("fedcba9876543210fedcba9876543210"),
		StateTTL:           10 * time.Minute,
		DefaultRedirectURL: "/secrets",
	}
}

func TestBeginAuth_BuildsStateAndPKCE(t *testing.T) {
	provider := &fakeProvider{name: "google"}
	users := &fakeUserStore{}
	auth := NewSocialAuthenticator(users, &fakeTokenService{token: "jwt"}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)
	assert.Equal(t, "google", redirect.Provider)
	assert.NotEmpty(t, redirect.State)

	parsed, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, redirect.State, parsed.Query().Get("state"))
	assert.NotEmpty(t, parsed.Query().Get("code_challenge"))

	state, err := auth.stateManager.Decode(redirect.State)
	require.NoError(t, err)
	assert.Equal(t, "google", state.Provider)
	assert.Equal(t, "/secrets", state.RedirectURL)
	assert.NotEmpty(t, state.CodeVerifier)
	assert.Equal(t, computeCodeChallenge(state.CodeVerifier), parsed.Query().Get("code_challenge"))
}

func TestBeginAuth_UnknownProvider(t *testing.T) {
	auth := NewSocialAuthenticator(&fakeUserStore{}, &fakeTokenService{}, testConfig())

	_, err := auth.BeginAuth(context.Background(), "myspace")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestCompleteAuth_ResolvesAccountAndIssuesToken(t *testing.T) {
	provider := &fakeProvider{
		name: "google",
		profile: &Profile{
			ProviderUserID: "google-sub-1",
			Provider:       "google",
			Email:          "jane@example.com",
			Name:           "Jane Doe",
			AvatarURL:      "https://example.com/jane.png",
		},
	}
	users := &fakeUserStore{}
	auth := NewSocialAuthenticator(users, &fakeTokenService{token: "jwt"}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google", WithRedirectURL("/secrets"))
	require.NoError(t, err)

	result, err := auth.CompleteAuth(context.Background(), "google", "auth-code", redirect.State)
	require.NoError(t, err)

	assert.Equal(t, "jwt", result.Token)
	assert.Equal(t, "/secrets", result.RedirectURL)
	assert.Equal(t, "google-sub-1", result.User.GoogleID)
	assert.Equal(t, "Jane Doe", result.User.Username)
	assert.Empty(t, result.User.Email)
	assert.Equal(t, "auth-code", provider.lastCode)
	assert.NotEmpty(t, provider.lastVerifier, "exchange should carry the PKCE verifier")
	assert.Equal(t, 1, users.tracked)
}

func TestCompleteAuth_NewAccountCarriesNoEmail(t *testing.T) {
	// The profile email may already belong to a local account, and the
	// email column is unique. The federated row is keyed by the provider
	// subject only, so the insert must not carry the email.
	provider := &fakeProvider{
		name: "google",
		profile: &Profile{
			ProviderUserID: "google-sub-3",
			Provider:       "google",
			Email:          "taken@example.com",
			Name:           "Taken Local",
		},
	}
	users := &fakeUserStore{}
	auth := NewSocialAuthenticator(users, &fakeTokenService{token: "jwt"}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = auth.CompleteAuth(context.Background(), "google", "code", redirect.State)
	require.NoError(t, err)

	require.NotNil(t, users.lastSeen)
	assert.Equal(t, "google-sub-3", users.lastSeen.GoogleID)
	assert.Equal(t, "Taken Local", users.lastSeen.Username)
	assert.Empty(t, users.lastSeen.Email)
	assert.Empty(t, users.lastSeen.PasswordHash)
}

func TestCompleteAuth_UsernameFallsBackToMailbox(t *testing.T) {
	provider := &fakeProvider{
		name: "google",
		profile: &Profile{
			ProviderUserID: "google-sub-2",
			Provider:       "google",
			Email:          "plain@example.com",
		},
	}
	users := &fakeUserStore{}
	auth := NewSocialAuthenticator(users, &fakeTokenService{token: "jwt"}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	result, err := auth.CompleteAuth(context.Background(), "google", "code", redirect.State)
	require.NoError(t, err)
	assert.Equal(t, "plain", result.User.Username)
}

func TestCompleteAuth_ProviderMismatch(t *testing.T) {
	google := &fakeProvider{name: "google", profile: &Profile{ProviderUserID: "sub"}}
	other := &fakeProvider{name: "other", profile: &Profile{ProviderUserID: "sub"}}
	auth := NewSocialAuthenticator(&fakeUserStore{}, &fakeTokenService{}, testConfig(),
		WithProvider(google), WithProvider(other))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = auth.CompleteAuth(context.Background(), "other", "code", redirect.State)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteAuth_ExchangeFailure(t *testing.T) {
	provider := &fakeProvider{
		name:        "google",
		exchangeErr: &ProviderError{Provider: "google", Operation: "exchange", Code: "invalid_grant"},
	}
	auth := NewSocialAuthenticator(&fakeUserStore{}, &fakeTokenService{}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = auth.CompleteAuth(context.Background(), "google", "code", redirect.State)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token exchange failed")
}

func TestCompleteAuth_EmptySubjectRejected(t *testing.T) {
	provider := &fakeProvider{name: "google", profile: &Profile{Provider: "google"}}
	auth := NewSocialAuthenticator(&fakeUserStore{}, &fakeTokenService{}, testConfig(), WithProvider(provider))

	redirect, err := auth.BeginAuth(context.Background(), "google")
	require.NoError(t, err)

	_, err = auth.CompleteAuth(context.Background(), "google", "code", redirect.State)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user info")
}
