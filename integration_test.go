package secrets_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	secrets "github.com/goliatone/go-secrets"
	"github.com/goliatone/go-secrets/social"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    username TEXT NOT NULL,
    email TEXT UNIQUE,
    password_hash TEXT,
    google_id TEXT UNIQUE,
    profile_picture TEXT,
    login_attempts INTEGER DEFAULT 0,
    login_attempt_at TIMESTAMP NULL,
    loggedin_at TIMESTAMP NULL,
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`
	sqliteCreateSecrets = `CREATE TABLE secrets (
    id TEXT NOT NULL PRIMARY KEY,
    secret TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);`
)

func setupRepoManager(t *testing.T) (secrets.RepositoryManager, *bun.DB) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	_, err = bunDB.Exec(sqliteCreateUsers)
	require.NoError(t, err)
	_, err = bunDB.Exec(sqliteCreateSecrets)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	repo := secrets.NewRepositoryManager(bunDB)
	require.NoError(t, repo.Validate())
	return repo, bunDB
}

func TestRegistrationAndLocalLogin(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	handler := secrets.NewRegisterUserHandler(repo)
	err := handler.Execute(ctx, secrets.RegisterUserMessage{
		Email:    "peach@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)

	created := handler.User()
	require.NotNil(t, created)
	assert.NotEqual(t, uuid.Nil, created.ID)
	// username defaults to the mailbox part of the email
	assert.Equal(t, "peach", created.Username)
	assert.NotEmpty(t, created.PasswordHash)
	assert.False(t, created.IsFederated())

	provider := secrets.NewUserProvider(repo.Users())

	identity, err := provider.VerifyIdentity(ctx, "peach@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), identity.ID())

	_, err = provider.VerifyIdentity(ctx, "peach@example.com", "wrong")
	assert.ErrorIs(t, err, secrets.ErrMismatchedHashAndPassword)

	// a failed attempt bumped the counter
	stored, err := repo.Users().GetByIdentifier(ctx, "peach@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginAttempts)
	require.NotNil(t, stored.LoginAttemptAt)

	// a good login clears it again
	_, err = provider.VerifyIdentity(ctx, "peach@example.com", "hunter22")
	require.NoError(t, err)

	stored, err = repo.Users().GetByIdentifier(ctx, "peach@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)
	require.NotNil(t, stored.LoggedInAt)
}

func TestRegistrationDuplicateEmail(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	handler := secrets.NewRegisterUserHandler(repo)
	require.NoError(t, handler.Execute(ctx, secrets.RegisterUserMessage{
		Email:    "peach@example.com",
		Password: "hunter22",
	}))

	err := handler.Execute(ctx, secrets.RegisterUserMessage{
		Email:    "peach@example.com",
		Password: "different-password",
	})
	require.Error(t, err)
}

func TestGetOrCreateByProviderID(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	candidate := &secrets.User{
		Username:       "Peach Princess",
		Email:          "peach@example.com",
		GoogleID:       "google-sub-1",
		ProfilePicture: "https://example.com/peach.png",
	}

	created, err := repo.Users().GetOrCreateByProviderID(ctx, candidate)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.True(t, created.IsFederated())

	// the second pass with the same subject finds the same row
	again, err := repo.Users().GetOrCreateByProviderID(ctx, &secrets.User{
		Username: "whatever",
		GoogleID: "google-sub-1",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	// the existing row wins, nothing about it changes
	assert.Equal(t, "Peach Princess", again.Username)
}

type stubOAuthProvider struct {
	profile *social.Profile
}

func (p *stubOAuthProvider) Name() string { return "google" }

func (p *stubOAuthProvider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (p *stubOAuthProvider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	return &social.Token{AccessToken: "access-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *stubOAuthProvider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	return p.profile, nil
}

func TestFederatedLoginWithLocallyRegisteredEmail(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	// a local account already holds the address
	handler := secrets.NewRegisterUserHandler(repo)
	require.NoError(t, handler.Execute(ctx, secrets.RegisterUserMessage{
		Email:    "peach@example.com",
		Password: "hunter22",
	}))
	local := handler.User()
	require.NotNil(t, local)

	tokens := secrets.NewTokenService(
		[]byte("test-signing-key-0123456789abcdef"),
		1,
		"go-secrets",
		jwt.ClaimStrings{"web"},
		nil,
	)

	auth := social.NewSocialAuthenticator(repo.Users(), tokens, social.AuthenticatorConfig{
		StateEncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		StateHMACKey:       []byte("fedcba9876543210fedcba9876543210"),
		StateTTL:           10 * time.Minute,
		DefaultRedirectURL: "/secrets",
	}, social.WithProvider(&stubOAuthProvider{
		profile: &social.Profile{
			ProviderUserID: "google-sub-9",
			Provider:       "google",
			Email:          "peach@example.com",
			Name:           "Peach",
		},
	}))

	redirect, err := auth.BeginAuth(ctx, "google")
	require.NoError(t, err)

	// the first federated login shares the local account's address; the
	// new row is keyed by the provider subject and carries no email, so
	// the unique index on email stays out of the way
	result, err := auth.CompleteAuth(ctx, "google", "code", redirect.State)
	require.NoError(t, err)
	require.NotNil(t, result.User)
	assert.NotEqual(t, local.ID, result.User.ID)
	assert.Equal(t, "google-sub-9", result.User.GoogleID)
	assert.Empty(t, result.User.Email)
	assert.True(t, result.User.IsFederated())
	assert.NotEmpty(t, result.Token)

	// the second login resolves the same row
	redirect, err = auth.BeginAuth(ctx, "google")
	require.NoError(t, err)
	again, err := auth.CompleteAuth(ctx, "google", "code", redirect.State)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, again.User.ID)

	// the local account is untouched
	stored, err := repo.Users().GetByIdentifier(ctx, "peach@example.com")
	require.NoError(t, err)
	assert.Equal(t, local.ID, stored.ID)
	assert.False(t, stored.IsFederated())
}

func TestGetByIdentifierResolution(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Register(ctx, &secrets.User{
		Username: "peach",
		Email:    "peach@example.com",
	})
	require.NoError(t, err)

	byEmail, err := repo.Users().GetByIdentifier(ctx, "peach@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byUsername, err := repo.Users().GetByIdentifier(ctx, "peach")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byUsername.ID)

	byID, err := repo.Users().GetByIdentifier(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, user.ID, byID.ID)

	_, err = repo.Users().GetByIdentifier(ctx, "ghost@example.com")
	require.Error(t, err)
}

func TestSecretsSubmitAndListAll(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	alice, err := repo.Users().Register(ctx, &secrets.User{
		Username: "alice",
		Email:    "alice@example.com",
	})
	require.NoError(t, err)

	bob, err := repo.Users().Register(ctx, &secrets.User{
		Username: "bob",
		Email:    "bob@example.com",
	})
	require.NoError(t, err)

	first, err := repo.Secrets().Submit(ctx, alice.ID, "i never water my plants")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first.ID)

	_, err = repo.Secrets().Submit(ctx, bob.ID, "i still use tabs")
	require.NoError(t, err)

	all, err := repo.Secrets().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// the listing carries the author and keeps submission order
	assert.Equal(t, "i never water my plants", all[0].Secret)
	require.NotNil(t, all[0].User)
	assert.Equal(t, "alice", all[0].User.Username)
	assert.Equal(t, "bob", all[1].User.Username)
}

func TestListAllSkipsRemovedAuthors(t *testing.T) {
	repo, bunDB := setupRepoManager(t)
	ctx := context.Background()

	alice, err := repo.Users().Register(ctx, &secrets.User{
		Username: "alice",
		Email:    "alice@example.com",
	})
	require.NoError(t, err)

	bob, err := repo.Users().Register(ctx, &secrets.User{
		Username: "bob",
		Email:    "bob@example.com",
	})
	require.NoError(t, err)

	_, err = repo.Secrets().Submit(ctx, alice.ID, "kept")
	require.NoError(t, err)
	_, err = repo.Secrets().Submit(ctx, bob.ID, "orphaned")
	require.NoError(t, err)

	// soft delete bob; his secret must vanish from the listing
	_, err = bunDB.NewUpdate().
		Table("users").
		Set("deleted_at = CURRENT_TIMESTAMP").
		Where("id = ?", bob.ID.String()).
		Exec(ctx)
	require.NoError(t, err)

	all, err := repo.Secrets().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Secret)
}
