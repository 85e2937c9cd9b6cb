package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	secrets "github.com/goliatone/go-secrets"
	"github.com/goliatone/go-secrets/middleware/jwtware"
	"github.com/goliatone/go-secrets/social"
	"github.com/goliatone/go-secrets/social/providers/google"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("secrets"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := LoadConfig()
	if err != nil {
		lgr.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := openDatabase(ctx, cfg, lgr.GetLogger("db"))
	if err != nil {
		lgr.Error("database error", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := secrets.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		lgr.Error("repository error", "error", err)
		os.Exit(1)
	}

	srv, err := newHTTPServer(cfg, lgr)
	if err != nil {
		lgr.Error("http server error", "error", err)
		os.Exit(1)
	}

	httpAuth, err := wireAuth(cfg, repo, srv, lgr)
	if err != nil {
		lgr.Error("auth error", "error", err)
		os.Exit(1)
	}

	if cfg.HasGoogle() {
		wireGoogle(cfg, repo, httpAuth, srv, lgr)
	} else {
		lgr.Warn("google credentials missing, federated login disabled")
	}

	lgr.Info("listening", "addr", cfg.Addr())
	srv.Serve(cfg.Addr())

	WaitExitSignal()
}

func openDatabase(ctx context.Context, cfg *AppConfig, lgr glog.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DatabaseURL)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	migrationsDir, err := fs.Sub(secrets.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(migrationsDir); err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, err
	}

	if group.IsZero() {
		lgr.Info("database schema up to date")
	} else {
		lgr.Info("migrated database", "group", group.String())
	}

	return db, nil
}

func newHTTPServer(cfg *AppConfig, lgr *glog.BaseLogger) (router.Server[*fiber.App], error) {
	viewsDir, err := fs.Sub(secrets.GetViewsFS(), "views")
	if err != nil {
		return nil, err
	}

	engine := django.NewFileSystem(http.FS(viewsDir), ".html")
	for name, fn := range secrets.TemplateHelpers() {
		engine.AddFunc(name, fn)
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(lgr.GetLogger("router"))
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	publicDir, err := fs.Sub(secrets.GetPublicFS(), "public")
	if err != nil {
		return nil, err
	}
	srv.Router().Static("/", ".", router.Static{
		FS:   publicDir,
		Root: ".",
	})

	return srv, nil
}

// userTrackerAdapter narrows the users repository to the tracker
// interface the identity provider consumes.
type userTrackerAdapter struct {
	users secrets.Users
}

func (a userTrackerAdapter) GetByIdentifier(ctx context.Context, identifier string) (*secrets.User, error) {
	return a.users.GetByIdentifier(ctx, identifier)
}

func (a userTrackerAdapter) TrackAttemptedLogin(ctx context.Context, user *secrets.User) error {
	return a.users.TrackAttemptedLogin(ctx, user)
}

func (a userTrackerAdapter) TrackSucccessfulLogin(ctx context.Context, user *secrets.User) error {
	return a.users.TrackSucccessfulLogin(ctx, user)
}

func wireAuth(cfg *AppConfig, repo secrets.RepositoryManager, srv router.Server[*fiber.App], lgr *glog.BaseLogger) (*secrets.RouteAuthenticator, error) {
	userProvider := secrets.NewUserProvider(userTrackerAdapter{users: repo.Users()})
	userProvider.WithLogger(lgr.GetLogger("auth:prv"))

	authenticator := secrets.NewAuthenticator(userProvider, cfg)
	authenticator.WithLogger(lgr.GetLogger("auth:authz"))

	httpAuth, err := secrets.NewHTTPAuthenticator(authenticator, cfg)
	if err != nil {
		return nil, err
	}

	httpAuth.WithLogger(lgr.GetLogger("auth:http"))

	// expose the full user record to templates so every page can show
	// who is signed in
	httpAuth.WithTemplateUserProvider(func(claims jwtware.AuthClaims) (any, error) {
		return repo.Users().GetByID(context.Background(), claims.UserID())
	})

	secrets.RegisterWebRoutes(srv.Router().Group("/"),
		func(ac *secrets.AuthController) *secrets.AuthController {
			ac.Auther = httpAuth
			ac.Repo = repo
			ac.Config = cfg
			ac.WithLogger(lgr.GetLogger("auth:ctrl"))
			return ac
		})

	return httpAuth, nil
}

func wireGoogle(cfg *AppConfig, repo secrets.RepositoryManager, httpAuth *secrets.RouteAuthenticator, srv router.Server[*fiber.App], lgr *glog.BaseLogger) {
	tokenService := secrets.NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		lgr.GetLogger("auth:token"),
	)

	// separate derived keys so the state blob and its signature never
	// share key material with the session JWTs
	stateKey := sha256.Sum256([]byte(cfg.SessionSecret + ":oauth-state"))
	hmacKey := sha256.Sum256([]byte(cfg.SessionSecret + ":oauth-hmac"))

	socialAuth := social.NewSocialAuthenticator(repo.Users(), tokenService,
		social.AuthenticatorConfig{
			StateEncryptionKey: stateKey[:],
			StateHMACKey:       hmacKey[:],
			StateTTL:           cfg.OAuthStateTTL,
			DefaultRedirectURL: "/secrets",
		},
		social.WithProvider(google.New(google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			CallbackURL:  cfg.GoogleCallbackURL,
		})),
		social.WithLogger(lgr.GetLogger("auth:social")),
	)

	controller := social.NewHTTPController(socialAuth, httpAuth, social.HTTPConfig{
		PathPrefix:      "/auth",
		SuccessRedirect: "/secrets",
		ErrorRedirect:   "/login",
	}).WithLogger(lgr.GetLogger("auth:social:http"))

	controller.RegisterRoutes(srv.Router().Group("/auth"))
}

// WaitExitSignal blocks until the process receives a termination signal.
func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
