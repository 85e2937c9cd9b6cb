package secrets

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

type Middleware interface {
	ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc
}

// GetRouterSession pulls the session stored by the JWT middleware out
// of the router locals.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	raw := c.Locals(key)
	if raw == nil {
		return nil, ErrUnableToFindSession
	}

	// our middleware stores validated claims wrapping a session
	if sc, ok := raw.(interface{ Session() Session }); ok {
		if so, ok := sc.Session().(*SessionObject); ok {
			return so, nil
		}
	}

	// fiber's stock jwt middleware stores the raw token
	if token, ok := raw.(*jwt.Token); ok {
		claims, ok := token.Claims.(jwt.MapClaims)
		if claims == nil || !ok {
			return nil, ErrUnableToMapClaims
		}
		return sessionFromClaims(claims)
	}

	return nil, ErrUnableToDecodeSession
}

// RegisterWebRoutes wires the application pages: the public home and
// secrets listing, local login and registration, and the submit pages
// that require a principal.
func RegisterWebRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	optionalAuth := controller.Auther.ProtectedRoute(
		controller.Config,
		controller.Auther.MakeClientRouteAuthErrorHandler(true),
	)
	requiredAuth := controller.Auther.ProtectedRoute(
		controller.Config,
		controller.Auther.MakeClientRouteAuthErrorHandler(false),
	)

	app.Get(controller.Routes.Home, controller.HomeShow).
		SetName("home.get")

	app.Get(controller.Routes.Login, controller.LoginShow, optionalAuth).
		SetName("sign-in.get")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).
		SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate, optionalAuth).
		SetName("register.post")

	app.Get(controller.Routes.Secrets, controller.SecretsIndex, optionalAuth).
		SetName("secrets.get")

	app.Get(controller.Routes.Submit, controller.SubmitShow, requiredAuth).
		SetName("submit.get")
	app.Post(controller.Routes.Submit, controller.SubmitPost, requiredAuth).
		SetName("submit.post")
}

type AuthControllerRoutes struct {
	Home     string
	Login    string
	Logout   string
	Register string
	Secrets  string
	Submit   string
}

type AuthControllerViews struct {
	Home     string
	Login    string
	Register string
	Secrets  string
	Submit   string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Config       Config
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	Auther       HTTPAuthenticator
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Home:     "/",
			Login:    "/login",
			Logout:   "/logout",
			Register: "/register",
			Secrets:  "/secrets",
			Submit:   "/submit",
		},
		Views: &AuthControllerViews{
			Home:     "home",
			Login:    "login",
			Register: "register",
			Secrets:  "secrets",
			Submit:   "submit",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Config == nil {
		panic("Missing Config in auth controller...")
	}

	return c
}

func (a *AuthController) WithLogger(l Logger) *AuthController {
	if l != nil {
		a.Logger = l
	}
	return a
}

func (a *AuthController) HomeShow(ctx router.Context) error {
	return ctx.Render(a.Views.Home, MergeTemplateData(ctx, router.ViewContext{}))
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	// already signed in, go straight to the secrets page
	if IsAuthenticated(ctx, a.Config.GetContextKey()) {
		return ctx.Redirect(a.Routes.Secrets, router.StatusSeeOther)
	}

	return ctx.Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
		"errors": nil,
		"record": nil,
	}))
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the user asked to stay signed in
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	errs := map[string]string{}

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
			"record":     payload,
			"validation": err.Error(),
		}))
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(payload))
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		// same message for unknown identifier and bad password
		errs["authentication"] = "Authentication Error"
		a.Logger.Info("login rejected: %v", err)
		return ctx.Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
			"errors": errs,
			"record": payload,
		}))
	}

	redirect := a.Auther.GetRedirect(ctx, a.Routes.Secrets)

	return ctx.Redirect(redirect, router.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.Redirect(a.Routes.Home, router.StatusTemporaryRedirect)
}

func (a *AuthController) RegistrationShow(ctx router.Context) error {
	return ctx.Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
		"errors": map[string]string{},
		"record": RegisterUserMessage{},
	}))
}

// RegistrationCreatePayload is the form payload. The original form
// labels the email field "username".
type RegistrationCreatePayload struct {
	Email    string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
	)
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	// signed-in users have nothing to register
	if IsAuthenticated(ctx, a.Config.GetContextKey()) {
		return ctx.Redirect(a.Routes.Secrets, router.StatusSeeOther)
	}

	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		errs := map[string]string{}
		errs["form"] = "Failed to parse form"
		a.Logger.Error("register user parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
			"errors": errs,
			"record": payload,
		}))
	}

	if err := payload.Validate(); err != nil {
		errs := FormatValidationErrorToMap(err)
		a.Logger.Error("register user validate payload: %v", err)

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
			"record":     payload,
			"validation": errs,
		}))
	}

	req := RegisterUserMessage{
		Username: payload.Email,
		Email:    payload.Email,
		Password: payload.Password,
	}

	registerUser := NewRegisterUserHandler(a.Repo)
	if err := registerUser.Execute(ctx.Context(), req); err != nil {
		// duplicate email lands here as a conflict
		a.Logger.Error("register user error: %v", err)

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error registering user",
		}).Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
			"record": payload,
			"errors": []string{err.Error()},
		}))
	}

	// registration doubles as the first login
	login := LoginRequest{Identifier: payload.Email, Password: payload.Password}
	if err := a.Auther.Login(ctx, login); err != nil {
		a.Logger.Error("post registration login error: %v", err)
		return ctx.Redirect(a.Routes.Login, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Successful user registration",
	}).Redirect(a.Routes.Secrets, fiber.StatusSeeOther)
}

func (a *AuthController) SecretsIndex(ctx router.Context) error {
	records, err := a.Repo.Secrets().ListAll(ctx.Context())
	if err != nil {
		a.Logger.Error("secrets listing error: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	username := GuestDisplayName
	if session, err := GetRouterSession(ctx, a.Config.GetContextKey()); err == nil {
		if user, err := a.Repo.Users().GetByID(ctx.Context(), session.GetUserID()); err == nil {
			username = user.Username
		}
		// a dangling session renders the guest view, not an error page
	}

	return ctx.Render(a.Views.Secrets, MergeTemplateData(ctx, router.ViewContext{
		"secrets":  records,
		"username": username,
	}))
}

func (a *AuthController) SubmitShow(ctx router.Context) error {
	return ctx.Render(a.Views.Submit, MergeTemplateData(ctx, router.ViewContext{
		"errors": nil,
	}))
}

// SubmitPayload is the secret submission form
type SubmitPayload struct {
	Secret string `form:"secret" json:"secret"`
}

// Validate will run validation rules
func (r SubmitPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Secret, validation.Required, validation.Length(1, 1000)),
	)
}

func (a *AuthController) SubmitPost(ctx router.Context) error {
	payload := new(SubmitPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("submit parse payload: %v", err)
		return ctx.Redirect(a.Routes.Submit, router.StatusSeeOther)
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Submit, MergeTemplateData(ctx, router.ViewContext{
			"errors":     FormatValidationErrorToMap(err),
			"record":     payload,
			"validation": err.Error(),
		}))
	}

	session, err := GetRouterSession(ctx, a.Config.GetContextKey())
	if err != nil {
		a.Logger.Error("submit session error: %v", err)
		return ctx.Redirect(a.Routes.Login, router.StatusSeeOther)
	}

	uid, err := session.GetUserUUID()
	if err != nil {
		a.Logger.Error("submit session uuid error: %v", err)
		return ctx.Redirect(a.Routes.Login, router.StatusSeeOther)
	}

	if _, err := a.Repo.Secrets().Submit(ctx.Context(), uid, payload.Secret); err != nil {
		// match the original behavior: log and land on the listing anyway
		a.Logger.Error("submit insert error: %v", err)
	}

	return ctx.Redirect(a.Routes.Secrets, router.StatusSeeOther)
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field to message map for templates.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
