package api

import (
	"context"
	"strings"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

const (
	pathRegister = "auth/register"
	pathLogin    = "auth/login"
)

// Auth wraps the account endpoints.
type Auth struct {
	gw     *Gateway
	logger *applog.Logger
}

func NewAuth(gw *Gateway, logger *applog.Logger) *Auth {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Auth{gw: gw, logger: logger.WithComponent(applog.ComponentAuth)}
}

type registerRequest struct {
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// RegisterResult is what the service answers to a registration.
type RegisterResult struct {
	Message string     `json:"message"`
	User    *core.User `json:"user,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Register creates an account. It does not log the user in.
func (a *Auth) Register(ctx context.Context, creds core.Credentials, confirm string) (RegisterResult, error) {
	if err := creds.ValidateRegistration(confirm); err != nil {
		return RegisterResult{}, err
	}

	var res RegisterResult
	req := registerRequest{Name: strings.TrimSpace(creds.Name), Password: creds.Password, ConfirmPassword: confirm}
	if err := a.gw.Post(ctx, pathRegister, req, &res); err != nil {
		a.logger.WarnContext(ctx, "Registration failed",
			applog.FieldOperation, applog.OpRegister,
			applog.FieldErrorKind, string(core.KindOf(err)),
			applog.FieldError, err)
		return RegisterResult{}, err
	}
	if res.Error != "" {
		return RegisterResult{}, core.NewError(core.KindWrite, res.Error, nil)
	}

	a.logger.InfoContext(ctx, "Account registered", applog.FieldOperation, applog.OpRegister)
	return res, nil
}

type loginResponse struct {
	User  *core.User `json:"user"`
	Token string     `json:"token"`
	Error string     `json:"error"`
}

// Login exchanges credentials for the user and a bearer token. A reply
// that carries an error, or lacks the user id or the token, is an auth
// failure.
func (a *Auth) Login(ctx context.Context, creds core.Credentials) (core.User, string, error) {
	if err := creds.Validate(); err != nil {
		return core.User{}, "", err
	}

	var res loginResponse
	creds.Name = strings.TrimSpace(creds.Name)
	if err := a.gw.Post(ctx, pathLogin, creds, &res); err != nil {
		a.logger.WarnContext(ctx, "Login failed",
			applog.FieldOperation, applog.OpLogin,
			applog.FieldErrorKind, string(core.KindOf(err)),
			applog.FieldError, err)
		return core.User{}, "", err
	}

	switch {
	case res.Error != "":
		return core.User{}, "", core.NewError(core.KindAuth, res.Error, nil)
	case res.User == nil || res.User.ID.IsZero() || res.Token == "":
		return core.User{}, "", core.NewError(core.KindAuth, "login response is missing the user or token", nil)
	}
	return *res.User, res.Token, nil
}
