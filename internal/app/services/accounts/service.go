// Package accounts fronts the hosted auth service: sign-up, sign-in, session
// refresh, password recovery and OAuth redirects.
package accounts

import (
	"context"
	"net/http"
	"net/mail"
	"strings"

	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
	"github.com/clothbridge/clothbridge/supabase/client"
)

const minPasswordLen = 6

// Authenticator is the subset of the auth client the service calls.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*client.AuthResponse, error)
	SignIn(ctx context.Context, email, password string) (*client.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*client.AuthResponse, error)
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
	UpdatePassword(ctx context.Context, accessToken, password string) (*client.User, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	AuthorizeURL(provider, redirectTo string) string
}

var _ Authenticator = (*client.AuthClient)(nil)

// Service manages user sessions.
type Service struct {
	auth             Authenticator
	defaultRedirect  string
	allowedProviders map[string]bool
	log              *logger.Logger
}

// New constructs an accounts service. defaultRedirect is used when a
// recovery or OAuth call names no redirect target.
func New(auth Authenticator, defaultRedirect string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{
		auth:             auth,
		defaultRedirect:  defaultRedirect,
		allowedProviders: map[string]bool{"google": true},
		log:              log,
	}
}

// WithProviders replaces the OAuth providers accepted by OAuthURL.
func (s *Service) WithProviders(providers ...string) *Service {
	s.allowedProviders = make(map[string]bool, len(providers))
	for _, p := range providers {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			s.allowedProviders[p] = true
		}
	}
	return s
}

// SignUp registers a user. When the project requires email confirmation the
// session is empty and only the user is returned.
func (s *Service) SignUp(ctx context.Context, email, password string) (*client.AuthResponse, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	resp, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, s.mapError("sign up", err)
	}
	s.log.WithField("email", email).Info("user signed up")
	return resp, nil
}

// SignIn exchanges credentials for a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*client.AuthResponse, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, svcerrors.Validation("password", "password is required")
	}
	resp, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		if se, ok := client.AsError(err); ok && (se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusUnauthorized) {
			return nil, svcerrors.Unauthorized("invalid email or password")
		}
		return nil, s.mapError("sign in", err)
	}
	return resp, nil
}

// Refresh issues a new session from a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*client.AuthResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, svcerrors.Validation("refresh_token", "refresh token is required")
	}
	resp, err := s.auth.Refresh(ctx, refreshToken)
	if err != nil {
		if se, ok := client.AsError(err); ok && se.StatusCode < http.StatusInternalServerError {
			return nil, svcerrors.InvalidToken(err)
		}
		return nil, s.mapError("refresh", err)
	}
	return resp, nil
}

// SignOut revokes the session behind accessToken.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if err := s.auth.SignOut(ctx, accessToken); err != nil {
		return s.mapError("sign out", err)
	}
	return nil
}

// CurrentUser resolves the owner of accessToken.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*client.User, error) {
	user, err := s.auth.GetUser(ctx, accessToken)
	if err != nil {
		return nil, s.mapError("current user", err)
	}
	return user, nil
}

// ForgotPassword sends a recovery email. Unknown addresses are not reported
// to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email, redirectTo string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if redirectTo == "" && s.defaultRedirect != "" {
		redirectTo = strings.TrimSuffix(s.defaultRedirect, "/") + "/reset-password"
	}
	if err := s.auth.ResetPasswordForEmail(ctx, email, redirectTo); err != nil {
		if se, ok := client.AsError(err); ok && se.NotFound() {
			return nil
		}
		return s.mapError("forgot password", err)
	}
	s.log.WithField("email", email).Info("password recovery requested")
	return nil
}

// ResetPassword sets a new password using the access token from a recovery
// link.
func (s *Service) ResetPassword(ctx context.Context, accessToken, password, confirm string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	if password != confirm {
		return svcerrors.Validation("confirm_password", "passwords do not match")
	}
	user, err := s.auth.UpdatePassword(ctx, accessToken, password)
	if err != nil {
		return s.mapError("reset password", err)
	}
	s.log.WithField("user", user.ID).Info("password reset")
	return nil
}

// OAuthURL returns the provider login URL the browser should follow.
func (s *Service) OAuthURL(provider, redirectTo string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.allowedProviders[provider] {
		return "", svcerrors.Validation("provider", "unsupported login provider")
	}
	if redirectTo == "" {
		redirectTo = s.defaultRedirect
	}
	return s.auth.AuthorizeURL(provider, redirectTo), nil
}

func (s *Service) mapError(op string, err error) error {
	se, ok := client.AsError(err)
	if !ok {
		s.log.WithError(err).WithField("op", op).Warn("auth call failed")
		return svcerrors.Upstream("auth service unavailable", err)
	}
	switch {
	case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
		return svcerrors.InvalidToken(err)
	case se.StatusCode == http.StatusTooManyRequests:
		return svcerrors.RateLimitExceeded(0, "").WithDetails("reason", se.Message)
	case se.StatusCode == http.StatusUnprocessableEntity, se.StatusCode == http.StatusBadRequest:
		return svcerrors.BadRequest(se.Message)
	case se.StatusCode == http.StatusConflict:
		return svcerrors.Conflict(se.Message)
	default:
		s.log.WithError(err).WithField("op", op).Warn("auth call failed")
		return svcerrors.Upstream("auth service error", err)
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", svcerrors.Validation("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", svcerrors.Validation("email", "email is invalid")
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return svcerrors.Validation("password", "password must be at least 6 characters")
	}
	return nil
}
