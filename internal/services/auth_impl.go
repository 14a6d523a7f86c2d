package services

import (
	"context"
	"errors"

	goa "goa.design/goa/v3/pkg"

	"framecast/internal/auth"
	"framecast/internal/middleware"
)

// LoginPayload is the POST /auth/login request body
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries an issued token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthStatus reports whether auth is on and who is calling
type AuthStatus struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

func unauthorized(msg string) error {
	return goa.NewServiceError(errors.New(msg), "unauthorized", false, false, false)
}

// Login authenticates a user and returns a JWT token
func (s *CameraService) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	if payload == nil || payload.Username == "" {
		return nil, goa.MissingFieldError("username", "body")
	}

	token, expiresAt, err := s.auth.Authenticate(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return nil, unauthorized("Invalid username or password")
		case errors.Is(err, auth.ErrAuthDisabled):
			return nil, unauthorized("Authentication is disabled")
		default:
			return nil, err
		}
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// AuthStatus returns the current authentication status
func (s *CameraService) AuthStatus(ctx context.Context) *AuthStatus {
	status := &AuthStatus{Enabled: s.auth.IsEnabled()}

	// Check if user is authenticated via middleware
	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		status.Authenticated = true
		status.Username = &claims.Username
	}
	return status
}
