package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account disabled")
	ErrMFARequired        = errors.New("auth: mfa token required")
	ErrInvalidMFAToken    = errors.New("auth: invalid mfa token")
	ErrMFANotInitiated    = errors.New("auth: mfa not initiated")
	ErrInvalidResetToken  = errors.New("auth: invalid or expired reset token")
	ErrRootAdmin          = errors.New("auth: root admin account is protected")
	ErrNoToken            = errors.New("auth: no refresh token")
)

// ErrInvalidToken indicates a bearer or refresh token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")
