package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrIncorrectPassword  = errors.New("old password incorrect")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")

	// Token related errors. The gate folds these into an anonymous request;
	// they exist so the reason can be logged and counted.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
	ErrTokenStale   = errors.New("token issued before last password change")

	ErrUnauthorized = errors.New("unauthorized")
)
