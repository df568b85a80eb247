package crewdeck_errors

import "errors"

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Sync engine preconditions
var (
	ErrNoActiveChannel     = errors.New("no active channel")
	ErrNoActiveThread      = errors.New("no active thread")
	ErrNoAuthenticatedUser = errors.New("no authenticated user")
	ErrStoreClosed         = errors.New("store closed")
	ErrSubscriptionClosed  = errors.New("subscription closed")
	ErrThreadArchived      = errors.New("thread archived")
)
