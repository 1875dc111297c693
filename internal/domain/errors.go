package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource already exists")
	ErrInternal           = errors.New("internal server error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDatabaseConnection = errors.New("database connection error")

	ErrNotMember     = errors.New("user is not a member of this topic")
	ErrAlreadyMember = errors.New("user is already a member of this topic")
	ErrNotGroup      = errors.New("topic is not a group")

	// ErrCorruptMembership is returned when the membership log holds exit
	// markers for a user without any entry marker.
	ErrCorruptMembership = errors.New("membership log is corrupt")
)
