package types

import "errors"

// Domain errors for type validation
var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// Member errors
	ErrMissingUsername    = errors.New("username is required")
	ErrInvalidUsername    = errors.New("username must not contain whitespace")
	ErrInvalidCareerStage = errors.New("invalid career stage")
	ErrNegativeKarma      = errors.New("karma must be >= 0")

	// Query errors
	ErrInvalidDirection = errors.New("sort direction must be asc or desc")
	ErrInvalidPage      = errors.New("page must be >= 1")
	ErrInvalidPageSize  = errors.New("page size must be >= 1")
)
