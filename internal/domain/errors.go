package domain

import "errors"

var (
	// ErrNotFound indicates a record does not exist for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed or incomplete request.
	ErrInvalidInput = errors.New("invalid input")
)
