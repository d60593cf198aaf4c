package service

import "errors"

var (
	// ErrUnknownCustomer means the referenced customer does not exist
	// or is archived in the owning context.
	ErrUnknownCustomer = errors.New("unknown or archived customer")

	// ErrInvalidCaseState means a resolution targeted a case that is
	// not open. Cases are terminal once resolved or dismissed.
	ErrInvalidCaseState = errors.New("duplicate case is not open")

	// ErrCaseNotFound means the duplicate case does not exist.
	ErrCaseNotFound = errors.New("duplicate case not found")

	// ErrInvalidResolution means the resolution input is malformed
	// (unknown resolution, missing or foreign payment ids).
	ErrInvalidResolution = errors.New("invalid resolution input")
)
