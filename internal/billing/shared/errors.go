package shared

import "errors"

var (
	// ErrNotFound indicates the document does not exist or belongs to another owner.
	ErrNotFound = errors.New("billing: document not found")
	// ErrImmutableDocument is returned when editing a locked document.
	ErrImmutableDocument = errors.New("billing: document is immutable")
	// ErrInvalidTransition is returned for status changes outside the lifecycle table.
	ErrInvalidTransition = errors.New("billing: invalid status transition")
	// ErrNotEligible is returned when a quote is not signed and accepted.
	ErrNotEligible = errors.New("billing: quote not eligible for conversion")
	// ErrAlreadyConverted is returned when a quote already has an invoice.
	ErrAlreadyConverted = errors.New("billing: quote already converted")
	// ErrAllocationFailure is returned when a document number cannot be allocated.
	ErrAllocationFailure = errors.New("billing: number allocation failed")
	// ErrTokenNotFound is returned for unknown share tokens.
	ErrTokenNotFound = errors.New("billing: share token not found")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("billing: validation failed")
	// ErrDocumentInUse is returned when deleting a document other records depend on.
	ErrDocumentInUse = errors.New("billing: document in use")
)
