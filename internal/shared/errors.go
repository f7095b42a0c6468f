package shared

import "errors"

var (
	// ErrOwnerMissing indicates the request carries no owner identity.
	ErrOwnerMissing = errors.New("owner identity missing")
)
