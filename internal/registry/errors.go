package registry

import "errors"

// Errors returned by the registry. Callers match them with errors.Is; the
// registry wraps them with detail about the offending argument.
var (
	ErrUnauthorized     = errors.New("caller is not the designated issuer")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("certificate not found")
	ErrIndexOutOfBounds = errors.New("owner index out of bounds")
)
