package types

import "errors"

// ContentScheme is the only scheme accepted for router base identifiers.
const ContentScheme = "content"

// Routing errors. Construction errors (invalid authority, duplicate or
// invalid kinds) are programming errors and are never retried.
var (
	ErrInvalidAuthority = errors.New("invalid authority")
	ErrNoMatch          = errors.New("identifier does not match any registered kind")
	ErrUnregisteredKind = errors.New("entity kind is not registered")
	ErrUnknownURI       = errors.New("unknown uri")
)
