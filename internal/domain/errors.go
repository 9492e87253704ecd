package domain

import "errors"

// ErrUnauthorized means the bearer credential was rejected. This is fatal to
// the sync core: it is surfaced to the caller for re-authentication, never
// retried internally.
var ErrUnauthorized = errors.New("authentication required")
