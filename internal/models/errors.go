package models

import "errors"

// Error kinds shared by every service. Service-level sentinels wrap one of
// these so the transport can map a failure without knowing each package.
var (
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrInvalidInput  = errors.New("invalid input")
)
