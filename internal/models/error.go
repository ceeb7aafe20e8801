package models

import "errors"

// Sentinel errors for exceptional conditions. Expected authentication
// failures are reported as FailureReason values instead.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	ErrInvalidToken     = errors.New("invalid token")
	ErrAuditWriteFailed = errors.New("audit write failed")
)
