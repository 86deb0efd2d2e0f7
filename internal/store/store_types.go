package store

import "errors"

const GormStoreType = "gormdb"

// Common errors that can be returned by any store implementation
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("record already exists")
	ErrTerminalState      = errors.New("job is in a terminal state")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable") // storage-layer outage; retriable
)

// PaginationParams contains common pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
}
