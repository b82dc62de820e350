package entitlement

import (
	"errors"
	"fmt"
)

// Expected outcomes. Callers match them with errors.Is and render them to the user;
// none of them indicates a fault in the store.
var (
	ErrNotFound            = errors.New("not found")
	ErrProductMismatch     = errors.New("key belongs to a different product")
	ErrAlreadyUsed         = errors.New("key already used")
	ErrExpired             = errors.New("key expired")
	ErrNotWhitelisted      = errors.New("identity is not whitelisted")
	ErrNoContentConfigured = errors.New("no deliverable content configured")
	ErrUnauthorized        = errors.New("not authorized")
	ErrInvalidProduct      = errors.New("invalid product")
	ErrInvalidRequest      = errors.New("invalid request")
)

// ErrStorage matches every *StorageError.
var ErrStorage = errors.New("storage failure")

// StorageError reports a failure of the entitlement store or blob store.
// It is surfaced unrecovered; retry policy belongs to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
