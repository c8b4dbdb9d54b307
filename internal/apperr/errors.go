// Package apperr defines the error kinds shared by every notebase layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrVersionNotFound  = fmt.Errorf("version %w", ErrNotFound)
	ErrConflict         = errors.New("conflict")
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SyntaxError reports a malformed search query. Offset is the byte offset of
// Token inside the original query string.
type SyntaxError struct {
	Offset int
	Token  string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax error at offset %d near %q: %s", e.Offset, e.Token, e.Msg)
}

// Unwrap makes every syntax error a validation error.
func (e *SyntaxError) Unwrap() error { return ErrValidation }

// Validation wraps a message as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable marks err as a backend failure.
func Unavailable(store string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, store, err)
}
