// Package common defines shared constants and sentinel errors used across
// the federation node. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token, session gone).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrCrypto is the umbrella for every cryptographic failure. It is always
	// fatal to the single message being processed.
	ErrCrypto           = errors.New("crypto error")
	ErrBadPassword      = fmt.Errorf("%w: bad password", ErrCrypto)
	ErrDecryption       = fmt.Errorf("%w: decryption failed", ErrCrypto)
	ErrSignatureInvalid = fmt.Errorf("%w: signature invalid", ErrCrypto)
	ErrInvalidPadding   = fmt.Errorf("%w: invalid padding", ErrCrypto)

	// Federation message errors.
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrValidation         = errors.New("validation error")
	ErrRemoteUnreachable  = errors.New("remote unreachable")

	// ErrPendingReference is matched by every PendingReferenceError.
	ErrPendingReference = errors.New("pending reference")
)

// PendingReferenceError reports that a message refers to an object (parent
// post, poll, photo target) that is not known locally yet. It is a "try later"
// signal, not a failure.
type PendingReferenceError struct {
	Kind string
	GUID string
}

func (e *PendingReferenceError) Error() string {
	return fmt.Sprintf("pending reference: %s %q not known yet", e.Kind, e.GUID)
}

// Is lets errors.Is(err, ErrPendingReference) match.
func (e *PendingReferenceError) Is(target error) bool {
	return target == ErrPendingReference
}

// Validationf builds an ErrValidation-wrapped error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
