package controlplane

import (
	"errors"
	"fmt"
)

var (
	// ErrPersist wraps storage failures. The operation took effect in memory
	// but is not durable yet; callers may retry.
	ErrPersist = errors.New("state not persisted")

	// ErrInvalidInput is returned before any mutation for malformed input.
	ErrInvalidInput = errors.New("invalid input")

	ErrPairingNotFound = errors.New("pairing code not found")
	ErrUnauthorized    = errors.New("device token rejected")
	ErrTokenRevoked    = errors.New("device token is revoked")
	ErrNoSnapshot      = errors.New("no last-known-good snapshot available")
	ErrChildArchived   = errors.New("child is archived")

	ErrDiagnosticsTooLarge  = errors.New("diagnostics bundle exceeds size limit")
	ErrDiagnosticsNotStored = errors.New("diagnostics storage is not configured")
	ErrDiagnosticsNotFound  = errors.New("diagnostics bundle not found")
	ErrCodeSpaceExhausted   = errors.New("no free pairing code")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
