package errors

import (
	"fmt"
	"strings"
)

// MalformedPermissionError names the field that failed validation.
type MalformedPermissionError struct {
	Field string
	Value string
}

func (e *MalformedPermissionError) Error() string {
	return fmt.Sprintf("%s: invalid %s %q", ErrMalformedPermission, e.Field, e.Value)
}

func (e *MalformedPermissionError) Unwrap() error {
	return ErrMalformedPermission
}

// UnusableRecipientKeyError names the reader whose key cannot be encrypted for.
type UnusableRecipientKeyError struct {
	UserID string
	Reason string
	Err    error
}

func (e *UnusableRecipientKeyError) Error() string {
	return fmt.Sprintf("%s for user %s: %s", ErrUnusableRecipientKey, e.UserID, e.Reason)
}

func (e *UnusableRecipientKeyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnusableRecipientKey}
	}
	return []error{ErrUnusableRecipientKey, e.Err}
}

// ReaderSecretMismatchError carries the symmetric difference between the
// effective readers of a resource and the users holding a secret for it.
type ReaderSecretMismatchError struct {
	ResourceID string

	// Missing are readers without a secret (access-denial bug).
	Missing []string

	// Extra are secret holders who are not readers (leak risk).
	Extra []string
}

func (e *ReaderSecretMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing secrets for ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected secrets for ["+strings.Join(e.Extra, ", ")+"]")
	}
	return fmt.Sprintf("%s on resource %s: %s", ErrReaderSecretMismatch, e.ResourceID, strings.Join(parts, "; "))
}

func (e *ReaderSecretMismatchError) Unwrap() error {
	return ErrReaderSecretMismatch
}
