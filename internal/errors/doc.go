// Package errors provides typed error values for aclsync.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching. Errors that
// need to carry data (the offending user, the mismatching reader sets) are
// struct types that unwrap to their sentinel, so both errors.Is() and
// errors.As() work on them.
//
// # Error Categories
//
// Errors are grouped by how the caller is expected to react:
//
//   - Input errors: rejected before any resource is processed (ErrMalformedPermission)
//   - Data errors: upstream inconsistency, surfaced as-is (ErrGroupNotFound)
//   - Policy errors: the request must be adjusted (ErrLastOwnerRemoval)
//   - Key errors: retryable once the recipient key is fixed (ErrUnusableRecipientKey)
//   - Integrity errors: alarms for an operator, never corrected silently (ErrReaderSecretMismatch)
//   - Orchestration errors: terminal states of a batch item (ErrCancelled)
//
// # Usage
//
// Handle errors in the CLI layer:
//
//	result, err := workflows.Share(ctx, opts)
//	if errors.Is(err, kerrors.ErrMalformedPermission) {
//	    // Show the offending field
//	}
//
// Extract details:
//
//	var keyErr *kerrors.UnusableRecipientKeyError
//	if errors.As(err, &keyErr) {
//	    fmt.Println(keyErr.UserID, keyErr.Reason)
//	}
package errors
