// Package workflows provides high-level orchestration for aclsync commands.
//
// Workflows coordinate the configuration, the store, the group resolver, the
// re-encryptor, the validator and the audit log to implement complete
// user-facing features. Each workflow handles a single command's business
// logic, independent of CLI concerns like flag parsing, spinners, and output
// formatting.
//
// # Design Philosophy
//
// The cmd/ package should be a thin layer that:
//   - Parses command-line flags and arguments
//   - Calls the appropriate workflow function
//   - Formats the result for display
//
// Workflows handle everything else:
//   - Loading configuration and opening the configured store
//   - Planning and executing batches through the orchestrator
//   - Recording audit trail entries
//
// # Available Workflows
//
//   - Init: Creates the .aclsync directory, config and store
//   - CreateResource: Adds a resource owned by the actor with its first secret
//   - SetGroup, SetFolder: Seed the directory the engine reads from
//   - RegisterKey, RevokeKey: Manage users' public keys
//   - Share, Move, Rotate, Sync: Batch operations over resources
//   - Validate, Sweep: Reader/secret integrity checks
//   - Access: Shows who can read a resource and who holds a secret
//   - Log: Reads the audit log
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package, allowing
// the CLI layer to provide appropriate user-facing messages without string
// matching. Use errors.Is() to check for specific error conditions:
//
//	result, err := workflows.Share(ctx, env, opts)
//	if errors.Is(err, kerrors.ErrProjectNotInitialized) {
//	    // Show user-friendly initialization message
//	}
//
// Per-resource failures of a batch are not returned as errors. They are
// reported in the batch result so the caller can re-submit the failed ids.
package workflows
