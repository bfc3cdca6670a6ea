package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/audit"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

// RegisterKeyOptions configures the key registration workflow.
type RegisterKeyOptions struct {
	UserID    string
	PublicKey []byte

	// Rotate re-encrypts the user's existing secrets when the key replaced
	// a different one.
	Rotate bool
}

// RegisterKeyResult contains the outcome of a key registration.
type RegisterKeyResult struct {
	Fingerprint string

	// Replaced is set when the user already had a different key.
	Replaced bool

	// Unchanged is set when the same key was already registered.
	Unchanged bool

	Rotation *BatchOutcome
}

// RegisterKey stores a user's public key.
//
// Returns ErrInvalidPublicKey if the data is not a public key.
func RegisterKey(ctx context.Context, env *Env, opts RegisterKeyOptions) (*RegisterKeyResult, error) {
	if err := acl.ValidateID("user", opts.UserID); err != nil {
		return nil, err
	}
	key, err := secrets.ParsePublicKeyPEM(opts.UserID, opts.PublicKey)
	if err != nil {
		return nil, err
	}
	if key.Private {
		return nil, fmt.Errorf("%w: refusing to register private key material", kerrors.ErrInvalidPublicKey)
	}
	pemData, err := secrets.MarshalPublicKeyPEM(key.Key)
	if err != nil {
		return nil, err
	}

	result := &RegisterKeyResult{Fingerprint: key.Fingerprint}
	previous, err := env.Store.GetPublicKey(ctx, opts.UserID)
	switch {
	case err == nil:
		if previous.Fingerprint == key.Fingerprint {
			meta, err := env.Store.GetKeyMetadata(ctx, previous)
			if err != nil {
				return nil, err
			}
			if !meta.Revoked {
				result.Unchanged = true
				return result, nil
			}
		}
		result.Replaced = previous.Fingerprint != key.Fingerprint
	case errors.Is(err, kerrors.ErrPublicKeyNotFound), errors.Is(err, kerrors.ErrInvalidPublicKey):
	default:
		return nil, err
	}

	if err := env.Store.PutPublicKey(ctx, opts.UserID, pemData); err != nil {
		return nil, err
	}
	env.Logger.Infof("Registered key %s for user %s", key.Fingerprint, opts.UserID)

	entry := audit.LogWithActor("register", env.ActorID())
	entry.TargetUsers = []string{opts.UserID}
	audit.Log(entry)

	if opts.Rotate && result.Replaced {
		rotation, err := Rotate(ctx, env, RotateOptions{UserIDs: []string{opts.UserID}})
		if err != nil {
			return result, fmt.Errorf("key was registered but secrets were not rotated: %w", err)
		}
		result.Rotation = rotation
	}
	return result, nil
}

// RevokeKey marks a user's key as revoked. Nothing can be encrypted for the
// user until a new key is registered; secrets the user already holds stay
// until their access is removed.
//
// Returns ErrPublicKeyNotFound if the user has no key.
func RevokeKey(ctx context.Context, env *Env, userID string) error {
	if err := acl.ValidateID("user", userID); err != nil {
		return err
	}
	if err := env.Store.RevokeKey(ctx, userID); err != nil {
		return err
	}
	env.Logger.Infof("Revoked key of user %s", userID)

	entry := audit.LogWithActor("revoke", env.ActorID())
	entry.TargetUsers = []string{userID}
	audit.Log(entry)
	return nil
}
