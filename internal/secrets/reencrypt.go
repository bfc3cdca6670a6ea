package secrets

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
)

// Secret is one reader's encrypted copy of a resource secret.
type Secret struct {
	ResourceID string
	UserID     string
	Data       []byte
}

type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SecretOp is one step of the ordered list handed to storage. Data is only
// set for creates.
type SecretOp struct {
	Kind       OpKind
	ResourceID string
	UserID     string
	Data       []byte
}

// CountOps returns the number of creates and deletes in ops.
func CountOps(ops []SecretOp) (created, deleted int) {
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			created++
		case OpDelete:
			deleted++
		}
	}
	return created, deleted
}

type ReencryptOptions struct {
	Policy KeyPolicy
	Logger logger.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Reencryptor produces the secret operations for change-sets.
type Reencryptor struct {
	keys KeyDirectory
	dec  Decrypter
	opts ReencryptOptions
}

func NewReencryptor(keys KeyDirectory, dec Decrypter, opts ReencryptOptions) *Reencryptor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reencryptor{keys: keys, dec: dec, opts: opts}
}

// Apply returns the operations for cs: creates for added readers, a delete
// then a create for every rekeyed reader, and deletes for removed readers.
// actorSecret is the acting user's envelope; it is only decrypted when some
// reader needs a new copy.
func (r *Reencryptor) Apply(ctx context.Context, cs *changeset.ResourceChangeSet, actorSecret []byte) ([]SecretOp, error) {
	recipients := make([]string, 0, len(cs.AddedReaders)+len(cs.Rekeyed))
	recipients = append(recipients, cs.AddedReaders...)
	recipients = append(recipients, cs.Rekeyed...)

	keys := make(map[string]*rsa.PublicKey, len(recipients))
	for _, userID := range recipients {
		key, err := r.RecipientKey(ctx, userID)
		if err != nil {
			return nil, err
		}
		keys[userID] = key
	}

	var ops []SecretOp
	if len(recipients) > 0 {
		sealed, err := r.sealAll(ctx, cs.ResourceID, recipients, keys, actorSecret)
		if err != nil {
			return nil, err
		}
		for _, userID := range cs.AddedReaders {
			ops = append(ops, SecretOp{Kind: OpCreate, ResourceID: cs.ResourceID, UserID: userID, Data: sealed[userID]})
		}
		for _, userID := range cs.Rekeyed {
			ops = append(ops,
				SecretOp{Kind: OpDelete, ResourceID: cs.ResourceID, UserID: userID},
				SecretOp{Kind: OpCreate, ResourceID: cs.ResourceID, UserID: userID, Data: sealed[userID]},
			)
		}
	}
	for _, userID := range cs.RemovedReaders {
		ops = append(ops, SecretOp{Kind: OpDelete, ResourceID: cs.ResourceID, UserID: userID})
	}

	r.opts.Logger.Debugf("Resource %s: %d secret operation(s)", cs.ResourceID, len(ops))
	return ops, nil
}

// RecipientKey returns a user's public key if the key policy allows encrypting for it.
func (r *Reencryptor) RecipientKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	key, err := r.keys.GetPublicKey(ctx, userID)
	if err != nil {
		if errors.Is(err, kerrors.ErrPublicKeyNotFound) || errors.Is(err, kerrors.ErrInvalidPublicKey) {
			return nil, &kerrors.UnusableRecipientKeyError{UserID: userID, Reason: "no usable public key", Err: err}
		}
		return nil, fmt.Errorf("failed to fetch public key for user %s: %w", userID, err)
	}
	meta, err := r.keys.GetKeyMetadata(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key metadata for user %s: %w", userID, err)
	}
	if err := CheckKey(key, meta, r.opts.Policy, r.opts.Now()); err != nil {
		return nil, err
	}
	return key.Key.(*rsa.PublicKey), nil
}

func (r *Reencryptor) sealAll(ctx context.Context, resourceID string, recipients []string, keys map[string]*rsa.PublicKey, actorSecret []byte) (map[string][]byte, error) {
	if actorSecret == nil {
		return nil, fmt.Errorf("%w: resource %s", kerrors.ErrNoSecretForActor, resourceID)
	}
	plaintext, err := r.dec.Decrypt(ctx, actorSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt resource %s: %w", resourceID, err)
	}
	defer plaintext.Release()

	data, err := plaintext.Bytes()
	if err != nil {
		return nil, err
	}
	sealed := make(map[string][]byte, len(recipients))
	for _, userID := range recipients {
		envelope, err := Seal(data, keys[userID])
		if err != nil {
			return nil, fmt.Errorf("resource %s, user %s: %w", resourceID, userID, err)
		}
		sealed[userID] = envelope
	}
	return sealed, nil
}
