package secrets

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// KeyMetadata describes a recipient key as reported by the key directory.
type KeyMetadata struct {
	Algorithm string
	Bits      int
	Revoked   bool

	// ExpiresAt is zero for keys that never expire.
	ExpiresAt time.Time
	Private   bool
}

type KeyPolicy struct {
	AllowedAlgorithms []string
	MinBits           int
}

// DefaultKeyPolicy accepts RSA keys of 2048 bits or more.
func DefaultKeyPolicy() KeyPolicy {
	return KeyPolicy{AllowedAlgorithms: []string{"RSA"}, MinBits: 2048}
}

// DescribeKey derives the metadata that can be read from the key itself.
func DescribeKey(key *PublicKey) KeyMetadata {
	meta := KeyMetadata{Private: key.Private}
	switch k := key.Key.(type) {
	case *rsa.PublicKey:
		meta.Algorithm = "RSA"
		meta.Bits = k.N.BitLen()
	case *ecdsa.PublicKey:
		meta.Algorithm = "ECDSA"
		meta.Bits = k.Curve.Params().BitSize
	case ed25519.PublicKey:
		meta.Algorithm = "Ed25519"
		meta.Bits = 256
	default:
		meta.Algorithm = fmt.Sprintf("%T", key.Key)
	}
	return meta
}

// CheckKey reports why a key cannot be encrypted for, as an
// *errors.UnusableRecipientKeyError, or nil when it is usable.
func CheckKey(key *PublicKey, meta KeyMetadata, policy KeyPolicy, now time.Time) error {
	unusable := func(reason string) error {
		return &kerrors.UnusableRecipientKeyError{UserID: key.UserID, Reason: reason}
	}

	if len(policy.AllowedAlgorithms) > 0 && !slices.ContainsFunc(policy.AllowedAlgorithms, func(a string) bool {
		return strings.EqualFold(a, meta.Algorithm)
	}) {
		return unusable(fmt.Sprintf("algorithm %s is not allowed", meta.Algorithm))
	}
	if meta.Private || key.Private {
		return unusable("key is private")
	}
	if meta.Revoked {
		return unusable("key is revoked")
	}
	if !meta.ExpiresAt.IsZero() && !now.Before(meta.ExpiresAt) {
		return unusable("key expired on " + meta.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if meta.Bits < policy.MinBits {
		return unusable(fmt.Sprintf("key is %d bits, at least %d required", meta.Bits, policy.MinBits))
	}
	if _, ok := key.Key.(*rsa.PublicKey); !ok {
		return unusable(fmt.Sprintf("%s keys cannot wrap secrets", meta.Algorithm))
	}
	return nil
}
