package secrets

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"sync"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Decrypter opens the acting user's copy of a secret. The caller owns the
// returned Plaintext and must Release it.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) (*Plaintext, error)
}

// PrivateKeyDecrypter decrypts with an already unlocked private key.
type PrivateKeyDecrypter struct {
	key *rsa.PrivateKey
}

func NewPrivateKeyDecrypter(key *rsa.PrivateKey) *PrivateKeyDecrypter {
	return &PrivateKeyDecrypter{key: key}
}

func (d *PrivateKeyDecrypter) Decrypt(ctx context.Context, ciphertext []byte) (*Plaintext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := Open(ciphertext, d.key)
	if err != nil {
		return nil, err
	}
	return NewPlaintext(data), nil
}

// LockedKeyDecrypter unlocks a private key on first use, asking Prompt for a
// passphrase only when the key is protected. Operations that never decrypt
// never prompt.
type LockedKeyDecrypter struct {
	load   func() ([]byte, error)
	prompt func() ([]byte, error)

	mu  sync.Mutex
	key *rsa.PrivateKey
}

func NewLockedKeyDecrypter(keyData []byte, prompt func() ([]byte, error)) *LockedKeyDecrypter {
	return &LockedKeyDecrypter{
		load:   func() ([]byte, error) { return keyData, nil },
		prompt: prompt,
	}
}

// NewKeyFileDecrypter reads the private key at path on first use.
func NewKeyFileDecrypter(path string, prompt func() ([]byte, error)) *LockedKeyDecrypter {
	return &LockedKeyDecrypter{
		load: func() ([]byte, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key at %s: %w", path, err)
			}
			return data, nil
		},
		prompt: prompt,
	}
}

func (d *LockedKeyDecrypter) Decrypt(ctx context.Context, ciphertext []byte) (*Plaintext, error) {
	key, err := d.unlock()
	if err != nil {
		return nil, err
	}
	return NewPrivateKeyDecrypter(key).Decrypt(ctx, ciphertext)
}

// PrivateKey unlocks and returns the key.
func (d *LockedKeyDecrypter) PrivateKey() (*rsa.PrivateKey, error) {
	return d.unlock()
}

func (d *LockedKeyDecrypter) unlock() (*rsa.PrivateKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key != nil {
		return d.key, nil
	}

	data, err := d.load()
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKey(data, nil)
	if errors.Is(err, kerrors.ErrPassphraseRequired) && d.prompt != nil {
		passphrase, perr := d.prompt()
		if perr != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", perr)
		}
		key, err = ParsePrivateKey(data, passphrase)
		zero(passphrase)
	}
	if err != nil {
		return nil, err
	}
	d.key = key
	return key, nil
}
