package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

const (
	envelopeVersion = 1
	nonceSize       = 24
	keySize         = 32
)

// CreateSymmetricKey generates a new random symmetric key.
func CreateSymmetricKey() ([]byte, error) {
	symKey := make([]byte, keySize)
	if _, err := rand.Read(symKey); err != nil {
		return nil, err
	}
	return symKey, nil
}

// Seal encrypts plaintext for the holder of publicKey.
func Seal(plaintext []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	symKey, err := CreateSymmetricKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrEncryptFailed, err)
	}
	defer zero(symKey)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, symKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to wrap symmetric key: %v", kerrors.ErrEncryptFailed, err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrEncryptFailed, err)
	}
	var key [keySize]byte
	copy(key[:], symKey)
	defer zero(key[:])

	out := make([]byte, 0, 3+len(wrapped)+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, envelopeVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

// Open decrypts an envelope produced by Seal.
func Open(envelope []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	if len(envelope) < 3 || envelope[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope format", kerrors.ErrDecryptFailed)
	}
	n := int(binary.BigEndian.Uint16(envelope[1:3]))
	rest := envelope[3:]
	if len(rest) < n+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: envelope is truncated", kerrors.ErrDecryptFailed)
	}

	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, rest[:n], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unwrap symmetric key: %v", kerrors.ErrDecryptFailed, err)
	}
	defer zero(symKey)
	if len(symKey) != keySize {
		return nil, fmt.Errorf("%w: symmetric key must be %d bytes", kerrors.ErrDecryptFailed, keySize)
	}

	var key [keySize]byte
	copy(key[:], symKey)
	defer zero(key[:])
	var nonce [nonceSize]byte
	copy(nonce[:], rest[n:n+nonceSize])

	plaintext, ok := secretbox.Open(nil, rest[n+nonceSize:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("%w: secretbox authentication failed", kerrors.ErrDecryptFailed)
	}
	return plaintext, nil
}

// Plaintext holds a decrypted secret until Release is called.
type Plaintext struct {
	mu   sync.Mutex
	data []byte
}

// NewPlaintext takes ownership of data.
func NewPlaintext(data []byte) *Plaintext {
	if data == nil {
		data = []byte{}
	}
	return &Plaintext{data: data}
}

// Bytes returns the secret. The slice must not be kept after Release.
func (p *Plaintext) Bytes() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, kerrors.ErrPlaintextReleased
	}
	return p.data, nil
}

// Release zeroes the secret. It is safe to call more than once.
func (p *Plaintext) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	zero(p.data)
	p.data = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
