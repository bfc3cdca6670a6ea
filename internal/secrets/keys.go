package secrets

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// PublicKey is a user's current public key.
type PublicKey struct {
	UserID      string
	Fingerprint string
	Key         crypto.PublicKey

	// Private is set when the directory returned private key material.
	Private bool
}

// LoadPrivateKey loads an unencrypted RSA private key in PKCS#1, PKCS#8 or OpenSSH form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key at %s: %w", path, err)
	}
	return ParsePrivateKey(data, nil)
}

// ParsePrivateKey parses an RSA private key. OpenSSH keys may be protected
// by a passphrase; when one is needed and passphrase is nil the error wraps
// errors.ErrPassphraseRequired.
func ParsePrivateKey(data []byte, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "OPENSSH PRIVATE KEY" {
		return ParsePrivateKeyPEM(data)
	}

	var (
		raw any
		err error
	)
	if passphrase == nil {
		raw, err = ssh.ParseRawPrivateKey(data)
	} else {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, kerrors.ErrPassphraseRequired
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", kerrors.ErrInvalidPrivateKey)
	}
	return key, nil
}

func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", kerrors.ErrInvalidPrivateKey)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", kerrors.ErrInvalidPrivateKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", kerrors.ErrInvalidPrivateKey, block.Type)
	}
}

// ParsePublicKeyPEM parses a PEM key published for userID. Private key blocks
// are accepted and flagged so the key checks can reject them.
func ParsePublicKeyPEM(userID string, data []byte) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found for user %s", kerrors.ErrInvalidPublicKey, userID)
	}

	var (
		pub     crypto.PublicKey
		private bool
		err     error
	)
	switch block.Type {
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "RSA PRIVATE KEY", "PRIVATE KEY":
		var priv *rsa.PrivateKey
		priv, err = ParsePrivateKeyPEM(data)
		if err == nil {
			pub, private = &priv.PublicKey, true
		}
	default:
		err = fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", kerrors.ErrInvalidPublicKey, userID, err)
	}

	fp, err := Fingerprint(pub)
	if err != nil {
		return nil, err
	}
	return &PublicKey{UserID: userID, Fingerprint: fp, Key: pub, Private: private}, nil
}

// MarshalPublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// MarshalPrivateKeyPEM encodes an RSA private key as a PKCS#1 block.
func MarshalPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// Fingerprint is the hex SHA-256 of the key's PKIX encoding.
func Fingerprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateKeyPair creates an RSA key and saves it unencrypted at privatePath.
func GenerateKeyPair(privatePath string, bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}

	dir := filepath.Dir(privatePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory for private key at %s: %w", dir, err)
	}
	if err := os.WriteFile(privatePath, MarshalPrivateKeyPEM(key), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key at %s: %w", privatePath, err)
	}
	return key, nil
}
