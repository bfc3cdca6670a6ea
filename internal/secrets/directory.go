package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// KeyDirectory looks up users' current public keys.
type KeyDirectory interface {
	// GetPublicKey returns errors.ErrPublicKeyNotFound for users without a key.
	GetPublicKey(ctx context.Context, userID string) (*PublicKey, error)
	GetKeyMetadata(ctx context.Context, key *PublicKey) (KeyMetadata, error)
}

// FileKeyDirectory reads <dir>/<user>.pub and the optional <user>.toml
// metadata file next to it.
type FileKeyDirectory struct {
	dir string
}

// KeyMetadataFile is the on-disk form of the metadata file.
type KeyMetadataFile struct {
	Revoked   bool       `toml:"revoked"`
	ExpiresAt *time.Time `toml:"expires_at,omitempty"`
}

func NewFileKeyDirectory(dir string) *FileKeyDirectory {
	return &FileKeyDirectory{dir: dir}
}

func (d *FileKeyDirectory) PublicKeyPath(userID string) string {
	return filepath.Join(d.dir, userID+".pub")
}

func (d *FileKeyDirectory) MetadataPath(userID string) string {
	return filepath.Join(d.dir, userID+".toml")
}

func (d *FileKeyDirectory) GetPublicKey(_ context.Context, userID string) (*PublicKey, error) {
	data, err := os.ReadFile(d.PublicKeyPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, userID)
		}
		return nil, fmt.Errorf("failed to read public key for user %s: %w", userID, err)
	}
	return ParsePublicKeyPEM(userID, data)
}

func (d *FileKeyDirectory) GetKeyMetadata(_ context.Context, key *PublicKey) (KeyMetadata, error) {
	meta := DescribeKey(key)

	var file KeyMetadataFile
	if _, err := toml.DecodeFile(d.MetadataPath(key.UserID), &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, nil
		}
		return KeyMetadata{}, fmt.Errorf("failed to read key metadata for user %s: %w", key.UserID, err)
	}
	meta.Revoked = file.Revoked
	if file.ExpiresAt != nil {
		meta.ExpiresAt = *file.ExpiresAt
	}
	return meta, nil
}

// WriteMetadata records revocation and expiry for a user's key.
func (d *FileKeyDirectory) WriteMetadata(userID string, file KeyMetadataFile) error {
	f, err := os.OpenFile(d.MetadataPath(userID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write key metadata for user %s: %w", userID, err)
	}
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode key metadata for user %s: %w", userID, err)
	}
	return f.Close()
}
