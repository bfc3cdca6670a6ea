package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/configs"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

// PutResource creates or replaces a resource and its permissions. Existing
// secrets are left untouched.
func (s *Store) PutResource(ctx context.Context, res acl.Resource, perms acl.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("resource id", res.ID); err != nil {
		return err
	}
	if res.FolderID != "" {
		if err := acl.ValidateID("folder id", res.FolderID); err != nil {
			return err
		}
	}
	for _, p := range perms.Permissions() {
		if p.Aco() != acl.AcoResource || p.AcoID() != res.ID {
			return fmt.Errorf("%w: permission %s does not belong to resource %s", kerrors.ErrMalformedPermission, p, res.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeResource(res); err != nil {
		return err
	}
	return s.writePermissions(res.ID, perms)
}

// PutFolder creates or replaces a folder and its permissions.
func (s *Store) PutFolder(ctx context.Context, id, name string, perms acl.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("folder id", id); err != nil {
		return err
	}
	for _, p := range perms.Permissions() {
		if p.Aco() != acl.AcoFolder || p.AcoID() != id {
			return fmt.Errorf("%w: permission %s does not belong to folder %s", kerrors.ErrMalformedPermission, p, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	file := folderFile{ID: id, Name: name, Permissions: toRecords(perms)}
	if err := configs.SaveTOML(s.folderPath(id), file); err != nil {
		return fmt.Errorf("failed to write folder %s: %w", id, err)
	}
	return nil
}

// PutGroup creates or replaces a group's member list.
func (s *Store) PutGroup(ctx context.Context, id, name string, members []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("group id", id); err != nil {
		return err
	}
	for _, m := range members {
		if err := acl.ValidateID("user id", m); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.loadGroups()
	if err != nil {
		return err
	}
	file.Groups[id] = groupRecord{Name: name, Members: append([]string(nil), members...)}
	if err := configs.SaveTOML(s.groupsPath(), file); err != nil {
		return fmt.Errorf("failed to write groups: %w", err)
	}
	return nil
}

// PutPublicKey stores a user's PEM-encoded public key.
func (s *Store) PutPublicKey(ctx context.Context, userID string, pemData []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("user id", userID); err != nil {
		return err
	}
	path := s.PublicKeyPath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create public key directory: %w", err)
	}
	// #nosec G306 -- public keys are meant to be shared.
	if err := configs.WriteFileAtomic(path, pemData, 0644); err != nil {
		return fmt.Errorf("failed to write public key for user %s: %w", userID, err)
	}
	// A replaced key starts out unrevoked.
	if err := os.Remove(s.MetadataPath(userID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to reset key metadata for user %s: %w", userID, err)
	}
	return nil
}

// RevokeKey marks a user's key as revoked.
func (s *Store) RevokeKey(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("user id", userID); err != nil {
		return err
	}
	if _, err := os.Stat(s.PublicKeyPath(userID)); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, userID)
	}
	return s.WriteMetadata(userID, secrets.KeyMetadataFile{Revoked: true})
}
