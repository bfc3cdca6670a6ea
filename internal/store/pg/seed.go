package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PolarWolf314/aclsync/internal/acl"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutResource creates or replaces a resource and its permissions.
func (s *Store) PutResource(ctx context.Context, res acl.Resource, perms acl.Collection) error {
	return s.putObject(ctx, acl.AcoResource, res.ID, perms, func(ctx context.Context, exec execer) error {
		_, err := exec.ExecContext(ctx, qUpsertResource, res.ID, nullable(res.FolderID), res.Name, res.URI)
		return err
	})
}

// PutFolder creates or replaces a folder and its permissions.
func (s *Store) PutFolder(ctx context.Context, id, name string, perms acl.Collection) error {
	return s.putObject(ctx, acl.AcoFolder, id, perms, func(ctx context.Context, exec execer) error {
		_, err := exec.ExecContext(ctx, qUpsertFolder, id, name)
		return err
	})
}

func (s *Store) putObject(ctx context.Context, aco acl.Aco, id string, perms acl.Collection, upsert func(context.Context, execer) error) error {
	for _, p := range perms.Permissions() {
		if p.Aco() != aco || p.AcoID() != id {
			return fmt.Errorf("%w: permission %s does not belong to %s %s", kerrors.ErrMalformedPermission, p, aco, id)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsert(ctx, tx); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", aco, id, err)
	}
	if _, err := tx.ExecContext(ctx, qDeleteAllPermissions, aco.String(), id); err != nil {
		return fmt.Errorf("failed to clear permissions of %s %s: %w", aco, id, err)
	}
	for _, p := range perms.Permissions() {
		sub := p.Subject()
		if _, err := tx.ExecContext(ctx, qUpsertPermission, aco.String(), id, sub.Aro.String(), sub.ID, int(p.Level())); err != nil {
			return fmt.Errorf("failed to write permission %s: %w", sub, err)
		}
	}
	return tx.Commit()
}

// PutGroup creates or replaces a group and its member list.
func (s *Store) PutGroup(ctx context.Context, id, name string, members []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, qUpsertGroup, id, name); err != nil {
		return fmt.Errorf("failed to write group %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, qDeleteGroupMembers, id); err != nil {
		return fmt.Errorf("failed to clear members of group %s: %w", id, err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, qInsertGroupMember, id, m); err != nil {
			return fmt.Errorf("failed to add %s to group %s: %w", m, id, err)
		}
	}
	return tx.Commit()
}

// PutPublicKey registers or replaces a user's key, clearing any revocation.
func (s *Store) PutPublicKey(ctx context.Context, userID string, pemData []byte) error {
	if _, err := s.db.ExecContext(ctx, qUpsertPublicKey, userID, string(pemData)); err != nil {
		return fmt.Errorf("failed to write public key for user %s: %w", userID, err)
	}
	return nil
}

// RevokeKey marks a user's key as revoked.
func (s *Store) RevokeKey(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, qRevokeKey, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke key for user %s: %w", userID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, userID)
	}
	return nil
}
