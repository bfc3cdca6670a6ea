package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

const pgErrUniqueViolation = "23505"

//go:embed schema.sql
var schema string

// Store keeps resources, permissions, secrets, groups and public keys in
// PostgreSQL. Secret and permission writes for a resource run in one
// transaction holding the resource row lock.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func nullable(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func (s *Store) LoadResource(ctx context.Context, id string) (acl.Resource, error) {
	var (
		folder sql.NullString
		res    = acl.Resource{ID: id}
	)
	err := s.db.QueryRowContext(ctx, qLoadResource, id).Scan(&folder, &res.Name, &res.URI)
	if errors.Is(err, sql.ErrNoRows) {
		return acl.Resource{}, fmt.Errorf("%w: %s", kerrors.ErrResourceNotFound, id)
	}
	if err != nil {
		return acl.Resource{}, fmt.Errorf("failed to load resource %s: %w", id, err)
	}
	res.FolderID = folder.String
	return res, nil
}

func (s *Store) LoadPermissions(ctx context.Context, id string) (acl.Collection, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, qResourceExists, id).Scan(&exists); err != nil {
		return acl.Collection{}, fmt.Errorf("failed to load resource %s: %w", id, err)
	}
	if !exists {
		return acl.Collection{}, fmt.Errorf("%w: %s", kerrors.ErrResourceNotFound, id)
	}
	return s.loadPermissions(ctx, acl.AcoResource, id)
}

func (s *Store) LoadFolderPermissions(ctx context.Context, id string) (acl.Collection, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, qFolderExists, id).Scan(&exists); err != nil {
		return acl.Collection{}, fmt.Errorf("failed to load folder %s: %w", id, err)
	}
	if !exists {
		return acl.Collection{}, fmt.Errorf("%w: %s", kerrors.ErrFolderNotFound, id)
	}
	return s.loadPermissions(ctx, acl.AcoFolder, id)
}

func (s *Store) loadPermissions(ctx context.Context, aco acl.Aco, id string) (acl.Collection, error) {
	rows, err := s.db.QueryContext(ctx, qLoadPermissions, aco.String(), id)
	if err != nil {
		return acl.Collection{}, fmt.Errorf("failed to load permissions of %s %s: %w", aco, id, err)
	}
	defer rows.Close()

	var perms []acl.Permission
	for rows.Next() {
		var (
			aroTag, aroID string
			level         int
		)
		if err := rows.Scan(&aroTag, &aroID, &level); err != nil {
			return acl.Collection{}, err
		}
		aro, err := acl.ParseAro(aroTag)
		if err != nil {
			return acl.Collection{}, err
		}
		lvl, err := acl.ParseLevel(level)
		if err != nil {
			return acl.Collection{}, err
		}
		p, err := acl.NewPermission(aco, id, aro, aroID, lvl)
		if err != nil {
			return acl.Collection{}, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return acl.Collection{}, err
	}
	return acl.NewCollection(perms...)
}

func (s *Store) ListResourceIDs(ctx context.Context) ([]string, error) {
	return s.strings(ctx, qListResourceIDs)
}

func (s *Store) ListSecretHolders(ctx context.Context, id string) ([]string, error) {
	return s.strings(ctx, qListSecretHolders, id)
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) LoadSecret(ctx context.Context, resourceID, userID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, qLoadSecret, resourceID, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: resource %s user %s", kerrors.ErrSecretNotFound, resourceID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	return data, nil
}

// lockResource takes the row lock for id inside tx and returns the resource.
func lockResource(ctx context.Context, tx *sql.Tx, id string) (acl.Resource, error) {
	var folder sql.NullString
	err := tx.QueryRowContext(ctx, qLockResource, id).Scan(&folder)
	if errors.Is(err, sql.ErrNoRows) {
		return acl.Resource{}, fmt.Errorf("%w: %s", kerrors.ErrResourceNotFound, id)
	}
	if err != nil {
		return acl.Resource{}, fmt.Errorf("failed to lock resource %s: %w", id, err)
	}
	return acl.Resource{ID: id, FolderID: folder.String}, nil
}

func (s *Store) PersistPermissionChanges(ctx context.Context, id string, changes []acl.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := lockResource(ctx, tx, id)
	if err != nil {
		return err
	}

	for _, c := range changes {
		if !changeset.Applies(res, c) {
			continue
		}
		if err := writeChange(ctx, tx, acl.AcoResource, id, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PersistFolderPermissionChanges applies the changes aimed at folder id to
// the folder's own permissions, holding the folder row lock.
func (s *Store) PersistFolderPermissionChanges(ctx context.Context, id string, changes []acl.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, qLockFolder, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", kerrors.ErrFolderNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock folder %s: %w", id, err)
	}

	for _, c := range changes {
		if c.Aco != acl.AcoFolder || c.AcoID != id {
			continue
		}
		if err := writeChange(ctx, tx, acl.AcoFolder, id, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func writeChange(ctx context.Context, tx *sql.Tx, aco acl.Aco, id string, c acl.Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Delete {
		if _, err := tx.ExecContext(ctx, qDeletePermission, aco.String(), id, c.Aro.String(), c.AroID); err != nil {
			return fmt.Errorf("failed to delete permission %s: %w", c.Subject(), err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, qUpsertPermission, aco.String(), id, c.Aro.String(), c.AroID, int(c.Level)); err != nil {
		return fmt.Errorf("failed to write permission %s: %w", c.Subject(), err)
	}
	return nil
}

// PersistSecrets applies ops in order inside one transaction. A create for a
// user who already holds a secret, or a delete for one who does not, rolls
// the whole list back.
func (s *Store) PersistSecrets(ctx context.Context, id string, ops []secrets.SecretOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockResource(ctx, tx, id); err != nil {
		return err
	}

	for _, op := range ops {
		if op.ResourceID != "" && op.ResourceID != id {
			return fmt.Errorf("secret operation for resource %s applied to %s", op.ResourceID, id)
		}
		switch op.Kind {
		case secrets.OpCreate:
			if _, err := tx.ExecContext(ctx, qInsertSecret, id, op.UserID, op.Data); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
					return fmt.Errorf("secret for user %s on resource %s already exists", op.UserID, id)
				}
				return fmt.Errorf("failed to create secret for user %s: %w", op.UserID, err)
			}
		case secrets.OpDelete:
			result, err := tx.ExecContext(ctx, qDeleteSecret, id, op.UserID)
			if err != nil {
				return fmt.Errorf("failed to delete secret for user %s: %w", op.UserID, err)
			}
			if n, err := result.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: resource %s user %s", kerrors.ErrSecretNotFound, id, op.UserID)
			}
		default:
			return fmt.Errorf("unknown secret operation %v", op.Kind)
		}
	}
	return tx.Commit()
}

func (s *Store) SetResourceFolder(ctx context.Context, id, folderID string) error {
	result, err := s.db.ExecContext(ctx, qSetResourceFolder, id, nullable(folderID))
	if err != nil {
		return fmt.Errorf("failed to move resource %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", kerrors.ErrResourceNotFound, id)
	}
	return nil
}

// ListMembers implements groups.Directory.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, qListMembers, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}
	defer rows.Close()

	found := false
	var members []string
	for rows.Next() {
		var (
			gid    string
			member sql.NullString
		)
		if err := rows.Scan(&gid, &member); err != nil {
			return nil, err
		}
		found = true
		if member.Valid {
			members = append(members, member.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, groupID)
	}
	return members, nil
}

// GetPublicKey implements secrets.KeyDirectory.
func (s *Store) GetPublicKey(ctx context.Context, userID string) (*secrets.PublicKey, error) {
	var pemData string
	err := s.db.QueryRowContext(ctx, qLoadPublicKey, userID).Scan(&pemData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load public key for user %s: %w", userID, err)
	}
	return secrets.ParsePublicKeyPEM(userID, []byte(pemData))
}

func (s *Store) GetKeyMetadata(ctx context.Context, key *secrets.PublicKey) (secrets.KeyMetadata, error) {
	meta := secrets.DescribeKey(key)

	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx, qLoadKeyMetadata, key.UserID).Scan(&meta.Revoked, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return secrets.KeyMetadata{}, fmt.Errorf("%w: user %s", kerrors.ErrPublicKeyNotFound, key.UserID)
	}
	if err != nil {
		return secrets.KeyMetadata{}, fmt.Errorf("failed to load key metadata for user %s: %w", key.UserID, err)
	}
	if expires.Valid {
		meta.ExpiresAt = expires.Time
	}
	return meta, nil
}
