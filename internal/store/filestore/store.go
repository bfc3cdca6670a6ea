package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	"github.com/PolarWolf314/aclsync/internal/configs"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

const secretExt = ".secret"

// Store is a file-backed implementation of the engine's storage
// collaborators. It is safe for concurrent use within one process.
type Store struct {
	root string

	mu sync.RWMutex

	*secrets.FileKeyDirectory
}

// Open returns a store rooted at the .aclsync directory stateDir.
// It fails with ErrProjectNotInitialized when stateDir does not exist.
func Open(stateDir string) (*Store, error) {
	info, err := os.Stat(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", kerrors.ErrProjectNotInitialized, stateDir)
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", kerrors.ErrProjectNotInitialized, stateDir)
	}
	return &Store{
		root:             stateDir,
		FileKeyDirectory: secrets.NewFileKeyDirectory(filepath.Join(stateDir, "public_keys")),
	}, nil
}

// Create lays out an empty store under stateDir.
func Create(stateDir string) (*Store, error) {
	for _, dir := range []string{"resources", "folders", "public_keys"} {
		if err := os.MkdirAll(filepath.Join(stateDir, dir), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return Open(stateDir)
}

func (s *Store) Root() string { return s.root }

func (s *Store) resourceDir(id string) string {
	return filepath.Join(s.root, "resources", id)
}

func (s *Store) secretsDir(id string) string {
	return filepath.Join(s.resourceDir(id), "secrets")
}

func (s *Store) secretPath(resourceID, userID string) string {
	return filepath.Join(s.secretsDir(resourceID), userID+secretExt)
}

func (s *Store) folderPath(id string) string {
	return filepath.Join(s.root, "folders", id, "folder.toml")
}

func (s *Store) groupsPath() string {
	return filepath.Join(s.root, "groups.toml")
}

func (s *Store) LoadResource(ctx context.Context, id string) (acl.Resource, error) {
	if err := ctx.Err(); err != nil {
		return acl.Resource{}, err
	}
	if err := acl.ValidateID("resource id", id); err != nil {
		return acl.Resource{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadResource(id)
}

func (s *Store) loadResource(id string) (acl.Resource, error) {
	var res acl.Resource
	err := configs.LoadTOML(filepath.Join(s.resourceDir(id), "resource.toml"), &res)
	if errors.Is(err, os.ErrNotExist) {
		return acl.Resource{}, fmt.Errorf("%w: %s", kerrors.ErrResourceNotFound, id)
	}
	if err != nil {
		return acl.Resource{}, fmt.Errorf("failed to load resource %s: %w", id, err)
	}
	res.ID = id
	return res, nil
}

func (s *Store) LoadPermissions(ctx context.Context, id string) (acl.Collection, error) {
	if err := ctx.Err(); err != nil {
		return acl.Collection{}, err
	}
	if err := acl.ValidateID("resource id", id); err != nil {
		return acl.Collection{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadPermissions(id)
}

func (s *Store) loadPermissions(id string) (acl.Collection, error) {
	if _, err := s.loadResource(id); err != nil {
		return acl.Collection{}, err
	}
	var file permissionsFile
	err := configs.LoadTOML(filepath.Join(s.resourceDir(id), "permissions.toml"), &file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return acl.Collection{}, fmt.Errorf("failed to load permissions of %s: %w", id, err)
	}
	return fromRecords(acl.AcoResource, id, file.Permissions)
}

func (s *Store) LoadFolderPermissions(ctx context.Context, id string) (acl.Collection, error) {
	if err := ctx.Err(); err != nil {
		return acl.Collection{}, err
	}
	if err := acl.ValidateID("folder id", id); err != nil {
		return acl.Collection{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file folderFile
	err := configs.LoadTOML(s.folderPath(id), &file)
	if errors.Is(err, os.ErrNotExist) {
		return acl.Collection{}, fmt.Errorf("%w: %s", kerrors.ErrFolderNotFound, id)
	}
	if err != nil {
		return acl.Collection{}, fmt.Errorf("failed to load folder %s: %w", id, err)
	}
	return fromRecords(acl.AcoFolder, id, file.Permissions)
}

func (s *Store) ListResourceIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, "resources"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && acl.ValidateID("resource id", e.Name()) == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListSecretHolders(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acl.ValidateID("resource id", id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.loadResource(id); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.secretsDir(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets of %s: %w", id, err)
	}
	var users []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, secretExt) {
			continue
		}
		uid := strings.TrimSuffix(name, secretExt)
		if acl.ValidateID("user id", uid) == nil {
			users = append(users, uid)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) LoadSecret(ctx context.Context, resourceID, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acl.ValidateID("resource id", resourceID); err != nil {
		return nil, err
	}
	if err := acl.ValidateID("user id", userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.secretPath(resourceID, userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: resource %s user %s", kerrors.ErrSecretNotFound, resourceID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return data, nil
}

func (s *Store) PersistPermissionChanges(ctx context.Context, id string, changes []acl.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("resource id", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.loadResource(id)
	if err != nil {
		return err
	}
	current, err := s.loadPermissions(id)
	if err != nil {
		return err
	}
	next, err := changeset.ApplyChanges(res, current, changes)
	if err != nil {
		return err
	}
	return s.writePermissions(id, next)
}

// PersistFolderPermissionChanges applies the changes aimed at folder id to
// the folder's own permissions.
func (s *Store) PersistFolderPermissionChanges(ctx context.Context, id string, changes []acl.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("folder id", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var file folderFile
	err := configs.LoadTOML(s.folderPath(id), &file)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", kerrors.ErrFolderNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load folder %s: %w", id, err)
	}
	current, err := fromRecords(acl.AcoFolder, id, file.Permissions)
	if err != nil {
		return err
	}
	next, err := changeset.ApplyFolderChanges(id, current, changes)
	if err != nil {
		return err
	}
	file.Permissions = toRecords(next)
	if err := configs.SaveTOML(s.folderPath(id), file); err != nil {
		return fmt.Errorf("failed to write folder %s: %w", id, err)
	}
	return nil
}

func (s *Store) writePermissions(id string, c acl.Collection) error {
	path := filepath.Join(s.resourceDir(id), "permissions.toml")
	if err := configs.SaveTOML(path, permissionsFile{Permissions: toRecords(c)}); err != nil {
		return fmt.Errorf("failed to write permissions of %s: %w", id, err)
	}
	return nil
}

// PersistSecrets applies ops in order. The list is checked against the
// current holders before anything is written: a create for a user who still
// holds a secret, or a delete for one who does not, rejects the whole list.
// A delete followed by a create for the same user becomes one rename.
func (s *Store) PersistSecrets(ctx context.Context, id string, ops []secrets.SecretOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := acl.ValidateID("resource id", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadResource(id); err != nil {
		return err
	}

	held := make(map[string]bool)
	entries, err := os.ReadDir(s.secretsDir(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to list secrets of %s: %w", id, err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), secretExt) {
			held[strings.TrimSuffix(e.Name(), secretExt)] = true
		}
	}

	// Final per-user outcome: data to write, or nil to remove.
	final := make(map[string][]byte)
	var order []string
	for _, op := range ops {
		if op.ResourceID != "" && op.ResourceID != id {
			return fmt.Errorf("secret operation for resource %s applied to %s", op.ResourceID, id)
		}
		if err := acl.ValidateID("user id", op.UserID); err != nil {
			return err
		}
		if _, seen := final[op.UserID]; !seen {
			order = append(order, op.UserID)
		}
		switch op.Kind {
		case secrets.OpCreate:
			if held[op.UserID] {
				return fmt.Errorf("secret for user %s on resource %s already exists", op.UserID, id)
			}
			held[op.UserID] = true
			final[op.UserID] = op.Data
		case secrets.OpDelete:
			if !held[op.UserID] {
				return fmt.Errorf("%w: resource %s user %s", kerrors.ErrSecretNotFound, id, op.UserID)
			}
			held[op.UserID] = false
			final[op.UserID] = nil
		default:
			return fmt.Errorf("unknown secret operation %v", op.Kind)
		}
	}

	if err := os.MkdirAll(s.secretsDir(id), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	for _, uid := range order {
		path := s.secretPath(id, uid)
		if data := final[uid]; data != nil {
			if err := configs.WriteFileAtomic(path, data, 0600); err != nil {
				return fmt.Errorf("failed to write secret for user %s: %w", uid, err)
			}
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete secret for user %s: %w", uid, err)
		}
	}
	return nil
}

func (s *Store) SetResourceFolder(ctx context.Context, id, folderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if folderID != "" {
		if err := acl.ValidateID("folder id", folderID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.loadResource(id)
	if err != nil {
		return err
	}
	res.FolderID = folderID
	return s.writeResource(res)
}

func (s *Store) writeResource(res acl.Resource) error {
	if err := configs.SaveTOML(filepath.Join(s.resourceDir(res.ID), "resource.toml"), res); err != nil {
		return fmt.Errorf("failed to write resource %s: %w", res.ID, err)
	}
	return nil
}

// ListMembers implements groups.Directory from groups.toml.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.loadGroups()
	if err != nil {
		return nil, err
	}
	g, ok := file.Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, groupID)
	}
	return append([]string(nil), g.Members...), nil
}

func (s *Store) loadGroups() (groupsFile, error) {
	file := groupsFile{Groups: make(map[string]groupRecord)}
	err := configs.LoadTOML(s.groupsPath(), &file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return groupsFile{}, fmt.Errorf("failed to load groups: %w", err)
	}
	if file.Groups == nil {
		file.Groups = make(map[string]groupRecord)
	}
	return file, nil
}
