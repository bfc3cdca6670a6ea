package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/audit"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

// CreateResourceOptions configures the resource creation workflow.
type CreateResourceOptions struct {
	Name string
	URI  string

	// Secret is the plaintext. It is zeroed once sealed.
	Secret []byte

	// FolderID optionally moves the new resource into a folder, inheriting
	// the folder's permissions.
	FolderID string
}

// CreateResourceResult contains the outcome of a resource creation.
type CreateResourceResult struct {
	Resource acl.Resource

	// Move is the batch that placed the resource in its folder, if any.
	Move *BatchOutcome
}

// CreateResource stores a new resource owned by the actor together with the
// actor's secret copy.
//
// Returns UnusableRecipientKeyError if the actor's own key cannot be used.
func CreateResource(ctx context.Context, env *Env, opts CreateResourceOptions) (*CreateResourceResult, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: resource name is empty", kerrors.ErrMalformedChange)
	}
	plaintext := secrets.NewPlaintext(opts.Secret)
	defer plaintext.Release()

	actor := env.ActorID()
	res := acl.Resource{ID: uuid.NewString(), Name: opts.Name, URI: opts.URI}
	owner, err := acl.NewPermission(acl.AcoResource, res.ID, acl.AroUser, actor, acl.LevelOwner)
	if err != nil {
		return nil, err
	}
	perms, err := acl.NewCollection(owner)
	if err != nil {
		return nil, err
	}

	pub, err := env.Crypto.RecipientKey(ctx, actor)
	if err != nil {
		return nil, err
	}
	data, err := plaintext.Bytes()
	if err != nil {
		return nil, err
	}
	sealed, err := secrets.Seal(data, pub)
	if err != nil {
		return nil, err
	}

	if err := env.Store.PutResource(ctx, res, perms); err != nil {
		return nil, err
	}
	op := secrets.SecretOp{Kind: secrets.OpCreate, ResourceID: res.ID, UserID: actor, Data: sealed}
	if err := env.Store.PersistSecrets(ctx, res.ID, []secrets.SecretOp{op}); err != nil {
		return nil, fmt.Errorf("failed to store secret of %s: %w", res.ID, err)
	}
	env.Logger.Infof("Created resource %s (%s)", res.ID, res.Name)

	entry := audit.LogWithActor("create", actor)
	entry.Resources = []string{res.ID}
	entry.Created = 1
	audit.Log(entry)

	result := &CreateResourceResult{Resource: res}
	if opts.FolderID != "" {
		move, err := Move(ctx, env, MoveOptions{ResourceIDs: []string{res.ID}, FolderID: opts.FolderID})
		if err != nil {
			return result, fmt.Errorf("resource %s was created but not moved: %w", res.ID, err)
		}
		result.Move = move
		result.Resource.FolderID = opts.FolderID
	}
	return result, nil
}

// Grant is a subject and the level it is given.
type Grant struct {
	Subject acl.Subject
	Level   acl.Level
}

// SetFolderOptions configures the folder workflow.
type SetFolderOptions struct {
	// FolderID is the folder to replace. Empty creates a new folder.
	FolderID string
	Name     string
	Grants   []Grant
}

// SetFolder creates or replaces a folder and its permissions. Resources
// already in the folder keep their permissions until they are moved again.
func SetFolder(ctx context.Context, env *Env, opts SetFolderOptions) (string, error) {
	id := opts.FolderID
	if id == "" {
		id = uuid.NewString()
	}

	perms := make([]acl.Permission, 0, len(opts.Grants))
	for _, g := range opts.Grants {
		p, err := acl.NewPermission(acl.AcoFolder, id, g.Subject.Aro, g.Subject.ID, g.Level)
		if err != nil {
			return "", err
		}
		perms = append(perms, p)
	}
	collection, err := acl.NewCollection(perms...)
	if err != nil {
		return "", err
	}

	if err := env.Store.PutFolder(ctx, id, opts.Name, collection); err != nil {
		return "", err
	}
	env.Logger.Infof("Saved folder %s with %d permission(s)", id, collection.Len())

	entry := audit.LogWithActor("folder", env.ActorID())
	entry.Folder = id
	audit.Log(entry)
	return id, nil
}
