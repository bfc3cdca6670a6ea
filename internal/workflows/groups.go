package workflows

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/audit"
)

// SetGroupOptions configures the group workflow.
type SetGroupOptions struct {
	// GroupID is the group to replace. Empty creates a new group.
	GroupID string
	Name    string
	Members []string

	// NoSync only saves the membership. The secrets of resources shared
	// with the group are then brought up to date by a later sync.
	NoSync bool
	DryRun bool
}

// SetGroupResult contains the outcome of a group update.
type SetGroupResult struct {
	GroupID string

	// Affected are the resources whose permissions name the group.
	Affected []string

	// Sync is the batch that updated the affected resources' secrets.
	Sync *BatchOutcome
}

// SetGroup replaces a group's membership and re-syncs every resource shared
// with the group, so new members receive a secret and removed members lose
// theirs.
func SetGroup(ctx context.Context, env *Env, opts SetGroupOptions) (*SetGroupResult, error) {
	id := opts.GroupID
	if id == "" {
		id = uuid.NewString()
	}
	if err := acl.ValidateID("group", id); err != nil {
		return nil, err
	}
	for _, m := range opts.Members {
		if err := acl.ValidateID("member", m); err != nil {
			return nil, err
		}
	}

	affected, err := resourcesSharedWith(ctx, env, id)
	if err != nil {
		return nil, err
	}
	result := &SetGroupResult{GroupID: id, Affected: affected}

	if !opts.DryRun {
		if err := env.Store.PutGroup(ctx, id, opts.Name, opts.Members); err != nil {
			return nil, err
		}
		env.Resolver.Invalidate(id)
		env.Logger.Infof("Saved group %s with %d member(s)", id, len(opts.Members))

		entry := audit.LogWithActor("group", env.ActorID())
		entry.TargetUsers = opts.Members
		entry.Resources = affected
		audit.Log(entry)
	}

	if opts.NoSync || len(affected) == 0 {
		return result, nil
	}
	// A dry run previews against the stored membership, which is unchanged.
	sync, err := Sync(ctx, env, SyncOptions{ResourceIDs: affected, DryRun: opts.DryRun})
	if err != nil {
		return result, fmt.Errorf("group %s was saved but its resources were not synced: %w", id, err)
	}
	result.Sync = sync
	return result, nil
}

func resourcesSharedWith(ctx context.Context, env *Env, groupID string) ([]string, error) {
	ids, err := env.Store.ListResourceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	var out []string
	for _, id := range ids {
		perms, err := env.Store.LoadPermissions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load permissions of %s: %w", id, err)
		}
		if slices.Contains(perms.GroupIDs(), groupID) {
			out = append(out, id)
		}
	}
	return out, nil
}
