package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/ids"
)

type Kind string

const (
	KindShare  Kind = "share"
	KindMove   Kind = "move"
	KindRotate Kind = "rotate"
	KindSync   Kind = "sync"
)

func keepPermissions(_ acl.Resource, current acl.Collection) (acl.Collection, error) {
	return current, nil
}

// BatchPlan is a validated sharing request with a preview per resource.
// Execution re-reads every resource, so a plan can be executed later or more
// than once.
type BatchPlan struct {
	ID    string
	Kind  Kind
	Items []PlannedItem

	// Rekey and RekeyAll are applied to every item.
	Rekey    []string
	RekeyAll bool

	// Changes are the share instructions the plan was built from.
	Changes []acl.Change
}

// PlannedItem is one resource of a plan.
type PlannedItem struct {
	ResourceID string
	Resource   acl.Resource

	// Preview is the change-set against the state read while planning. It is
	// nil when planning the resource failed.
	Preview *changeset.ResourceChangeSet
	Err     error

	desire   func(res acl.Resource, current acl.Collection) (acl.Collection, error)
	folderID *string
	groups   []string
}

// Failed returns the items whose preview could not be computed.
func (p *BatchPlan) Failed() []PlannedItem {
	var out []PlannedItem
	for _, item := range p.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

func (p *BatchPlan) groupIDs() []string {
	var out []string
	for _, item := range p.Items {
		for _, id := range item.groups {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// PlanShare validates changes against the resources and previews the result.
// Malformed input fails the whole plan; problems with a single resource are
// recorded on its item.
func (e *Engine) PlanShare(ctx context.Context, resourceIDs []string, changes []acl.Change) (*BatchPlan, error) {
	resourceIDs, err := normalizeIDs(resourceIDs)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no permission changes", kerrors.ErrMalformedChange)
	}
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("change #%d: %w", i, err)
		}
		if c.Aco == acl.AcoResource && !slices.Contains(resourceIDs, c.AcoID) {
			return nil, fmt.Errorf("%w: change #%d targets resource %s outside the batch", kerrors.ErrMalformedChange, i, c.AcoID)
		}
	}

	desire := func(res acl.Resource, current acl.Collection) (acl.Collection, error) {
		return changeset.ApplyChanges(res, current, changes)
	}
	plan := &BatchPlan{ID: ids.NewBatchID(), Kind: KindShare, Changes: changes}
	for _, id := range resourceIDs {
		plan.Items = append(plan.Items, PlannedItem{ResourceID: id, desire: desire})
	}
	if err := e.preview(ctx, plan); err != nil {
		return nil, err
	}

	for i, c := range changes {
		if c.Aco != acl.AcoFolder || len(plan.Failed()) > 0 {
			continue
		}
		if !slices.ContainsFunc(plan.Items, func(item PlannedItem) bool { return changeset.Applies(item.Resource, c) }) {
			return nil, fmt.Errorf("%w: change #%d targets folder %s outside the batch", kerrors.ErrMalformedChange, i, c.AcoID)
		}
	}
	return plan, nil
}

// PlanMove moves resources into destinationFolderID, recomputing their
// permissions from the source and destination folders. An empty destination
// moves the resources to the root and keeps their permissions.
func (e *Engine) PlanMove(ctx context.Context, resourceIDs []string, destinationFolderID string) (*BatchPlan, error) {
	resourceIDs, err := normalizeIDs(resourceIDs)
	if err != nil {
		return nil, err
	}
	var destination acl.Collection
	if destinationFolderID != "" {
		if err := acl.ValidateID("folder", destinationFolderID); err != nil {
			return nil, err
		}
		if destination, err = e.store.LoadFolderPermissions(ctx, destinationFolderID); err != nil {
			return nil, fmt.Errorf("failed to load destination folder %s: %w", destinationFolderID, err)
		}
	}

	folders := make(map[string]acl.Collection)
	desire := func(res acl.Resource, current acl.Collection) (acl.Collection, error) {
		if destinationFolderID == "" {
			return current, nil
		}
		source, ok := folders[res.FolderID]
		if !ok && res.FolderID != "" {
			return acl.Collection{}, fmt.Errorf("%w: %s", kerrors.ErrFolderNotFound, res.FolderID)
		}
		return changeset.MoveToFolder(res.ID, current, source, destination), nil
	}

	plan := &BatchPlan{ID: ids.NewBatchID(), Kind: KindMove}
	for _, id := range resourceIDs {
		plan.Items = append(plan.Items, PlannedItem{ResourceID: id, desire: desire, folderID: &destinationFolderID})
	}

	// Source folders are read once, before any item is previewed or executed.
	for _, id := range resourceIDs {
		res, err := e.store.LoadResource(ctx, id)
		if err != nil || res.FolderID == "" {
			continue
		}
		if _, ok := folders[res.FolderID]; ok {
			continue
		}
		source, err := e.store.LoadFolderPermissions(ctx, res.FolderID)
		if err != nil {
			e.opts.Logger.Warnf("Could not load folder %s: %v", res.FolderID, err)
			continue
		}
		folders[res.FolderID] = source
	}

	if err := e.preview(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// PlanRotation re-encrypts the secrets held by users whose key changed. With
// no resource ids, every resource one of the users holds a secret for is
// included. all replaces every secret of the included resources.
func (e *Engine) PlanRotation(ctx context.Context, userIDs []string, resourceIDs []string, all bool) (*BatchPlan, error) {
	if len(userIDs) == 0 && !all {
		return nil, fmt.Errorf("%w: no users to rekey", kerrors.ErrMalformedChange)
	}
	for _, id := range userIDs {
		if err := acl.ValidateID("user", id); err != nil {
			return nil, err
		}
	}

	if len(resourceIDs) == 0 {
		listed, err := e.store.ListResourceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resources: %w", err)
		}
		for _, id := range listed {
			holders, err := e.store.ListSecretHolders(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to list secrets of %s: %w", id, err)
			}
			if all || slices.ContainsFunc(userIDs, func(u string) bool { return slices.Contains(holders, u) }) {
				resourceIDs = append(resourceIDs, id)
			}
		}
		if len(resourceIDs) == 0 {
			return &BatchPlan{ID: ids.NewBatchID(), Kind: KindRotate, Rekey: userIDs, RekeyAll: all}, nil
		}
	}
	resourceIDs, err := normalizeIDs(resourceIDs)
	if err != nil {
		return nil, err
	}

	plan := &BatchPlan{ID: ids.NewBatchID(), Kind: KindRotate, Rekey: userIDs, RekeyAll: all}
	for _, id := range resourceIDs {
		plan.Items = append(plan.Items, PlannedItem{ResourceID: id, desire: keepPermissions})
	}
	if err := e.preview(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// PlanSync brings the secrets of resources in line with their current
// permissions and group membership, leaving permissions untouched. It is how
// a group gaining or losing members reaches the secrets. With no resource ids
// every resource is included.
func (e *Engine) PlanSync(ctx context.Context, resourceIDs []string) (*BatchPlan, error) {
	if len(resourceIDs) == 0 {
		listed, err := e.store.ListResourceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resources: %w", err)
		}
		if len(listed) == 0 {
			return &BatchPlan{ID: ids.NewBatchID(), Kind: KindSync}, nil
		}
		resourceIDs = listed
	}
	resourceIDs, err := normalizeIDs(resourceIDs)
	if err != nil {
		return nil, err
	}

	plan := &BatchPlan{ID: ids.NewBatchID(), Kind: KindSync}
	for _, id := range resourceIDs {
		plan.Items = append(plan.Items, PlannedItem{ResourceID: id, desire: keepPermissions})
	}
	if err := e.preview(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// preview loads every item, records its group subjects and computes the
// change-set against one membership snapshot.
func (e *Engine) preview(ctx context.Context, plan *BatchPlan) error {
	type loaded struct {
		current, desired acl.Collection
		holders          []string
	}
	states := make([]loaded, len(plan.Items))

	for i := range plan.Items {
		item := &plan.Items[i]
		res, err := e.store.LoadResource(ctx, item.ResourceID)
		if err != nil {
			item.Err = err
			continue
		}
		item.Resource = res
		current, err := e.store.LoadPermissions(ctx, item.ResourceID)
		if err != nil {
			item.Err = err
			continue
		}
		holders, err := e.store.ListSecretHolders(ctx, item.ResourceID)
		if err != nil {
			item.Err = err
			continue
		}
		desired, err := item.desire(res, current)
		if err != nil {
			item.Err = err
			continue
		}
		item.groups = union(current.GroupIDs(), desired.GroupIDs())
		if holders == nil {
			holders = []string{}
		}
		states[i] = loaded{current: current, desired: desired, holders: holders}
	}

	snapshot, err := e.members.Snapshot(ctx, plan.groupIDs())
	if err != nil {
		return err
	}
	for i := range plan.Items {
		item := &plan.Items[i]
		if item.Err != nil {
			continue
		}
		item.Preview, item.Err = changeset.Compute(changeset.Input{
			ResourceID: item.ResourceID,
			Current:    states[i].current,
			Desired:    states[i].desired,
			Holders:    states[i].holders,
			Rekey:      plan.Rekey,
			RekeyAll:   plan.RekeyAll,
		}, snapshot)
	}
	return nil
}

func normalizeIDs(resourceIDs []string) ([]string, error) {
	if len(resourceIDs) == 0 {
		return nil, fmt.Errorf("%w: no resources", kerrors.ErrMalformedChange)
	}
	var out []string
	for _, id := range resourceIDs {
		if err := acl.ValidateID("resource", id); err != nil {
			return nil, err
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
