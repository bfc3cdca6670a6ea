package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/groups"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
	"github.com/PolarWolf314/aclsync/internal/metrics"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

// Store is the storage collaborator.
type Store interface {
	LoadResource(ctx context.Context, resourceID string) (acl.Resource, error)
	LoadPermissions(ctx context.Context, resourceID string) (acl.Collection, error)
	LoadFolderPermissions(ctx context.Context, folderID string) (acl.Collection, error)
	ListResourceIDs(ctx context.Context) ([]string, error)
	ListSecretHolders(ctx context.Context, resourceID string) ([]string, error)

	// LoadSecret returns errors.ErrSecretNotFound when the user holds no secret.
	LoadSecret(ctx context.Context, resourceID, userID string) ([]byte, error)

	PersistPermissionChanges(ctx context.Context, resourceID string, changes []acl.Change) error
	PersistFolderPermissionChanges(ctx context.Context, folderID string, changes []acl.Change) error
	PersistSecrets(ctx context.Context, resourceID string, ops []secrets.SecretOp) error
	SetResourceFolder(ctx context.Context, resourceID, folderID string) error
}

// Membership takes the per-batch group snapshot. *groups.Resolver implements it.
type Membership interface {
	Snapshot(ctx context.Context, groupIDs []string) (*groups.Snapshot, error)
}

// Encryptor turns a change-set into secret operations. *secrets.Reencryptor implements it.
type Encryptor interface {
	Apply(ctx context.Context, cs *changeset.ResourceChangeSet, actorSecret []byte) ([]secrets.SecretOp, error)
}

// Checker validates a resource. *validator.Validator implements it.
type Checker interface {
	Validate(ctx context.Context, resourceID string) error
	ValidateWith(ctx context.Context, resourceID string, members changeset.MemberLookup) error
}

type Options struct {
	// FanOut bounds the number of resources processed at once. Zero means 8.
	FanOut int

	Logger logger.Logger

	// Progress is called on every state transition. It must be safe for concurrent use.
	Progress func(resourceID string, state State)

	// SkipValidation skips the post-persist check. Mismatches are then only
	// found by a sweep.
	SkipValidation bool
}

// Engine plans and executes sharing operations for one acting user.
type Engine struct {
	store   Store
	members Membership
	enc     Encryptor
	check   Checker
	actorID string
	opts    Options
	locks   *keyedMutex
}

func New(store Store, members Membership, enc Encryptor, check Checker, actorID string, opts Options) *Engine {
	if opts.FanOut <= 0 {
		opts.FanOut = 8
	}
	return &Engine{
		store:   store,
		members: members,
		enc:     enc,
		check:   check,
		actorID: actorID,
		opts:    opts,
		locks:   newKeyedMutex(),
	}
}

// Validate checks one resource against freshly read group membership.
func (e *Engine) Validate(ctx context.Context, resourceID string) error {
	if err := acl.ValidateID("resource", resourceID); err != nil {
		return err
	}
	return e.check.Validate(ctx, resourceID)
}

// ExecuteShare runs every planned resource through its pipeline. Failures are
// reported per resource in the result; the returned error is only set when
// the plan itself cannot be executed.
func (e *Engine) ExecuteShare(ctx context.Context, plan *BatchPlan) (*BatchResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: empty plan", kerrors.ErrMalformedChange)
	}
	result := &BatchResult{BatchID: plan.ID, Items: make([]ItemResult, len(plan.Items))}
	for i, item := range plan.Items {
		result.Items[i] = ItemResult{ResourceID: item.ResourceID, State: StatePending}
	}

	snapshot, err := e.members.Snapshot(ctx, plan.groupIDs())
	if err != nil {
		for i := range result.Items {
			e.finish(&result.Items[i], StateCancelled, fmt.Errorf("%w: %v", kerrors.ErrCancelled, err))
		}
		return result, nil
	}
	e.opts.Logger.Debugf("Batch %s: %d resource(s), %d group(s) in snapshot", plan.ID, len(plan.Items), len(snapshot.Groups()))

	var folderErrs map[string]error
	if ctx.Err() == nil {
		folderErrs = e.persistFolders(ctx, plan)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.opts.FanOut)
	for i := range plan.Items {
		item := &plan.Items[i]
		out := &result.Items[i]
		if ctx.Err() != nil {
			e.finish(out, StateCancelled, kerrors.ErrCancelled)
			continue
		}
		g.Go(func() error {
			e.run(ctx, plan, item, snapshot, folderErrs, out)
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

func (e *Engine) run(ctx context.Context, plan *BatchPlan, item *PlannedItem, snapshot *groups.Snapshot, folderErrs map[string]error, out *ItemResult) {
	unlock, err := e.locks.Lock(ctx, item.ResourceID)
	if err != nil {
		e.finish(out, StateCancelled, kerrors.ErrCancelled)
		return
	}
	defer unlock()

	if ctx.Err() != nil {
		e.finish(out, StateCancelled, kerrors.ErrCancelled)
		return
	}

	e.transition(out, StateDiffing)
	start := time.Now()
	cs, actorSecret, members, err := e.diff(ctx, plan, item, snapshot, folderErrs)
	metrics.ObserveStage("diffing", start)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(out, StateCancelled, kerrors.ErrCancelled)
			return
		}
		e.finish(out, StateFailed, err)
		return
	}
	out.ChangeSet = cs

	if ctx.Err() != nil {
		e.finish(out, StateCancelled, kerrors.ErrCancelled)
		return
	}

	// From here on the resource runs to completion.
	ctx = context.WithoutCancel(ctx)

	if cs.PermissionsChanged() || cs.SecretsChanged() || item.folderID != nil {
		e.transition(out, StateEncrypting)
		start = time.Now()
		ops, err := e.enc.Apply(ctx, cs, actorSecret)
		metrics.ObserveStage("encrypting", start)
		if err != nil {
			e.finish(out, StateFailed, err)
			return
		}

		e.transition(out, StatePersisting)
		start = time.Now()
		err = e.persist(ctx, item, cs, ops)
		metrics.ObserveStage("persisting", start)
		if err != nil {
			e.finish(out, StateFailed, err)
			return
		}
		out.Created, out.Deleted = secrets.CountOps(ops)
		metrics.SecretsWritten(out.Created, out.Deleted)
	}

	if !e.opts.SkipValidation {
		start = time.Now()
		err := e.check.ValidateWith(ctx, item.ResourceID, members)
		metrics.ObserveStage("validating", start)
		if err != nil {
			var mismatch *kerrors.ReaderSecretMismatchError
			if errors.As(err, &mismatch) {
				metrics.Mismatch()
			}
			e.finish(out, StateFailed, err)
			return
		}
	}
	e.finish(out, StateValidated, nil)
}

func (e *Engine) diff(ctx context.Context, plan *BatchPlan, item *PlannedItem, snapshot *groups.Snapshot, folderErrs map[string]error) (*changeset.ResourceChangeSet, []byte, *groups.Snapshot, error) {
	res, err := e.store.LoadResource(ctx, item.ResourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err, ok := folderErrs[res.FolderID]; ok {
		return nil, nil, nil, err
	}
	current, err := e.store.LoadPermissions(ctx, item.ResourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	holders, err := e.store.ListSecretHolders(ctx, item.ResourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	if holders == nil {
		holders = []string{}
	}
	desired, err := item.desire(res, current)
	if err != nil {
		return nil, nil, nil, err
	}
	members, err := e.extend(ctx, snapshot, union(current.GroupIDs(), desired.GroupIDs()))
	if err != nil {
		return nil, nil, nil, err
	}

	cs, err := changeset.Compute(changeset.Input{
		ResourceID: item.ResourceID,
		Current:    current,
		Desired:    desired,
		Holders:    holders,
		Rekey:      plan.Rekey,
		RekeyAll:   plan.RekeyAll,
	}, members)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(cs.AddedReaders) == 0 && len(cs.Rekeyed) == 0 {
		return cs, nil, members, nil
	}
	actorSecret, err := e.store.LoadSecret(ctx, item.ResourceID, e.actorID)
	if err != nil {
		if errors.Is(err, kerrors.ErrSecretNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: resource %s", kerrors.ErrNoSecretForActor, item.ResourceID)
		}
		return nil, nil, nil, err
	}
	return cs, actorSecret, members, nil
}

// extend adds to the batch snapshot the groups a resource's ACL names at
// execution time but the plan's preview never saw, such as a group granted
// by an operation that ran while this one waited for the resource lock.
func (e *Engine) extend(ctx context.Context, snapshot *groups.Snapshot, groupIDs []string) (*groups.Snapshot, error) {
	missing := snapshot.Missing(groupIDs)
	if len(missing) == 0 {
		return snapshot, nil
	}
	extra, err := e.members.Snapshot(ctx, missing)
	if err != nil {
		return nil, err
	}
	e.opts.Logger.Debugf("Resolved %d group(s) missing from the batch snapshot", len(missing))
	return snapshot.Extend(extra), nil
}

// persistFolders writes folder-scoped changes to each folder's own ACL, once
// per batch and before any resource. The returned map holds the folders that
// could not be updated; resources in them fail.
func (e *Engine) persistFolders(ctx context.Context, plan *BatchPlan) map[string]error {
	failed := make(map[string]error)
	for _, folderID := range changeset.FolderIDs(plan.Changes) {
		if err := e.persistFolder(ctx, folderID, plan.Changes); err != nil {
			e.opts.Logger.Warnf("Folder %s not updated: %v", folderID, err)
			failed[folderID] = err
		}
	}
	return failed
}

func (e *Engine) persistFolder(ctx context.Context, folderID string, changes []acl.Change) error {
	unlock, err := e.locks.Lock(ctx, "folder:"+folderID)
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrCancelled, err)
	}
	defer unlock()

	current, err := e.store.LoadFolderPermissions(ctx, folderID)
	if err != nil {
		return err
	}
	next, err := changeset.ApplyFolderChanges(folderID, current, changes)
	if err != nil {
		return err
	}
	if next.Equal(current) {
		return nil
	}
	if len(current.Owners()) > 0 && len(next.Owners()) == 0 {
		return fmt.Errorf("%w: folder %s", kerrors.ErrLastOwnerRemoval, folderID)
	}
	if err := e.store.PersistFolderPermissionChanges(ctx, folderID, changes); err != nil {
		return fmt.Errorf("failed to persist permissions of folder %s: %w", folderID, err)
	}
	return nil
}

// persist writes permissions before secrets so that a reader never holds a
// secret for a resource they have no permission on.
func (e *Engine) persist(ctx context.Context, item *PlannedItem, cs *changeset.ResourceChangeSet, ops []secrets.SecretOp) error {
	if cs.PermissionsChanged() {
		if err := e.store.PersistPermissionChanges(ctx, item.ResourceID, cs.PermissionChanges()); err != nil {
			return fmt.Errorf("failed to persist permissions of %s: %w", item.ResourceID, err)
		}
	}
	if len(ops) > 0 {
		if err := e.store.PersistSecrets(ctx, item.ResourceID, ops); err != nil {
			return fmt.Errorf("failed to persist secrets of %s: %w", item.ResourceID, err)
		}
	}
	if item.folderID != nil {
		if err := e.store.SetResourceFolder(ctx, item.ResourceID, *item.folderID); err != nil {
			return fmt.Errorf("failed to move %s: %w", item.ResourceID, err)
		}
	}
	return nil
}

func (e *Engine) transition(out *ItemResult, state State) {
	out.State = state
	e.opts.Logger.Debugf("Resource %s: %s", out.ResourceID, state)
	if e.opts.Progress != nil {
		e.opts.Progress(out.ResourceID, state)
	}
}

func (e *Engine) finish(out *ItemResult, state State, err error) {
	out.Err = err
	e.transition(out, state)
	metrics.ResourceFinished(state.String())
	if state == StateFailed {
		e.opts.Logger.Warnf("Resource %s failed: %v", out.ResourceID, err)
	}
}
