package workflows

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/audit"
	"github.com/PolarWolf314/aclsync/internal/orchestrator"
)

// BatchOutcome is a planned batch and, unless it was a dry run, its result.
type BatchOutcome struct {
	Plan   *orchestrator.BatchPlan
	Result *orchestrator.BatchResult
	DryRun bool
}

// ShareOptions configures the share workflow.
type ShareOptions struct {
	ResourceIDs []string
	Changes     []acl.Change

	// DryRun computes the preview without persisting anything.
	DryRun bool
}

// Share applies permission changes to a batch of resources and re-encrypts
// their secrets for the resulting readers.
//
// Returns ErrMalformedPermission or ErrMalformedChange if the request is
// invalid. Per-resource failures are reported in the result.
func Share(ctx context.Context, env *Env, opts ShareOptions) (*BatchOutcome, error) {
	entry := audit.LogWithActor("share", env.ActorID())
	plan, err := env.Engine.PlanShare(ctx, opts.ResourceIDs, opts.Changes)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, env, plan, opts.DryRun, entry)
}

// MoveOptions configures the move workflow.
type MoveOptions struct {
	ResourceIDs []string

	// FolderID is the destination. Empty moves the resources to the root.
	FolderID string
	DryRun   bool
}

// Move moves resources into a folder. Permissions inherited from the source
// folder are dropped and the destination folder's permissions are added.
func Move(ctx context.Context, env *Env, opts MoveOptions) (*BatchOutcome, error) {
	entry := audit.LogWithActor("move", env.ActorID())
	entry.Folder = opts.FolderID
	plan, err := env.Engine.PlanMove(ctx, opts.ResourceIDs, opts.FolderID)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, env, plan, opts.DryRun, entry)
}

// RotateOptions configures the rotate workflow.
type RotateOptions struct {
	// UserIDs are the users whose key changed.
	UserIDs []string

	// ResourceIDs limits the rotation. Empty means every resource one of the
	// users holds a secret for.
	ResourceIDs []string

	// All replaces every reader's secret of the included resources.
	All    bool
	DryRun bool
}

// Rotate re-encrypts secrets for users whose public key changed.
func Rotate(ctx context.Context, env *Env, opts RotateOptions) (*BatchOutcome, error) {
	entry := audit.LogWithActor("rotate", env.ActorID())
	entry.TargetUsers = opts.UserIDs
	plan, err := env.Engine.PlanRotation(ctx, opts.UserIDs, opts.ResourceIDs, opts.All)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, env, plan, opts.DryRun, entry)
}

// SyncOptions configures the sync workflow.
type SyncOptions struct {
	// ResourceIDs limits the sync. Empty means every resource.
	ResourceIDs []string
	DryRun      bool
}

// Sync brings secrets in line with the current permissions and group
// membership without changing any permission.
func Sync(ctx context.Context, env *Env, opts SyncOptions) (*BatchOutcome, error) {
	entry := audit.LogWithActor("sync", env.ActorID())
	plan, err := env.Engine.PlanSync(ctx, opts.ResourceIDs)
	if err != nil {
		return nil, err
	}
	return runBatch(ctx, env, plan, opts.DryRun, entry)
}

func runBatch(ctx context.Context, env *Env, plan *orchestrator.BatchPlan, dryRun bool, entry audit.Entry) (*BatchOutcome, error) {
	entry.BatchID = plan.ID
	for _, item := range plan.Items {
		entry.Resources = append(entry.Resources, item.ResourceID)
	}

	if dryRun {
		env.Logger.Debugf("Dry run of batch %s: %d resource(s), %d failed to plan", plan.ID, len(plan.Items), len(plan.Failed()))
		entry.DryRun = true
		entry.Failed = len(plan.Failed())
		audit.Log(entry)
		return &BatchOutcome{Plan: plan, DryRun: true}, nil
	}

	result, err := env.Engine.ExecuteShare(ctx, plan)
	if err != nil {
		entry.Error = err.Error()
		audit.Log(entry)
		return nil, fmt.Errorf("failed to execute batch %s: %w", plan.ID, err)
	}

	counts := result.Counts()
	entry.Validated = counts[orchestrator.StateValidated]
	entry.Failed = counts[orchestrator.StateFailed]
	entry.Cancelled = counts[orchestrator.StateCancelled]
	entry.Created, entry.Deleted = result.Totals()
	if err := result.Err(); err != nil {
		entry.Error = err.Error()
	}
	audit.Log(entry)

	env.Logger.Debugf("Batch %s: %d validated, %d failed, %d cancelled", plan.ID, entry.Validated, entry.Failed, entry.Cancelled)
	return &BatchOutcome{Plan: plan, Result: result}, nil
}
