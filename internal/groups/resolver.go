package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/errgroup"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
)

const defaultMaxGroups = 1024

type ResolverOptions struct {
	// MaxGroups bounds the number of cached member lists. Zero uses the default.
	MaxGroups int64

	// Concurrency bounds parallel directory lookups in Refresh. Zero means 8.
	Concurrency int

	Logger logger.Logger
}

// Resolver reads group membership through a cache.
type Resolver struct {
	dir   Directory
	cache *ristretto.Cache
	opts  ResolverOptions
}

func NewResolver(dir Directory, opts ResolverOptions) (*Resolver, error) {
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = defaultMaxGroups
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.MaxGroups * 10,
		MaxCost:     opts.MaxGroups,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group cache: %w", err)
	}
	return &Resolver{dir: dir, cache: cache, opts: opts}, nil
}

// Members returns the members of a group, reading the directory on a cache miss.
func (r *Resolver) Members(ctx context.Context, groupID string) ([]string, error) {
	if v, ok := r.cache.Get(groupID); ok {
		users := v.([]string)
		out := make([]string, len(users))
		copy(out, users)
		return out, nil
	}
	return r.fetch(ctx, groupID)
}

// Refresh reads every group from the directory, bypassing the cache, and
// returns the result as a snapshot. A missing group fails the refresh.
func (r *Resolver) Refresh(ctx context.Context, groupIDs []string) (*Snapshot, error) {
	members := make(map[string][]string, len(groupIDs))
	results := make([][]string, len(groupIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, id := range groupIDs {
		i, id := i, id
		g.Go(func() error {
			users, err := r.fetch(gctx, id)
			if err != nil {
				return err
			}
			results[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range groupIDs {
		members[id] = results[i]
	}
	r.opts.Logger.Debugf("Refreshed membership of %d group(s)", len(groupIDs))
	return NewSnapshot(members), nil
}

// Snapshot reads every group from the directory like Refresh, but a group
// that cannot be read does not fail the snapshot: asking the snapshot for
// that group returns the error instead. Only a cancelled ctx fails the call.
func (r *Resolver) Snapshot(ctx context.Context, groupIDs []string) (*Snapshot, error) {
	results := make([][]string, len(groupIDs))
	errs := make([]error, len(groupIDs))

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for i, id := range groupIDs {
		i, id := i, id
		g.Go(func() error {
			results[i], errs[i] = r.fetch(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := make(map[string][]string, len(groupIDs))
	failed := make(map[string]error)
	for i, id := range groupIDs {
		if errs[i] != nil {
			r.opts.Logger.Warnf("Could not resolve group %s: %v", id, errs[i])
			failed[id] = errs[i]
			continue
		}
		members[id] = results[i]
	}
	s := NewSnapshot(members)
	s.failed = failed
	return s, nil
}

// Invalidate drops a cached member list. Call it on membership-change events.
func (r *Resolver) Invalidate(groupID string) {
	r.cache.Del(groupID)
}

func (r *Resolver) Close() {
	r.cache.Close()
}

func (r *Resolver) fetch(ctx context.Context, groupID string) ([]string, error) {
	users, err := r.dir.ListMembers(ctx, groupID)
	if err != nil {
		if errors.Is(err, kerrors.ErrGroupNotFound) {
			r.cache.Del(groupID)
			return nil, err
		}
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}
	users = normalize(users)
	r.cache.Set(groupID, users, 1)
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory map[string][]string

func (d StaticDirectory) ListMembers(_ context.Context, groupID string) ([]string, error) {
	users, ok := d[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, groupID)
	}
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}
