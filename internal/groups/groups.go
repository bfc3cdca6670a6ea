// Package groups resolves group subjects to their member users.
//
// Every batch works from a Snapshot taken once, so all resources in the batch
// see the same membership. Resolver keeps a bounded cache of member lists in
// front of a Directory; the cache only speeds up previews and is refreshed
// before anything is persisted.
package groups

import (
	"context"
	"fmt"
	"slices"
	"sort"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Directory lists the users belonging to a group.
type Directory interface {
	ListMembers(ctx context.Context, groupID string) ([]string, error)
}

// Snapshot is an immutable view of group membership.
type Snapshot struct {
	members map[string][]string

	// failed records groups that could not be resolved when the snapshot was taken.
	failed map[string]error
}

// NewSnapshot copies members into a snapshot.
func NewSnapshot(members map[string][]string) *Snapshot {
	s := &Snapshot{members: make(map[string][]string, len(members))}
	for id, users := range members {
		s.members[id] = normalize(users)
	}
	return s
}

// Members returns a copy of the members of a group.
func (s *Snapshot) Members(groupID string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, groupID)
	}
	if err, ok := s.failed[groupID]; ok {
		return nil, err
	}
	users, ok := s.members[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrGroupNotFound, groupID)
	}
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}

// Has reports whether the snapshot knows the group.
func (s *Snapshot) Has(groupID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[groupID]
	return ok
}

// Missing returns the ids in groupIDs the snapshot neither resolved nor
// failed to resolve.
func (s *Snapshot) Missing(groupIDs []string) []string {
	var out []string
	for _, id := range groupIDs {
		if s != nil {
			if _, ok := s.members[id]; ok {
				continue
			}
			if _, ok := s.failed[id]; ok {
				continue
			}
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Extend returns a new snapshot holding the groups of both. Groups already in
// s keep their membership.
func (s *Snapshot) Extend(other *Snapshot) *Snapshot {
	out := &Snapshot{members: make(map[string][]string), failed: make(map[string]error)}
	for _, src := range []*Snapshot{other, s} {
		if src == nil {
			continue
		}
		for id, users := range src.members {
			out.members[id] = users
			delete(out.failed, id)
		}
		for id, err := range src.failed {
			out.failed[id] = err
			delete(out.members, id)
		}
	}
	return out
}

// Groups returns the ids of every group in the snapshot.
func (s *Snapshot) Groups() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalize(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
