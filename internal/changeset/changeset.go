package changeset

import (
	"fmt"

	"github.com/PolarWolf314/aclsync/internal/acl"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

// Input describes one resource's transition.
type Input struct {
	ResourceID string
	Current    acl.Collection
	Desired    acl.Collection

	// Holders are the users currently holding a secret for the resource.
	// When nil, the holders are assumed to be the readers of Current.
	Holders []string

	// Rekey lists users whose key was rotated. Their existing secret is replaced.
	Rekey []string

	// RekeyAll replaces every existing secret of the resource.
	RekeyAll bool
}

// ResourceChangeSet is the outcome of Compute.
type ResourceChangeSet struct {
	ResourceID string

	AddedSubjects   []acl.Subject
	RemovedSubjects []acl.Subject
	LevelChanges    []acl.LevelChange

	AddedReaders   []string
	RemovedReaders []string

	// Rekeyed readers keep access but get a freshly encrypted secret.
	Rekeyed []string

	// Readers is the effective reader set implied by Desired.
	Readers []string

	Current acl.Collection
	Desired acl.Collection
}

// PermissionsChanged reports whether the ACL itself changes.
func (cs *ResourceChangeSet) PermissionsChanged() bool {
	return len(cs.AddedSubjects) > 0 || len(cs.RemovedSubjects) > 0 || len(cs.LevelChanges) > 0
}

// SecretsChanged reports whether any secret must be created or deleted.
func (cs *ResourceChangeSet) SecretsChanged() bool {
	return len(cs.AddedReaders) > 0 || len(cs.RemovedReaders) > 0 || len(cs.Rekeyed) > 0
}

func (cs *ResourceChangeSet) Empty() bool {
	return !cs.PermissionsChanged() && !cs.SecretsChanged()
}

// PermissionChanges returns the instructions that turn Current into Desired.
func (cs *ResourceChangeSet) PermissionChanges() []acl.Change {
	return Diff(cs.Current, cs.Desired)
}

// Compute diffs in.Current against in.Desired. Group subjects of both
// collections are expanded with members, which should come from a single
// snapshot for the whole batch.
func Compute(in Input, members MemberLookup) (*ResourceChangeSet, error) {
	cs := &ResourceChangeSet{
		ResourceID:      in.ResourceID,
		AddedSubjects:   acl.Difference(in.Desired, in.Current).Subjects(),
		RemovedSubjects: acl.Difference(in.Current, in.Desired).Subjects(),
		LevelChanges:    acl.ChangedLevel(in.Current, in.Desired),
		Current:         in.Current,
		Desired:         in.Desired,
	}

	if cs.PermissionsChanged() && len(in.Desired.Owners()) == 0 {
		return nil, fmt.Errorf("%w: resource %s", kerrors.ErrLastOwnerRemoval, in.ResourceID)
	}

	desired, err := EffectiveReaders(in.Desired, members)
	if err != nil {
		return nil, fmt.Errorf("failed to expand desired readers of %s: %w", in.ResourceID, err)
	}

	var held ReaderSet
	if in.Holders != nil {
		held = NewReaderSet(in.Holders...)
	} else if held, err = EffectiveReaders(in.Current, members); err != nil {
		return nil, fmt.Errorf("failed to expand current readers of %s: %w", in.ResourceID, err)
	}

	cs.Readers = desired.Sorted()
	cs.AddedReaders = desired.Minus(held)
	cs.RemovedReaders = held.Minus(desired)

	keep := make(ReaderSet)
	for id := range desired {
		if held.Has(id) {
			keep[id] = struct{}{}
		}
	}
	if in.RekeyAll {
		cs.Rekeyed = keep.Sorted()
	} else if len(in.Rekey) > 0 {
		rekey := make(ReaderSet)
		for _, id := range in.Rekey {
			if keep.Has(id) {
				rekey[id] = struct{}{}
			}
		}
		cs.Rekeyed = rekey.Sorted()
	}

	return cs, nil
}

// Diff returns the instructions turning current into desired: creations for
// new subjects, updates for level changes and deletions for removed subjects.
func Diff(current, desired acl.Collection) []acl.Change {
	var changes []acl.Change
	for _, p := range acl.Difference(desired, current).Permissions() {
		changes = append(changes, changeFor(p, true))
	}
	for _, lc := range acl.ChangedLevel(current, desired) {
		p, _ := desired.Get(lc.Subject)
		changes = append(changes, changeFor(p, false))
	}
	for _, p := range acl.Difference(current, desired).Permissions() {
		c := changeFor(p, false)
		c.Level = 0
		c.Delete = true
		changes = append(changes, c)
	}
	return changes
}

func changeFor(p acl.Permission, isNew bool) acl.Change {
	s := p.Subject()
	return acl.Change{
		Aco:   p.Aco(),
		AcoID: p.AcoID(),
		Aro:   s.Aro,
		AroID: s.ID,
		Level: p.Level(),
		IsNew: isNew,
	}
}
