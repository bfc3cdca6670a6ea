package changeset

import (
	"slices"

	"github.com/PolarWolf314/aclsync/internal/acl"
)

// Applies reports whether a change targets the resource, directly or through its folder.
func Applies(res acl.Resource, c acl.Change) bool {
	switch c.Aco {
	case acl.AcoResource:
		return c.AcoID == res.ID
	case acl.AcoFolder:
		return res.FolderID != "" && c.AcoID == res.FolderID
	default:
		return false
	}
}

// ApplyChanges returns current with every applicable change applied in order.
// Non-delete changes set the subject's level whether or not it already has one;
// deleting an absent subject is a no-op.
func ApplyChanges(res acl.Resource, current acl.Collection, changes []acl.Change) (acl.Collection, error) {
	out := current
	for _, c := range changes {
		if !Applies(res, c) {
			continue
		}
		next, err := apply(out, acl.AcoResource, res.ID, c)
		if err != nil {
			return acl.Collection{}, err
		}
		out = next
	}
	return out, nil
}

// ApplyFolderChanges applies the changes aimed at folderID to the folder's own ACL.
func ApplyFolderChanges(folderID string, current acl.Collection, changes []acl.Change) (acl.Collection, error) {
	out := current
	for _, c := range changes {
		if c.Aco != acl.AcoFolder || c.AcoID != folderID {
			continue
		}
		next, err := apply(out, acl.AcoFolder, folderID, c)
		if err != nil {
			return acl.Collection{}, err
		}
		out = next
	}
	return out, nil
}

// FolderIDs returns the folders targeted by changes, in order of first appearance.
func FolderIDs(changes []acl.Change) []string {
	var out []string
	for _, c := range changes {
		if c.Aco == acl.AcoFolder && !slices.Contains(out, c.AcoID) {
			out = append(out, c.AcoID)
		}
	}
	return out
}

func apply(c acl.Collection, aco acl.Aco, acoID string, change acl.Change) (acl.Collection, error) {
	if err := change.Validate(); err != nil {
		return acl.Collection{}, err
	}
	if change.Delete {
		return c.Without(change.Subject()), nil
	}
	p, err := acl.NewPermission(aco, acoID, change.Aro, change.AroID, change.Level)
	if err != nil {
		return acl.Collection{}, err
	}
	return c.With(p), nil
}

// MoveToFolder returns the ACL of a resource after it moves from the source
// folder to the destination folder. Entries matching a source folder
// permission (same subject and level) are treated as inherited and dropped
// unless the destination also grants the subject. Destination permissions are
// then added; a subject already present keeps the higher level.
// source is empty for a resource at the root.
func MoveToFolder(resourceID string, current, source, destination acl.Collection) acl.Collection {
	out := current
	for _, p := range source.Permissions() {
		s := p.Subject()
		cur, ok := current.Get(s)
		if !ok || cur.Level() != p.Level() {
			continue
		}
		if _, kept := destination.Get(s); !kept {
			out = out.Without(s)
		}
	}
	for _, p := range destination.Permissions() {
		rp := p.ForObject(acl.AcoResource, resourceID)
		if cur, ok := out.Get(rp.Subject()); !ok || rp.Level() > cur.Level() {
			out = out.With(rp)
		}
	}
	return out
}
