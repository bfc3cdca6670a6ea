// Package changeset computes what a sharing operation changes on a resource.
//
// Compute diffs the current ACL against the desired one and derives the
// effective-reader delta: the users who must receive a new encrypted copy of
// the secret and the users whose copy must be deleted. The reader delta is
// taken against the users that actually hold a secret when that list is
// known, so membership changes made since the last sharing operation are
// reconciled too, and a repeated request produces an empty change-set.
//
// ApplyChanges and MoveToFolder turn wire instructions and folder moves into
// the desired collection that Compute expects.
package changeset
