// Package validator checks that the users holding a secret for a resource are
// exactly the effective readers implied by its ACL.
//
// A mismatch is reported as *errors.ReaderSecretMismatchError and never
// corrected here: missing secrets deny access to legitimate readers and extra
// secrets may leak the plaintext to users who lost access.
package validator

import (
	"context"
	"fmt"
	"sort"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/groups"
)

// Source reads the persisted state of a resource.
type Source interface {
	LoadPermissions(ctx context.Context, resourceID string) (acl.Collection, error)
	ListSecretHolders(ctx context.Context, resourceID string) ([]string, error)
}

// Refresher fetches current group membership. *groups.Resolver implements it.
type Refresher interface {
	Refresh(ctx context.Context, groupIDs []string) (*groups.Snapshot, error)
}

type Validator struct {
	src    Source
	groups Refresher
}

func New(src Source, groups Refresher) *Validator {
	return &Validator{src: src, groups: groups}
}

// Validate re-reads the ACL and the membership of its groups and compares the
// effective readers with the secret holders.
func (v *Validator) Validate(ctx context.Context, resourceID string) error {
	perms, err := v.src.LoadPermissions(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to load permissions of %s: %w", resourceID, err)
	}
	snapshot, err := v.groups.Refresh(ctx, perms.GroupIDs())
	if err != nil {
		return fmt.Errorf("failed to refresh groups of %s: %w", resourceID, err)
	}
	return v.compareWith(ctx, resourceID, perms, snapshot)
}

// ValidateWith is Validate using a membership snapshot the caller already holds.
func (v *Validator) ValidateWith(ctx context.Context, resourceID string, members changeset.MemberLookup) error {
	perms, err := v.src.LoadPermissions(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to load permissions of %s: %w", resourceID, err)
	}
	return v.compareWith(ctx, resourceID, perms, members)
}

func (v *Validator) compareWith(ctx context.Context, resourceID string, perms acl.Collection, members changeset.MemberLookup) error {
	readers, err := changeset.EffectiveReaders(perms, members)
	if err != nil {
		return fmt.Errorf("failed to expand readers of %s: %w", resourceID, err)
	}
	holders, err := v.src.ListSecretHolders(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to list secrets of %s: %w", resourceID, err)
	}
	return Compare(resourceID, readers, holders)
}

// Compare returns a *errors.ReaderSecretMismatchError when holders and
// readers differ, or nil.
func Compare(resourceID string, readers changeset.ReaderSet, holders []string) error {
	held := changeset.NewReaderSet(holders...)
	missing := readers.Minus(held)
	extra := held.Minus(readers)
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &kerrors.ReaderSecretMismatchError{ResourceID: resourceID, Missing: missing, Extra: extra}
}
