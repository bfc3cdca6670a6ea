package workflows

import (
	"context"
	"fmt"
	"sort"

	"github.com/PolarWolf314/aclsync/internal/acl"
)

const (
	// StatusActive is a reader holding a secret.
	StatusActive = "active"
	// StatusMissing is a reader without a secret.
	StatusMissing = "missing"
	// StatusOrphan is a secret holder who is no longer a reader.
	StatusOrphan = "orphan"
)

// ReaderStatus describes one user's access to a resource.
type ReaderStatus struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`

	// Via lists the subjects granting access: "direct" or a group id.
	Via []string `json:"via,omitempty"`
}

// PermissionInfo is a permission in display form.
type PermissionInfo struct {
	Aro   string `json:"aro"`
	AroID string `json:"aro_id"`
	Level string `json:"level"`
}

// AccessResult contains who can read a resource and who holds its secret.
type AccessResult struct {
	Resource    acl.Resource     `json:"resource"`
	Permissions []PermissionInfo `json:"permissions"`
	Readers     []ReaderStatus   `json:"readers"`

	// GroupErrors holds groups whose membership could not be read.
	GroupErrors map[string]string `json:"group_errors,omitempty"`
}

// Access reports the permissions of a resource and the secret status of
// every effective reader and secret holder.
//
// Returns ErrResourceNotFound if the resource does not exist.
func Access(ctx context.Context, env *Env, resourceID string) (*AccessResult, error) {
	if err := acl.ValidateID("resource", resourceID); err != nil {
		return nil, err
	}
	res, err := env.Store.LoadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	perms, err := env.Store.LoadPermissions(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions of %s: %w", resourceID, err)
	}
	holders, err := env.Store.ListSecretHolders(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets of %s: %w", resourceID, err)
	}
	snapshot, err := env.Resolver.Snapshot(ctx, perms.GroupIDs())
	if err != nil {
		return nil, err
	}

	result := &AccessResult{Resource: res}
	via := make(map[string][]string)
	for _, p := range perms.Permissions() {
		s := p.Subject()
		result.Permissions = append(result.Permissions, PermissionInfo{
			Aro:   s.Aro.String(),
			AroID: s.ID,
			Level: p.Level().String(),
		})
		if s.Aro == acl.AroUser {
			via[s.ID] = append(via[s.ID], "direct")
			continue
		}
		members, err := snapshot.Members(s.ID)
		if err != nil {
			if result.GroupErrors == nil {
				result.GroupErrors = make(map[string]string)
			}
			result.GroupErrors[s.ID] = err.Error()
			continue
		}
		for _, m := range members {
			via[m] = append(via[m], s.ID)
		}
	}

	held := make(map[string]bool, len(holders))
	for _, h := range holders {
		held[h] = true
	}
	for user, sources := range via {
		status := StatusMissing
		if held[user] {
			status = StatusActive
		}
		result.Readers = append(result.Readers, ReaderStatus{UserID: user, Status: status, Via: sources})
	}
	for _, h := range holders {
		if _, ok := via[h]; !ok {
			result.Readers = append(result.Readers, ReaderStatus{UserID: h, Status: StatusOrphan})
		}
	}
	sort.Slice(result.Readers, func(i, j int) bool {
		return result.Readers[i].UserID < result.Readers[j].UserID
	})
	return result, nil
}
