package validator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/groups"
)

const (
	res1   = "8e3874ae-4b40-590b-968a-418f704b9d9a"
	res2   = "3ed65efe-5fc7-5f1a-b6ad-a3b1fbe13cf8"
	userA  = "f848277c-5398-58f8-a82a-72397af2d450"
	userB  = "e97b14ba-8957-57c9-a357-f78a6e1e1a46"
	userC  = "0da907bd-5c57-5acc-ba39-c6ebe091f613"
	groupG = "c9c8fd8e-a0fa-53f0-967b-42edca3d91e4"
)

type stubSource struct {
	perms   map[string]acl.Collection
	holders map[string][]string
	loadErr error
}

func (s *stubSource) LoadPermissions(_ context.Context, id string) (acl.Collection, error) {
	if s.loadErr != nil {
		return acl.Collection{}, s.loadErr
	}
	return s.perms[id], nil
}

func (s *stubSource) ListSecretHolders(_ context.Context, id string) ([]string, error) {
	return s.holders[id], nil
}

func (s *stubSource) ListResourceIDs(context.Context) ([]string, error) {
	return []string{res1, res2}, nil
}

func newValidator(t *testing.T, src Source, dir groups.StaticDirectory) *Validator {
	t.Helper()
	r, err := groups.NewResolver(dir, groups.ResolverOptions{})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return New(src, r)
}

func TestCompare(t *testing.T) {
	readers := changeset.NewReaderSet(userA, userB)

	assert.NoError(t, Compare(res1, readers, []string{userB, userA}))

	err := Compare(res1, readers, []string{userA, userC})
	require.ErrorIs(t, err, kerrors.ErrReaderSecretMismatch)
	var mismatch *kerrors.ReaderSecretMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, res1, mismatch.ResourceID)
	assert.Equal(t, []string{userB}, mismatch.Missing)
	assert.Equal(t, []string{userC}, mismatch.Extra)
}

func TestValidateUsesCurrentMembership(t *testing.T) {
	src := &stubSource{
		perms: map[string]acl.Collection{
			res1: acl.MustCollection(
				acl.MustPermission(acl.AcoResource, res1, acl.AroUser, userA, acl.LevelOwner),
				acl.MustPermission(acl.AcoResource, res1, acl.AroGroup, groupG, acl.LevelRead),
			),
		},
		holders: map[string][]string{res1: {userA, userB, userC}},
	}
	dir := groups.StaticDirectory{groupG: {userB, userC}}
	v := newValidator(t, src, dir)

	require.NoError(t, v.Validate(context.Background(), res1))

	// C leaves the group: the secret C still holds is now a leak.
	dir[groupG] = []string{userB}
	err := v.Validate(context.Background(), res1)
	var mismatch *kerrors.ReaderSecretMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{userC}, mismatch.Extra)
	assert.Empty(t, mismatch.Missing)
}

func TestValidateUnknownGroup(t *testing.T) {
	src := &stubSource{perms: map[string]acl.Collection{
		res1: acl.MustCollection(acl.MustPermission(acl.AcoResource, res1, acl.AroGroup, groupG, acl.LevelOwner)),
	}}
	v := newValidator(t, src, groups.StaticDirectory{})
	err := v.Validate(context.Background(), res1)
	assert.ErrorIs(t, err, kerrors.ErrGroupNotFound)
}

func TestValidateWithSnapshot(t *testing.T) {
	src := &stubSource{
		perms: map[string]acl.Collection{
			res1: acl.MustCollection(acl.MustPermission(acl.AcoResource, res1, acl.AroGroup, groupG, acl.LevelOwner)),
		},
		holders: map[string][]string{res1: {userA}},
	}
	v := newValidator(t, src, groups.StaticDirectory{})
	err := v.ValidateWith(context.Background(), res1, groups.NewSnapshot(map[string][]string{groupG: {userA}}))
	assert.NoError(t, err)
}

func TestSweepOnce(t *testing.T) {
	src := &stubSource{
		perms: map[string]acl.Collection{
			res1: acl.MustCollection(acl.MustPermission(acl.AcoResource, res1, acl.AroUser, userA, acl.LevelOwner)),
			res2: acl.MustCollection(acl.MustPermission(acl.AcoResource, res2, acl.AroUser, userA, acl.LevelOwner)),
		},
		holders: map[string][]string{
			res1: {userA},
			res2: {userA, userB},
		},
	}
	v := newValidator(t, src, groups.StaticDirectory{})

	var alarms []string
	s := NewSweeper(v, src, SweepOptions{
		OnMismatch: func(m *kerrors.ReaderSecretMismatchError) { alarms = append(alarms, m.ResourceID) },
	})
	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, res2, report.Mismatches[0].ResourceID)
	assert.Equal(t, []string{res2}, alarms)
	assert.False(t, report.Clean())
}

func TestSweepOnceRecordsErrors(t *testing.T) {
	src := &stubSource{loadErr: kerrors.ErrResourceNotFound}
	v := newValidator(t, src, groups.StaticDirectory{})
	report, err := NewSweeper(v, src, SweepOptions{}).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Errors, 2)
	assert.ErrorIs(t, report.Errors[res1], kerrors.ErrResourceNotFound)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &stubSource{
		perms: map[string]acl.Collection{
			res1: acl.MustCollection(acl.MustPermission(acl.AcoResource, res1, acl.AroUser, userA, acl.LevelOwner)),
			res2: acl.MustCollection(acl.MustPermission(acl.AcoResource, res2, acl.AroUser, userA, acl.LevelOwner)),
		},
		holders: map[string][]string{res1: {userA}, res2: {userA}},
	}
	v := newValidator(t, src, groups.StaticDirectory{})

	ctx, cancel := context.WithCancel(context.Background())
	var sweeps atomic.Int32
	s := NewSweeper(v, src, SweepOptions{
		Interval: 10 * time.Millisecond,
		OnSweep: func(SweepReport) {
			if sweeps.Add(1) == 2 {
				cancel()
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.GreaterOrEqual(t, sweeps.Load(), int32(2))
}
