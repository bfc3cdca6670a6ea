package acl

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

const (
	resID   = "8e3874ae-4b40-590b-968a-418f704b9d9a"
	alice   = "f848277c-5398-58f8-a82a-72397af2d450"
	bob     = "e97b14ba-8957-57c9-a357-f78a6e1e1a46"
	carol   = "0da907bd-5c57-5acc-ba39-c6ebe091f613"
	groupID = "c9c8fd8e-a0fa-53f0-967b-42edca3d91e4"
)

func TestLevelAllows(t *testing.T) {
	tests := []struct {
		have, want Level
		ok         bool
	}{
		{LevelOwner, LevelRead, true},
		{LevelOwner, LevelUpdate, true},
		{LevelOwner, LevelOwner, true},
		{LevelUpdate, LevelRead, true},
		{LevelUpdate, LevelOwner, false},
		{LevelRead, LevelUpdate, false},
		{LevelRead, LevelRead, true},
		{Level(3), LevelRead, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.have.Allows(tt.want), "%s allows %s", tt.have, tt.want)
	}
}

func TestNewPermissionValidation(t *testing.T) {
	tests := []struct {
		name  string
		aco   Aco
		acoID string
		aro   Aro
		aroID string
		level Level
		field string
	}{
		{"bad aco", Aco(9), resID, AroUser, alice, LevelRead, "aco"},
		{"bad aro", AcoResource, resID, Aro(0), alice, LevelRead, "aro"},
		{"bad resource id", AcoResource, "not-a-uuid", AroUser, alice, LevelRead, "aco_foreign_key"},
		{"bad user id", AcoResource, resID, AroUser, "", LevelRead, "aro_foreign_key"},
		{"bad level", AcoResource, resID, AroUser, alice, Level(2), "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPermission(tt.aco, tt.acoID, tt.aro, tt.aroID, tt.level)
			require.Error(t, err)
			assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
			var mpe *kerrors.MalformedPermissionError
			require.True(t, errors.As(err, &mpe))
			assert.Equal(t, tt.field, mpe.Field)
		})
	}

	p, err := NewPermission(AcoResource, resID, AroUser, alice, LevelOwner)
	require.NoError(t, err)
	assert.Equal(t, User(alice), p.Subject())
	assert.True(t, p.Allows(LevelUpdate))
}

func TestNewCollectionRejectsDuplicates(t *testing.T) {
	_, err := NewCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelOwner),
		MustPermission(AcoResource, resID, AroUser, alice, LevelRead),
	)
	assert.ErrorIs(t, err, kerrors.ErrDuplicateSubject)
}

func TestNewCollectionRejectsMixedObjects(t *testing.T) {
	_, err := NewCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelOwner),
		MustPermission(AcoResource, carol, AroUser, bob, LevelRead),
	)
	assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
}

func TestUnionKeepsHigherLevel(t *testing.T) {
	a := MustCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelRead),
		MustPermission(AcoResource, resID, AroUser, bob, LevelOwner),
	)
	b := MustCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelUpdate),
		MustPermission(AcoResource, resID, AroGroup, groupID, LevelRead),
	)

	u := Union(a, b)
	assert.Equal(t, 3, u.Len())
	p, ok := BySubject(u, AroUser, alice)
	require.True(t, ok)
	assert.Equal(t, LevelUpdate, p.Level())

	// Inputs are untouched.
	p, _ = a.Get(User(alice))
	assert.Equal(t, LevelRead, p.Level())
	assert.Equal(t, 2, b.Len())
}

func TestDifferenceIgnoresLevels(t *testing.T) {
	a := MustCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelRead),
		MustPermission(AcoResource, resID, AroUser, bob, LevelOwner),
	)
	b := MustCollection(MustPermission(AcoResource, resID, AroUser, alice, LevelOwner))

	d := Difference(a, b)
	assert.Equal(t, []Subject{User(bob)}, d.Subjects())
	assert.Equal(t, 0, Difference(b, a).Len())
}

func TestChangedLevel(t *testing.T) {
	a := MustCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelOwner),
		MustPermission(AcoResource, resID, AroUser, bob, LevelRead),
	)
	b := MustCollection(
		MustPermission(AcoResource, resID, AroUser, alice, LevelRead),
		MustPermission(AcoResource, resID, AroUser, bob, LevelRead),
		MustPermission(AcoResource, resID, AroUser, carol, LevelRead),
	)

	changes := ChangedLevel(a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, LevelChange{Subject: User(alice), From: LevelOwner, To: LevelRead}, changes[0])
	assert.True(t, changes[0].Demotes())
}

func TestWithWithout(t *testing.T) {
	c := MustCollection(MustPermission(AcoResource, resID, AroUser, alice, LevelOwner))
	grown := c.With(MustPermission(AcoResource, resID, AroGroup, groupID, LevelRead))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, grown.Len())
	assert.Equal(t, []string{groupID}, grown.GroupIDs())
	assert.Equal(t, []Subject{User(alice)}, grown.Owners())

	shrunk := grown.Without(User(alice))
	assert.Equal(t, 1, shrunk.Len())
	assert.Empty(t, shrunk.Owners())
	assert.True(t, c.Equal(grown.Without(Group(groupID))))
}

func TestChangeJSON(t *testing.T) {
	input := `[
		{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"` + alice + `","is_new":true,"type":1},
		{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"Group","aro_foreign_key":"` + groupID + `","is_new":false,"type":7},
		{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"` + bob + `","is_new":false,"type":0},
		{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"` + carol + `","delete":true}
	]`

	changes, err := ParseChanges(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, changes, 4)

	assert.Equal(t, ChangeCreate, changes[0].Kind())
	assert.Equal(t, LevelRead, changes[0].Level)
	assert.Equal(t, ChangeUpdate, changes[1].Kind())
	assert.Equal(t, Group(groupID), changes[1].Subject())
	assert.Equal(t, ChangeDelete, changes[2].Kind())
	assert.Equal(t, ChangeDelete, changes[3].Kind())

	out, err := json.Marshal(changes[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"aco":"Resource","aco_foreign_key":"`+resID+`","aro":"User","aro_foreign_key":"`+alice+`","is_new":true,"type":1}`, string(out))
}

func TestChangeJSONRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"unknown aco":   `[{"aco":"Comment","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"` + alice + `","is_new":true,"type":1}]`,
		"unknown aro":   `[{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"Role","aro_foreign_key":"` + alice + `","is_new":true,"type":1}]`,
		"bad level":     `[{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"` + alice + `","is_new":true,"type":3}]`,
		"non-uuid user": `[{"aco":"Resource","aco_foreign_key":"` + resID + `","aro":"User","aro_foreign_key":"alice","is_new":true,"type":1}]`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChanges(strings.NewReader(input))
			assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
		})
	}
}

func TestParseLevelName(t *testing.T) {
	l, err := ParseLevelName("update")
	require.NoError(t, err)
	assert.Equal(t, LevelUpdate, l)

	_, err = ParseLevelName("admin")
	assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
}
