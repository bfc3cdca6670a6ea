package filestore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolarWolf314/aclsync/internal/acl"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

const (
	res1   = "11111111-1111-4111-8111-111111111111"
	res2   = "22222222-2222-4222-8222-222222222222"
	folder = "f0000000-0000-4000-8000-000000000001"
	group  = "a0000000-0000-4000-8000-000000000001"
	alice  = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	bob    = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	carol  = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), ".aclsync"))
	require.NoError(t, err)
	return s
}

func seedResource(t *testing.T, s *Store, id, folderID string, perms ...acl.Permission) {
	t.Helper()
	require.NoError(t, s.PutResource(context.Background(), acl.Resource{ID: id, FolderID: folderID, Name: "db password"}, acl.MustCollection(perms...)))
}

func TestOpenRequiresInitializedProject(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), ".aclsync"))
	assert.ErrorIs(t, err, kerrors.ErrProjectNotInitialized)
}

func TestResourceAndPermissionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedResource(t, s, res1, folder,
		acl.MustPermission(acl.AcoResource, res1, acl.AroUser, alice, acl.LevelOwner),
		acl.MustPermission(acl.AcoResource, res1, acl.AroGroup, group, acl.LevelRead),
	)

	res, err := s.LoadResource(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, folder, res.FolderID)
	assert.Equal(t, "db password", res.Name)

	perms, err := s.LoadPermissions(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, 2, perms.Len())
	p, ok := acl.BySubject(perms, acl.AroGroup, group)
	require.True(t, ok)
	assert.Equal(t, acl.LevelRead, p.Level())

	_, err = s.LoadResource(ctx, res2)
	assert.ErrorIs(t, err, kerrors.ErrResourceNotFound)
	_, err = s.LoadPermissions(ctx, res2)
	assert.ErrorIs(t, err, kerrors.ErrResourceNotFound)
}

func TestPathTraversalIdsRejected(t *testing.T) {
	s := newStore(t)
	_, err := s.LoadResource(context.Background(), "../../etc")
	assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
}

func TestPersistPermissionChangesUpsertsAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedResource(t, s, res1, "",
		acl.MustPermission(acl.AcoResource, res1, acl.AroUser, alice, acl.LevelOwner),
		acl.MustPermission(acl.AcoResource, res1, acl.AroUser, bob, acl.LevelRead),
	)

	err := s.PersistPermissionChanges(ctx, res1, []acl.Change{
		{Aco: acl.AcoResource, AcoID: res1, Aro: acl.AroUser, AroID: carol, Level: acl.LevelUpdate, IsNew: true},
		{Aco: acl.AcoResource, AcoID: res1, Aro: acl.AroUser, AroID: bob, Delete: true},
		{Aco: acl.AcoResource, AcoID: res2, Aro: acl.AroUser, AroID: alice, Delete: true},
	})
	require.NoError(t, err)

	perms, err := s.LoadPermissions(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, 2, perms.Len())
	_, hasBob := acl.BySubject(perms, acl.AroUser, bob)
	assert.False(t, hasBob)
	p, ok := acl.BySubject(perms, acl.AroUser, carol)
	require.True(t, ok)
	assert.Equal(t, acl.LevelUpdate, p.Level())
}

func TestPersistSecretsOrderedOps(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedResource(t, s, res1, "", acl.MustPermission(acl.AcoResource, res1, acl.AroUser, alice, acl.LevelOwner))

	require.NoError(t, s.PersistSecrets(ctx, res1, []secrets.SecretOp{
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: alice, Data: []byte("a1")},
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: bob, Data: []byte("b1")},
	}))

	holders, err := s.ListSecretHolders(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, holders)

	// Rekey alice, remove bob, add carol.
	require.NoError(t, s.PersistSecrets(ctx, res1, []secrets.SecretOp{
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: carol, Data: []byte("c1")},
		{Kind: secrets.OpDelete, ResourceID: res1, UserID: alice},
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: alice, Data: []byte("a2")},
		{Kind: secrets.OpDelete, ResourceID: res1, UserID: bob},
	}))

	holders, err = s.ListSecretHolders(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, []string{alice, carol}, holders)

	data, err := s.LoadSecret(ctx, res1, alice)
	require.NoError(t, err)
	assert.Equal(t, "a2", string(data))

	_, err = s.LoadSecret(ctx, res1, bob)
	assert.ErrorIs(t, err, kerrors.ErrSecretNotFound)
}

func TestPersistSecretsRejectsInconsistentListWithoutWriting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedResource(t, s, res1, "", acl.MustPermission(acl.AcoResource, res1, acl.AroUser, alice, acl.LevelOwner))
	require.NoError(t, s.PersistSecrets(ctx, res1, []secrets.SecretOp{
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: alice, Data: []byte("a1")},
	}))

	err := s.PersistSecrets(ctx, res1, []secrets.SecretOp{
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: bob, Data: []byte("b1")},
		{Kind: secrets.OpCreate, ResourceID: res1, UserID: alice, Data: []byte("dup")},
	})
	require.Error(t, err)

	err = s.PersistSecrets(ctx, res1, []secrets.SecretOp{
		{Kind: secrets.OpDelete, ResourceID: res1, UserID: carol},
	})
	assert.ErrorIs(t, err, kerrors.ErrSecretNotFound)

	holders, err := s.ListSecretHolders(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, holders)
}

func TestFoldersAndMove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutFolder(ctx, folder, "ops", acl.MustCollection(
		acl.MustPermission(acl.AcoFolder, folder, acl.AroUser, bob, acl.LevelRead),
	)))
	seedResource(t, s, res1, "", acl.MustPermission(acl.AcoResource, res1, acl.AroUser, alice, acl.LevelOwner))

	perms, err := s.LoadFolderPermissions(ctx, folder)
	require.NoError(t, err)
	assert.Equal(t, 1, perms.Len())

	_, err = s.LoadFolderPermissions(ctx, group)
	assert.ErrorIs(t, err, kerrors.ErrFolderNotFound)

	require.NoError(t, s.SetResourceFolder(ctx, res1, folder))
	res, err := s.LoadResource(ctx, res1)
	require.NoError(t, err)
	assert.Equal(t, folder, res.FolderID)

	err = s.PutFolder(ctx, folder, "ops", acl.MustCollection(
		acl.MustPermission(acl.AcoResource, res1, acl.AroUser, bob, acl.LevelRead),
	))
	assert.ErrorIs(t, err, kerrors.ErrMalformedPermission)
}

func TestPersistFolderPermissionChanges(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutFolder(ctx, folder, "ops", acl.MustCollection(
		acl.MustPermission(acl.AcoFolder, folder, acl.AroUser, alice, acl.LevelOwner),
		acl.MustPermission(acl.AcoFolder, folder, acl.AroUser, bob, acl.LevelRead),
	)))

	changes := []acl.Change{
		{Aco: acl.AcoFolder, AcoID: folder, Aro: acl.AroUser, AroID: carol, Level: acl.LevelUpdate, IsNew: true},
		{Aco: acl.AcoFolder, AcoID: folder, Aro: acl.AroUser, AroID: bob, Delete: true},
		{Aco: acl.AcoResource, AcoID: res1, Aro: acl.AroUser, AroID: bob, Level: acl.LevelOwner, IsNew: true},
	}
	require.NoError(t, s.PersistFolderPermissionChanges(ctx, folder, changes))

	perms, err := s.LoadFolderPermissions(ctx, folder)
	require.NoError(t, err)
	assert.ElementsMatch(t, []acl.Subject{acl.User(alice), acl.User(carol)}, perms.Subjects())
	p, ok := acl.BySubject(perms, acl.AroUser, carol)
	require.True(t, ok)
	assert.Equal(t, acl.LevelUpdate, p.Level())

	// The folder record keeps its name.
	require.NoError(t, s.PersistFolderPermissionChanges(ctx, folder, changes))
	data, err := os.ReadFile(s.folderPath(folder))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ops")

	err = s.PersistFolderPermissionChanges(ctx, group, changes)
	assert.ErrorIs(t, err, kerrors.ErrFolderNotFound)
}

func TestGroupsDirectory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutGroup(ctx, group, "ops", []string{alice, bob}))

	members, err := s.ListMembers(ctx, group)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, members)

	require.NoError(t, s.PutGroup(ctx, group, "ops", []string{carol}))
	members, err = s.ListMembers(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, []string{carol}, members)

	_, err = s.ListMembers(ctx, folder)
	assert.ErrorIs(t, err, kerrors.ErrGroupNotFound)
}

func TestListResourceIDsSkipsForeignEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedResource(t, s, res2, "")
	seedResource(t, s, res1, "")
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "resources", "scratch"), 0700))

	ids, err := s.ListResourceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res1, res2}, ids)
}

func TestPublicKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	pemData, err := secrets.MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, s.PutPublicKey(ctx, alice, pemData))

	pub, err := s.GetPublicKey(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, pub.UserID)

	meta, err := s.GetKeyMetadata(ctx, pub)
	require.NoError(t, err)
	assert.Equal(t, 1024, meta.Bits)
	assert.False(t, meta.Revoked)

	_, err = s.GetPublicKey(ctx, bob)
	assert.ErrorIs(t, err, kerrors.ErrPublicKeyNotFound)

	require.NoError(t, s.RevokeKey(ctx, alice))
	meta, err = s.GetKeyMetadata(ctx, pub)
	require.NoError(t, err)
	assert.True(t, meta.Revoked)
	assert.ErrorIs(t, s.RevokeKey(ctx, bob), kerrors.ErrPublicKeyNotFound)

	// Registering a new key clears the revocation.
	require.NoError(t, s.PutPublicKey(ctx, alice, pemData))
	meta, err = s.GetKeyMetadata(ctx, pub)
	require.NoError(t, err)
	assert.False(t, meta.Revoked)
}

func TestCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ListResourceIDs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
