package workflows

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolarWolf314/aclsync/internal/acl"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/orchestrator"
	"github.com/PolarWolf314/aclsync/internal/secrets"
)

const (
	alice = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	bob   = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	carol = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
	team  = "a0000000-0000-4000-8000-000000000001"
)

type fixture struct {
	dir  string
	env  *Env
	keys map[string]*rsa.PrivateKey
}

func newProject(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", alice+".pem")

	res, err := Init(ctx, InitOptions{ProjectPath: dir, ActorID: alice, PrivateKeyPath: keyPath})
	require.NoError(t, err)
	require.True(t, res.KeyGenerated)

	env, err := OpenEnv(ctx, EnvOptions{ProjectPath: dir})
	require.NoError(t, err)
	t.Cleanup(env.Close)

	aliceKey, err := secrets.LoadPrivateKey(keyPath)
	require.NoError(t, err)
	return &fixture{dir: dir, env: env, keys: map[string]*rsa.PrivateKey{alice: aliceKey}}
}

func (f *fixture) addUser(t *testing.T, userID string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData, err := secrets.MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	_, err = RegisterKey(context.Background(), f.env, RegisterKeyOptions{UserID: userID, PublicKey: pemData})
	require.NoError(t, err)
	f.keys[userID] = key
}

func (f *fixture) createResource(t *testing.T, secret string) string {
	t.Helper()
	res, err := CreateResource(context.Background(), f.env, CreateResourceOptions{Name: "db password", Secret: []byte(secret)})
	require.NoError(t, err)
	return res.Resource.ID
}

func (f *fixture) secretOf(t *testing.T, resourceID, userID string) string {
	t.Helper()
	envelope, err := f.env.Store.LoadSecret(context.Background(), resourceID, userID)
	require.NoError(t, err)
	plaintext, err := secrets.Open(envelope, f.keys[userID])
	require.NoError(t, err)
	return string(plaintext)
}

func (f *fixture) holders(t *testing.T, resourceID string) []string {
	t.Helper()
	holders, err := f.env.Store.ListSecretHolders(context.Background(), resourceID)
	require.NoError(t, err)
	return holders
}

func grant(resourceID string, aro acl.Aro, aroID string, level acl.Level) acl.Change {
	return acl.Change{Aco: acl.AcoResource, AcoID: resourceID, Aro: aro, AroID: aroID, Level: level, IsNew: true}
}

func revoke(resourceID string, aro acl.Aro, aroID string) acl.Change {
	return acl.Change{Aco: acl.AcoResource, AcoID: resourceID, Aro: aro, AroID: aroID, Delete: true}
}

func requireValidated(t *testing.T, outcome *BatchOutcome) {
	t.Helper()
	require.NotNil(t, outcome.Result)
	for _, item := range outcome.Result.Items {
		require.Equal(t, orchestrator.StateValidated, item.State, "resource %s: %v", item.ResourceID, item.Err)
	}
}

func TestInitRefusesExistingProject(t *testing.T) {
	f := newProject(t)

	_, err := os.Stat(filepath.Join(f.dir, ".aclsync", "config.toml"))
	require.NoError(t, err)
	key, err := f.env.Store.GetPublicKey(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, alice, key.UserID)

	_, err = Init(context.Background(), InitOptions{ProjectPath: f.dir, ActorID: alice})
	assert.ErrorIs(t, err, kerrors.ErrProjectAlreadyInitialized)
}

func TestOpenEnvRequiresProject(t *testing.T) {
	_, err := OpenEnv(context.Background(), EnvOptions{ProjectPath: t.TempDir()})
	assert.ErrorIs(t, err, kerrors.ErrProjectNotInitialized)
}

func TestCreateResourceSealsForOwner(t *testing.T) {
	f := newProject(t)
	secret := []byte("hunter2")
	res, err := CreateResource(context.Background(), f.env, CreateResourceOptions{Name: "db", Secret: secret})
	require.NoError(t, err)

	assert.Equal(t, []string{alice}, f.holders(t, res.Resource.ID))
	assert.Equal(t, "hunter2", f.secretOf(t, res.Resource.ID, alice))
	assert.Equal(t, make([]byte, len("hunter2")), secret, "plaintext should be zeroed")

	perms, err := f.env.Store.LoadPermissions(context.Background(), res.Resource.ID)
	require.NoError(t, err)
	p, ok := acl.BySubject(perms, acl.AroUser, alice)
	require.True(t, ok)
	assert.Equal(t, acl.LevelOwner, p.Level())
}

func TestShareGrantsAndRemovesSecrets(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	id := f.createResource(t, "s3cret")

	outcome, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroUser, bob, acl.LevelRead)}})
	require.NoError(t, err)
	requireValidated(t, outcome)
	assert.ElementsMatch(t, []string{alice, bob}, f.holders(t, id))
	assert.Equal(t, "s3cret", f.secretOf(t, id, bob))

	outcome, err = Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{revoke(id, acl.AroUser, bob)}})
	require.NoError(t, err)
	requireValidated(t, outcome)
	assert.Equal(t, []string{alice}, f.holders(t, id))
}

func TestShareDryRunPersistsNothing(t *testing.T) {
	f := newProject(t)
	f.addUser(t, bob)
	id := f.createResource(t, "s3cret")

	outcome, err := Share(context.Background(), f.env, ShareOptions{
		ResourceIDs: []string{id},
		Changes:     []acl.Change{grant(id, acl.AroUser, bob, acl.LevelRead)},
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.True(t, outcome.DryRun)
	assert.Nil(t, outcome.Result)
	require.Len(t, outcome.Plan.Items, 1)
	assert.Equal(t, []string{bob}, outcome.Plan.Items[0].Preview.AddedReaders)
	assert.Equal(t, []string{alice}, f.holders(t, id))
}

func TestShareWithRevokedKeyFails(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	id := f.createResource(t, "s3cret")
	require.NoError(t, RevokeKey(ctx, f.env, bob))

	outcome, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroUser, bob, acl.LevelRead)}})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, outcome.Result.Failed())
	assert.ErrorIs(t, outcome.Result.Items[0].Err, kerrors.ErrUnusableRecipientKey)
	assert.Equal(t, []string{alice}, f.holders(t, id))

	perms, err := f.env.Store.LoadPermissions(ctx, id)
	require.NoError(t, err)
	_, ok := acl.BySubject(perms, acl.AroUser, bob)
	assert.False(t, ok, "permissions must not change when encryption fails")
}

func TestSetGroupSyncsMembership(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	f.addUser(t, carol)
	id := f.createResource(t, "s3cret")

	created, err := SetGroup(ctx, f.env, SetGroupOptions{GroupID: team, Name: "team", Members: []string{bob}})
	require.NoError(t, err)
	assert.Empty(t, created.Affected)

	outcome, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroGroup, team, acl.LevelRead)}})
	require.NoError(t, err)
	requireValidated(t, outcome)
	assert.ElementsMatch(t, []string{alice, bob}, f.holders(t, id))

	updated, err := SetGroup(ctx, f.env, SetGroupOptions{GroupID: team, Name: "team", Members: []string{carol}})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, updated.Affected)
	require.NotNil(t, updated.Sync)
	requireValidated(t, updated.Sync)
	assert.ElementsMatch(t, []string{alice, carol}, f.holders(t, id))
	assert.Equal(t, "s3cret", f.secretOf(t, id, carol))
}

func TestCreateResourceInFolderInheritsPermissions(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)

	folderID, err := SetFolder(ctx, f.env, SetFolderOptions{
		Name:   "ops",
		Grants: []Grant{{Subject: acl.User(bob), Level: acl.LevelRead}},
	})
	require.NoError(t, err)

	res, err := CreateResource(ctx, f.env, CreateResourceOptions{Name: "db", Secret: []byte("s3cret"), FolderID: folderID})
	require.NoError(t, err)
	require.NotNil(t, res.Move)
	requireValidated(t, res.Move)

	stored, err := f.env.Store.LoadResource(ctx, res.Resource.ID)
	require.NoError(t, err)
	assert.Equal(t, folderID, stored.FolderID)
	assert.Equal(t, "s3cret", f.secretOf(t, res.Resource.ID, bob))
}

func TestRegisterKeyRotatesSecrets(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	id := f.createResource(t, "s3cret")
	outcome, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroUser, bob, acl.LevelRead)}})
	require.NoError(t, err)
	requireValidated(t, outcome)

	oldKey := f.keys[bob]
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData, err := secrets.MarshalPublicKeyPEM(&newKey.PublicKey)
	require.NoError(t, err)

	result, err := RegisterKey(ctx, f.env, RegisterKeyOptions{UserID: bob, PublicKey: pemData, Rotate: true})
	require.NoError(t, err)
	assert.True(t, result.Replaced)
	require.NotNil(t, result.Rotation)
	requireValidated(t, result.Rotation)

	f.keys[bob] = newKey
	assert.Equal(t, "s3cret", f.secretOf(t, id, bob))

	envelope, err := f.env.Store.LoadSecret(ctx, id, bob)
	require.NoError(t, err)
	_, err = secrets.Open(envelope, oldKey)
	assert.Error(t, err)

	again, err := RegisterKey(ctx, f.env, RegisterKeyOptions{UserID: bob, PublicKey: pemData, Rotate: true})
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Nil(t, again.Rotation)
}

func TestRegisterKeyRejectsPrivateKey(t *testing.T) {
	f := newProject(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = RegisterKey(context.Background(), f.env, RegisterKeyOptions{UserID: bob, PublicKey: secrets.MarshalPrivateKeyPEM(key)})
	assert.ErrorIs(t, err, kerrors.ErrInvalidPublicKey)
}

func TestAccessAndValidateReportOrphans(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	f.addUser(t, carol)
	id := f.createResource(t, "s3cret")
	outcome, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroUser, bob, acl.LevelUpdate)}})
	require.NoError(t, err)
	requireValidated(t, outcome)

	report, err := Validate(ctx, f.env, ValidateOptions{})
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Checked)

	// A copy written behind the engine's back.
	stray := secrets.SecretOp{Kind: secrets.OpCreate, ResourceID: id, UserID: carol, Data: []byte("stray")}
	require.NoError(t, f.env.Store.PersistSecrets(ctx, id, []secrets.SecretOp{stray}))

	access, err := Access(ctx, f.env, id)
	require.NoError(t, err)
	assert.Len(t, access.Permissions, 2)
	assert.Equal(t, []ReaderStatus{
		{UserID: alice, Status: StatusActive, Via: []string{"direct"}},
		{UserID: bob, Status: StatusActive, Via: []string{"direct"}},
		{UserID: carol, Status: StatusOrphan},
	}, access.Readers)

	report, err = Validate(ctx, f.env, ValidateOptions{ResourceIDs: []string{id}})
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, []string{carol}, report.Mismatches[0].Extra)
	assert.Empty(t, report.Mismatches[0].Missing)
}

func TestSweepOnceAndLog(t *testing.T) {
	ctx := context.Background()
	f := newProject(t)
	f.addUser(t, bob)
	id := f.createResource(t, "s3cret")
	_, err := Share(ctx, f.env, ShareOptions{ResourceIDs: []string{id}, Changes: []acl.Change{grant(id, acl.AroUser, bob, acl.LevelRead)}})
	require.NoError(t, err)

	report, err := Sweep(ctx, f.env, SweepOptions{Once: true})
	require.NoError(t, err)
	assert.True(t, report.Clean())

	entries, err := Log(ctx, LogOptions{ProjectPath: f.dir, Operation: "share"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, alice, entries[0].ActorID)
	assert.Equal(t, []string{id}, entries[0].Resources)
	assert.Equal(t, 1, entries[0].Validated)
	assert.Equal(t, 1, entries[0].Created)

	entries, err = Log(ctx, LogOptions{ProjectPath: f.dir, Reverse: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sweep", entries[0].Operation)
	assert.Equal(t, 1, entries[0].Checked)

	_, err = Log(ctx, LogOptions{ProjectPath: f.dir, Since: "yesterday"})
	assert.ErrorIs(t, err, kerrors.ErrInvalidDateFormat)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	since, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())

	since, err = parseSince("2026-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), since)

	since, err = parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), since)

	_, err = parseSince("-1h", now)
	assert.ErrorIs(t, err, kerrors.ErrInvalidDateFormat)
}
