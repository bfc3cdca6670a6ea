package secrets

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolarWolf314/aclsync/internal/changeset"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
)

const (
	resID = "8e3874ae-4b40-590b-968a-418f704b9d9a"
	userA = "f848277c-5398-58f8-a82a-72397af2d450"
	userB = "e97b14ba-8957-57c9-a357-f78a6e1e1a46"
	userC = "0da907bd-5c57-5acc-ba39-c6ebe091f613"
	userD = "1a6f2b3c-4d5e-5f60-8172-839405a6b7c8"
)

var (
	testKeysOnce sync.Once
	testKeys     map[string]*rsa.PrivateKey
)

// keyFor returns a cached 1024-bit test key for a user.
func keyFor(t *testing.T, userID string) *rsa.PrivateKey {
	t.Helper()
	testKeysOnce.Do(func() {
		testKeys = make(map[string]*rsa.PrivateKey)
		for _, id := range []string{userA, userB, userC, userD} {
			k, err := rsa.GenerateKey(rand.Reader, 1024)
			if err != nil {
				panic(err)
			}
			testKeys[id] = k
		}
	})
	return testKeys[userID]
}

var testPolicy = KeyPolicy{AllowedAlgorithms: []string{"RSA"}, MinBits: 1024}

type memoryKeys struct {
	keys    map[string]*rsa.PrivateKey
	revoked map[string]bool
}

func newMemoryKeys(t *testing.T, users ...string) *memoryKeys {
	m := &memoryKeys{keys: make(map[string]*rsa.PrivateKey), revoked: make(map[string]bool)}
	for _, u := range users {
		m.keys[u] = keyFor(t, u)
	}
	return m
}

func (m *memoryKeys) GetPublicKey(_ context.Context, userID string) (*PublicKey, error) {
	k, ok := m.keys[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrPublicKeyNotFound, userID)
	}
	return &PublicKey{UserID: userID, Key: &k.PublicKey}, nil
}

func (m *memoryKeys) GetKeyMetadata(_ context.Context, key *PublicKey) (KeyMetadata, error) {
	meta := DescribeKey(key)
	meta.Revoked = m.revoked[key.UserID]
	return meta, nil
}

type countingDecrypter struct {
	*PrivateKeyDecrypter
	calls   int
	last    *Plaintext
	failure error
}

func (d *countingDecrypter) Decrypt(ctx context.Context, ciphertext []byte) (*Plaintext, error) {
	d.calls++
	if d.failure != nil {
		return nil, d.failure
	}
	p, err := d.PrivateKeyDecrypter.Decrypt(ctx, ciphertext)
	d.last = p
	return p, err
}

func sealFor(t *testing.T, userID string, plaintext string) []byte {
	t.Helper()
	env, err := Seal([]byte(plaintext), &keyFor(t, userID).PublicKey)
	require.NoError(t, err)
	return env
}

func TestSealOpen(t *testing.T) {
	key := keyFor(t, userA)

	env1, err := Seal([]byte("hunter2"), &key.PublicKey)
	require.NoError(t, err)
	env2, err := Seal([]byte("hunter2"), &key.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, env1, env2)

	out, err := Open(env1, key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(out))

	_, err = Open(env1, keyFor(t, userB))
	assert.ErrorIs(t, err, kerrors.ErrDecryptFailed)

	tampered := append([]byte(nil), env1...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = Open(tampered, key)
	assert.ErrorIs(t, err, kerrors.ErrDecryptFailed)

	_, err = Open(env1[:10], key)
	assert.ErrorIs(t, err, kerrors.ErrDecryptFailed)
}

func TestSealEmptySecret(t *testing.T) {
	key := keyFor(t, userA)
	env, err := Seal(nil, &key.PublicKey)
	require.NoError(t, err)

	p, err := NewPrivateKeyDecrypter(key).Decrypt(context.Background(), env)
	require.NoError(t, err)
	data, err := p.Bytes()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestPlaintextRelease(t *testing.T) {
	buf := []byte("secret")
	p := NewPlaintext(buf)
	p.Release()
	p.Release()

	assert.Equal(t, make([]byte, 6), buf)
	_, err := p.Bytes()
	assert.ErrorIs(t, err, kerrors.ErrPlaintextReleased)
}

func TestCheckKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pub := &PublicKey{UserID: userD, Key: &keyFor(t, userD).PublicKey}
	base := DescribeKey(pub)

	tests := []struct {
		name   string
		mutate func(m *KeyMetadata)
		policy KeyPolicy
		reason string
	}{
		{name: "usable", mutate: func(*KeyMetadata) {}, policy: testPolicy},
		{name: "revoked", mutate: func(m *KeyMetadata) { m.Revoked = true }, policy: testPolicy, reason: "key is revoked"},
		{name: "expired", mutate: func(m *KeyMetadata) { m.ExpiresAt = now.Add(-time.Hour) }, policy: testPolicy, reason: "key expired on 2025-12-31T23:00:00Z"},
		{name: "not yet expired", mutate: func(m *KeyMetadata) { m.ExpiresAt = now.Add(time.Hour) }, policy: testPolicy},
		{name: "private", mutate: func(m *KeyMetadata) { m.Private = true }, policy: testPolicy, reason: "key is private"},
		{name: "too short", mutate: func(*KeyMetadata) {}, policy: KeyPolicy{MinBits: 4096}, reason: "key is 1024 bits, at least 4096 required"},
		{name: "algorithm", mutate: func(*KeyMetadata) {}, policy: KeyPolicy{AllowedAlgorithms: []string{"Ed25519"}}, reason: "algorithm RSA is not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := base
			tt.mutate(&meta)
			err := CheckKey(pub, meta, tt.policy, now)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, kerrors.ErrUnusableRecipientKey)
			var uerr *kerrors.UnusableRecipientKeyError
			require.True(t, errors.As(err, &uerr))
			assert.Equal(t, userD, uerr.UserID)
			assert.Equal(t, tt.reason, uerr.Reason)
		})
	}
}

func TestFileKeyDirectory(t *testing.T) {
	dir := t.TempDir()
	d := NewFileKeyDirectory(dir)
	ctx := context.Background()

	_, err := d.GetPublicKey(ctx, userA)
	assert.ErrorIs(t, err, kerrors.ErrPublicKeyNotFound)

	pemData, err := MarshalPublicKeyPEM(&keyFor(t, userA).PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(d.PublicKeyPath(userA), pemData, 0644))

	key, err := d.GetPublicKey(ctx, userA)
	require.NoError(t, err)
	assert.Len(t, key.Fingerprint, 64)
	meta, err := d.GetKeyMetadata(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "RSA", meta.Algorithm)
	assert.Equal(t, 1024, meta.Bits)
	assert.False(t, meta.Revoked)

	expires := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.WriteMetadata(userA, KeyMetadataFile{Revoked: true, ExpiresAt: &expires}))
	meta, err = d.GetKeyMetadata(ctx, key)
	require.NoError(t, err)
	assert.True(t, meta.Revoked)
	assert.True(t, expires.Equal(meta.ExpiresAt))
}

func TestPrivateKeyInPublicDirectory(t *testing.T) {
	key, err := ParsePublicKeyPEM(userA, MarshalPrivateKeyPEM(keyFor(t, userA)))
	require.NoError(t, err)
	assert.True(t, key.Private)
	err = CheckKey(key, DescribeKey(key), testPolicy, time.Now())
	assert.ErrorIs(t, err, kerrors.ErrUnusableRecipientKey)
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	der, err := x509.MarshalPKCS8PrivateKey(keyFor(t, userB))
	require.NoError(t, err)
	key, err := ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, key.Equal(keyFor(t, userB)))

	_, err = ParsePrivateKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, kerrors.ErrInvalidPrivateKey)
}

func newReencryptor(t *testing.T, keys KeyDirectory) (*Reencryptor, *countingDecrypter) {
	t.Helper()
	dec := &countingDecrypter{PrivateKeyDecrypter: NewPrivateKeyDecrypter(keyFor(t, userA))}
	return NewReencryptor(keys, dec, ReencryptOptions{Policy: testPolicy}), dec
}

func TestApplyAddsOneSecretPerNewReader(t *testing.T) {
	r, dec := newReencryptor(t, newMemoryKeys(t, userA, userB))

	ops, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:   resID,
		AddedReaders: []string{userB},
	}, sealFor(t, userA, "s3cret"))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Equal(t, OpCreate, ops[0].Kind)
	assert.Equal(t, userB, ops[0].UserID)
	out, err := Open(ops[0].Data, keyFor(t, userB))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(out))

	assert.Equal(t, 1, dec.calls)
	_, err = dec.last.Bytes()
	assert.ErrorIs(t, err, kerrors.ErrPlaintextReleased, "plaintext must be released")
}

func TestApplyRevokedKeyAbandonsResource(t *testing.T) {
	keys := newMemoryKeys(t, userA, userB, userD)
	keys.revoked[userD] = true
	r, dec := newReencryptor(t, keys)

	ops, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:   resID,
		AddedReaders: []string{userB, userD},
	}, sealFor(t, userA, "s3cret"))

	require.ErrorIs(t, err, kerrors.ErrUnusableRecipientKey)
	var uerr *kerrors.UnusableRecipientKeyError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, userD, uerr.UserID)
	assert.Nil(t, ops)
	assert.Zero(t, dec.calls, "nothing is decrypted when a key is unusable")
}

func TestApplyMissingKey(t *testing.T) {
	r, _ := newReencryptor(t, newMemoryKeys(t, userA))
	_, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:   resID,
		AddedReaders: []string{userC},
	}, sealFor(t, userA, "s3cret"))
	assert.ErrorIs(t, err, kerrors.ErrUnusableRecipientKey)
	assert.ErrorIs(t, err, kerrors.ErrPublicKeyNotFound)
}

func TestApplyRemovalsDoNotDecrypt(t *testing.T) {
	r, dec := newReencryptor(t, newMemoryKeys(t, userA))
	ops, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:     resID,
		RemovedReaders: []string{userB, userC},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []SecretOp{
		{Kind: OpDelete, ResourceID: resID, UserID: userB},
		{Kind: OpDelete, ResourceID: resID, UserID: userC},
	}, ops)
	assert.Zero(t, dec.calls)
}

func TestApplyRekeyOrder(t *testing.T) {
	r, _ := newReencryptor(t, newMemoryKeys(t, userA, userB, userC))
	ops, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:     resID,
		AddedReaders:   []string{userC},
		Rekeyed:        []string{userB},
		RemovedReaders: []string{userD},
	}, sealFor(t, userA, "s3cret"))
	require.NoError(t, err)

	kinds := make([]string, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind.String() + ":" + op.UserID
	}
	assert.Equal(t, []string{
		"create:" + userC,
		"delete:" + userB,
		"create:" + userB,
		"delete:" + userD,
	}, kinds)

	created, deleted := CountOps(ops)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, deleted)
}

func TestApplyWithoutActorSecret(t *testing.T) {
	r, _ := newReencryptor(t, newMemoryKeys(t, userA, userB))
	_, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:   resID,
		AddedReaders: []string{userB},
	}, nil)
	assert.ErrorIs(t, err, kerrors.ErrNoSecretForActor)
}

func TestApplyDecryptFailure(t *testing.T) {
	keys := newMemoryKeys(t, userA, userB)
	dec := &countingDecrypter{failure: kerrors.ErrDecryptFailed}
	r := NewReencryptor(keys, dec, ReencryptOptions{Policy: testPolicy})
	_, err := r.Apply(context.Background(), &changeset.ResourceChangeSet{
		ResourceID:   resID,
		AddedReaders: []string{userB},
	}, []byte("x"))
	assert.ErrorIs(t, err, kerrors.ErrDecryptFailed)
}

func TestLockedKeyDecrypterPromptsOnce(t *testing.T) {
	key := keyFor(t, userA)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte("open sesame"))
	require.NoError(t, err)
	data := pem.EncodeToMemory(block)

	_, err = ParsePrivateKey(data, nil)
	assert.ErrorIs(t, err, kerrors.ErrPassphraseRequired)

	prompts := 0
	dec := NewLockedKeyDecrypter(data, func() ([]byte, error) {
		prompts++
		return []byte("open sesame"), nil
	})
	for i := 0; i < 2; i++ {
		p, err := dec.Decrypt(context.Background(), sealFor(t, userA, "s3cret"))
		require.NoError(t, err)
		out, err := p.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "s3cret", string(out))
		p.Release()
	}
	assert.Equal(t, 1, prompts)
}

func TestLockedKeyDecrypterWrongPassphrase(t *testing.T) {
	block, err := ssh.MarshalPrivateKeyWithPassphrase(keyFor(t, userA), "", []byte("open sesame"))
	require.NoError(t, err)
	dec := NewLockedKeyDecrypter(pem.EncodeToMemory(block), func() ([]byte, error) {
		return []byte("wrong"), nil
	})
	_, err = dec.Decrypt(context.Background(), sealFor(t, userA, "s3cret"))
	assert.ErrorIs(t, err, kerrors.ErrInvalidPrivateKey)
}

func TestParseOpenSSHPrivateKey(t *testing.T) {
	block, err := ssh.MarshalPrivateKey(keyFor(t, userB), "")
	require.NoError(t, err)
	key, err := ParsePrivateKey(pem.EncodeToMemory(block), nil)
	require.NoError(t, err)
	assert.True(t, key.Equal(keyFor(t, userB)))
}
