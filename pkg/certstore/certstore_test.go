package certstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/certorch/pkg/queue"
	"github.com/cuemby/certorch/pkg/registry"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) (*Store, *registry.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	regs := registry.New(db, queue.New(), queue.New())
	return New(db, regs), regs
}

func TestUploadTransitionsRegistrationToAvailable(t *testing.T) {
	certs, regs := newStores(t)
	now := time.Now()

	_, err := regs.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)

	pair := types.EncryptedPair{PrivateKey: []byte("key"), CertChain: []byte("chain")}
	require.NoError(t, certs.Upload("id1", pair, now))

	reg, err := regs.Get("id1")
	require.NoError(t, err)
	assert.Equal(t, types.StateAvailable, reg.State)
}

func TestUploadMissingRegistrationIsNotFound(t *testing.T) {
	certs, _ := newStores(t)
	pair := types.EncryptedPair{PrivateKey: []byte("key"), CertChain: []byte("chain")}
	err := certs.Upload("nope", pair, time.Now())
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindNotFound))
}

func TestUploadOversizedPairIsStorageFull(t *testing.T) {
	certs, regs := newStores(t)
	now := time.Now()
	_, err := regs.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)

	pair := types.EncryptedPair{PrivateKey: make([]byte, types.MaxPrivateKeyBytes+1)}
	err = certs.Upload("id1", pair, now)
	require.Error(t, err)
}

func TestExportReturnsOnlyUploadedPairs(t *testing.T) {
	certs, regs := newStores(t)
	now := time.Now()

	_, err := regs.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)
	_, err = regs.Create("id2", "other.com", "owner", now)
	require.NoError(t, err)

	pair := types.EncryptedPair{PrivateKey: []byte("key"), CertChain: []byte("chain")}
	require.NoError(t, certs.Upload("id1", pair, now))

	out, err := certs.Export()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "example.com", out[0].Name)
	assert.Equal(t, "id1", out[0].ID)
}
