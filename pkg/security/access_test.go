package security

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRootPrincipalsSeededOnce(t *testing.T) {
	store := openStore(t)
	reg, err := New(store, []string{"root-1"})
	require.NoError(t, err)

	require.NoError(t, reg.Authorize("root-1", SetRoot))
	assert.True(t, types.Is(reg.Authorize("intruder", SetRoot), types.KindUnauthorized))
}

func TestGrantAndRevokeRequireRoot(t *testing.T) {
	store := openStore(t)
	reg, err := New(store, []string{"root-1"})
	require.NoError(t, err)

	err = reg.Grant("not-root", "p1")
	assert.True(t, types.Is(err, types.KindUnauthorized))

	require.NoError(t, reg.Grant("root-1", "p1"))
	require.NoError(t, reg.Authorize("p1", SetAllowed))

	require.NoError(t, reg.Revoke("root-1", "p1"))
	assert.True(t, types.Is(reg.Authorize("p1", SetAllowed), types.KindUnauthorized))
}

func TestListAllowed(t *testing.T) {
	store := openStore(t)
	reg, err := New(store, []string{"root-1"})
	require.NoError(t, err)

	require.NoError(t, reg.Grant("root-1", "p1"))
	require.NoError(t, reg.Grant("root-1", "p2"))

	got, err := reg.ListAllowed()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, got)
}

func TestRootSetStickyAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	_, err = New(store, []string{"root-1"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store2, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer store2.Close()
	reg2, err := New(store2, []string{"different-root"})
	require.NoError(t, err)

	require.NoError(t, reg2.Authorize("root-1", SetRoot))
	assert.True(t, types.Is(reg2.Authorize("different-root", SetRoot), types.KindUnauthorized))
}
