package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/certorch/pkg/queue"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *queue.Queue, *queue.Queue) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expirations := queue.New()
	retries := queue.New()
	return New(db, expirations, retries), expirations, retries
}

func TestCreateRejectsMalformedNames(t *testing.T) {
	s, _, _ := newStore(t)
	now := time.Now()

	cases := []string{
		"",
		"nodot",
		"-leadinghyphen.com",
		"trailinghyphen-.com",
		"bad_char.com",
		repeatString("a", 70) + ".com",
	}
	for _, name := range cases {
		_, err := s.Create("id1", name, "owner", now)
		require.Error(t, err)
		assert.True(t, types.Is(err, types.KindNameError), "name=%q", name)
	}
}

func repeatString(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestCreateThenDuplicateReturnsExistingID(t *testing.T) {
	s, _, _ := newStore(t)
	now := time.Now()

	reg, err := s.Create("id1", "example.com", "owner-a", now)
	require.NoError(t, err)
	assert.Equal(t, types.StatePendingOrder, reg.State)

	_, err = s.Create("id2", "example.com", "owner-b", now)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindDuplicate))
	assert.Equal(t, "id1", err.(*types.Error).Detail)
}

func TestCreateAllowedAfterPriorBecomesAvailable(t *testing.T) {
	s, _, _ := newStore(t)
	now := time.Now()

	_, err := s.Create("id1", "example.com", "owner-a", now)
	require.NoError(t, err)
	_, err = s.Update("id1", types.StateAvailable, "", now, time.Minute)
	require.NoError(t, err)

	reg, err := s.Create("id2", "example.com", "owner-b", now)
	require.NoError(t, err)
	assert.Equal(t, "id2", reg.ID)
}

func TestUpdateToFailedSchedulesRetry(t *testing.T) {
	s, _, retries := newStore(t)
	now := time.Now()

	_, err := s.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)

	reg, err := s.Update("id1", types.StateFailed, "dns error", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "dns error", reg.Reason)
	assert.True(t, retries.Contains("id1"))
}

func TestUpdateToAvailableClearsExpirationsAndRetries(t *testing.T) {
	s, expirations, retries := newStore(t)
	now := time.Now()

	_, err := s.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)
	_, err = s.Update("id1", types.StateFailed, "x", now, time.Minute)
	require.NoError(t, err)
	require.True(t, retries.Contains("id1"))

	_, err = s.Update("id1", types.StateAvailable, "", now, time.Minute)
	require.NoError(t, err)
	assert.False(t, expirations.Contains("id1"))
	assert.False(t, retries.Contains("id1"))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s, _, _ := newStore(t)
	_, err := s.Get("nope")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindNotFound))
}

func TestRemoveDropsRegistrationAndNameIndex(t *testing.T) {
	s, _, _ := newStore(t)
	now := time.Now()

	_, err := s.Create("id1", "example.com", "owner", now)
	require.NoError(t, err)
	require.NoError(t, s.Remove("id1"))

	_, err = s.Get("id1")
	assert.True(t, types.Is(err, types.KindNotFound))

	// Name is free again.
	_, err = s.Create("id2", "example.com", "owner", now)
	require.NoError(t, err)
}
