package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/certorch/pkg/registry"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rootPrincipal = "root-1"
const allowedPrincipal = "worker-1"

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	o, err := New(db, []string{rootPrincipal}, 1)
	require.NoError(t, err)
	require.NoError(t, o.AddAllowedPrincipal(rootPrincipal, allowedPrincipal))
	return o
}

// fixedClock lets a test advance time deterministically.
func fixedClock(t *time.Time) Clock {
	return func() time.Time { return *t }
}

func TestHappyPath(t *testing.T) {
	o := newOrchestrator(t)

	id, err := o.CreateRegistration(allowedPrincipal, "example.com", "owner-1")
	require.NoError(t, err)

	got, err := o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, o.UpdateRegistration(allowedPrincipal, id, types.StatePendingChallengeResponse, ""))
	require.NoError(t, o.QueueTask(allowedPrincipal, id, time.Now()))

	got, err = o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, o.UpdateRegistration(allowedPrincipal, id, types.StatePendingAcmeApproval, ""))
	require.NoError(t, o.QueueTask(allowedPrincipal, id, time.Now()))

	got, err = o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	pair := types.EncryptedPair{PrivateKey: []byte("key"), CertChain: []byte("cert")}
	require.NoError(t, o.UploadCertificate(allowedPrincipal, id, pair))

	exported, err := o.ExportCertificates(allowedPrincipal)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, "example.com", exported[0].Name)
	assert.Equal(t, id, exported[0].ID)
}

func TestDuplicateCreateReturnsExistingID(t *testing.T) {
	o := newOrchestrator(t)

	id1, err := o.CreateRegistration(allowedPrincipal, "x.com", "owner-1")
	require.NoError(t, err)

	_, err = o.CreateRegistration(allowedPrincipal, "x.com", "owner-2")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindDuplicate))
	assert.Equal(t, id1, err.(*types.Error).Detail)
}

func TestLeaseRecoveryAfterCrash(t *testing.T) {
	now := time.Now()
	o := newOrchestrator(t)
	o.now = fixedClock(&now)

	id, err := o.CreateRegistration(allowedPrincipal, "example.com", "owner-1")
	require.NoError(t, err)

	got, err := o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	require.Equal(t, id, got)

	// Worker crashes: nothing reports back. Nothing is dispensable yet.
	_, err = o.DispenseTask(allowedPrincipal)
	assert.True(t, types.Is(err, types.KindNoTasksAvailable))

	// Lease expires.
	now = now.Add(InProgressTTL + time.Second)
	o.RetrySweep(now)

	got, err = o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestExpirationRemovesFromEveryStructure(t *testing.T) {
	now := time.Now()
	o := newOrchestrator(t)
	o.now = fixedClock(&now)

	id, err := o.CreateRegistration(allowedPrincipal, "example.com", "owner-1")
	require.NoError(t, err)

	now = now.Add(registry.RegistrationExpirationTTL + time.Second)
	o.Expire(now)

	_, err = o.GetRegistration(allowedPrincipal, id)
	assert.True(t, types.Is(err, types.KindNotFound))
	assert.False(t, o.tasks.Contains(id))
	assert.False(t, o.retries.Contains(id))
	assert.False(t, o.expirations.Contains(id))

	// Name is free again: a fresh create with the same name must succeed.
	_, err = o.CreateRegistration(allowedPrincipal, "example.com", "owner-2")
	require.NoError(t, err)
}

func TestAuthGateRejectsUnknownCaller(t *testing.T) {
	o := newOrchestrator(t)

	_, err := o.CreateRegistration("intruder", "example.com", "owner-1")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))

	err = o.QueueTask("intruder", "whatever", time.Now())
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestActionMapping(t *testing.T) {
	assert.Equal(t, types.ActionOrder, types.ActionFor(types.StateFailed))
	assert.Equal(t, types.ActionCertificate, types.ActionFor(types.StatePendingAcmeApproval))
	assert.Equal(t, types.ActionOrder, types.ActionFor(types.StateAvailable))
}

func TestQueueTaskRejectsAvailableRegistration(t *testing.T) {
	o := newOrchestrator(t)
	id, err := o.CreateRegistration(allowedPrincipal, "example.com", "owner-1")
	require.NoError(t, err)

	pair := types.EncryptedPair{PrivateKey: []byte("key"), CertChain: []byte("cert")}
	require.NoError(t, o.UploadCertificate(allowedPrincipal, id, pair))

	err = o.QueueTask(allowedPrincipal, id, time.Now())
	assert.True(t, types.Is(err, types.KindNotFound))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	o, err := New(db, []string{rootPrincipal}, 1)
	require.NoError(t, err)
	require.NoError(t, o.AddAllowedPrincipal(rootPrincipal, allowedPrincipal))

	id, err := o.CreateRegistration(allowedPrincipal, "example.com", "owner-1")
	require.NoError(t, err)

	require.NoError(t, o.Snapshot())
	require.NoError(t, o.Restore())

	got, err := o.DispenseTask(allowedPrincipal)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
