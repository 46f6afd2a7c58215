package workerpipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/certorch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	reg          *types.Registration
	updates      []types.State
	queued       []string
	uploaded     *types.EncryptedPair
	dispense     func() (string, error)
	queueTaskErr error
}

func (f *fakeOrchestrator) DispenseTask(ctx context.Context) (string, error) { return f.dispense() }
func (f *fakeOrchestrator) GetRegistration(ctx context.Context, id string) (*types.Registration, error) {
	return f.reg, nil
}
func (f *fakeOrchestrator) UpdateRegistration(ctx context.Context, id string, state types.State, reason string) error {
	f.reg.State = state
	f.reg.Reason = reason
	f.updates = append(f.updates, state)
	return nil
}
func (f *fakeOrchestrator) QueueTask(ctx context.Context, id string, at time.Time) error {
	f.queued = append(f.queued, id)
	return f.queueTaskErr
}
func (f *fakeOrchestrator) UploadCertificate(ctx context.Context, id string, pair types.EncryptedPair) error {
	f.uploaded = &pair
	f.reg.State = types.StateAvailable
	return nil
}

type fakeACME struct {
	orderValue string
	orderErr   error
	readyErr   error
	certChain  []byte
	key        []byte
	finalErr   error
}

func (f *fakeACME) Order(name string) (string, error) { return f.orderValue, f.orderErr }
func (f *fakeACME) Ready(name string) error            { return f.readyErr }
func (f *fakeACME) Finalize(name string) ([]byte, []byte, error) {
	return f.certChain, f.key, f.finalErr
}

type fakePublisher struct {
	created bool
	deleted bool
}

func (f *fakePublisher) Create(delegationDomain, name, value string) error {
	f.created = true
	return nil
}
func (f *fakePublisher) Delete(delegationDomain, name string) error {
	f.deleted = true
	return nil
}

type fakeResolver struct {
	values []string
	err    error
}

func (f *fakeResolver) LookupTXT(fqdn string) ([]string, error) { return f.values, f.err }

func newTestPipeline(reg *types.Registration, orch *fakeOrchestrator, acmeClient *fakeACME, pub *fakePublisher, res *fakeResolver) *Pipeline {
	return New(Config{
		Orchestrator:     orch,
		ACME:             acmeClient,
		Publisher:        pub,
		Resolver:         res,
		DelegationDomain: "delegated.example.org",
	})
}

func TestOrderPhasePublishesChallengeAndReportsTransient(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingOrder}
	orch := &fakeOrchestrator{reg: reg}
	acmeClient := &fakeACME{orderValue: "challenge-token"}
	pub := &fakePublisher{}
	p := newTestPipeline(reg, orch, acmeClient, pub, &fakeResolver{})

	p.process(context.Background(), reg)

	assert.True(t, pub.created)
	assert.Equal(t, types.StatePendingChallengeResponse, reg.State)
	assert.Equal(t, []string{"A1"}, orch.queued, "a successful order phase must re-queue the registration for dispense")
}

func TestReadyPhaseAwaitsPropagationWhenNoRecords(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingChallengeResponse}
	orch := &fakeOrchestrator{reg: reg}
	acmeClient := &fakeACME{}
	res := &fakeResolver{values: nil}
	p := newTestPipeline(reg, orch, acmeClient, &fakePublisher{}, res)

	p.process(context.Background(), reg)

	assert.Equal(t, types.StatePendingChallengeResponse, reg.State, "must not advance until propagation confirmed")
	assert.Empty(t, orch.queued, "must not re-queue until propagation confirmed")
}

func TestReadyPhaseAdvancesOnPropagation(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingChallengeResponse}
	orch := &fakeOrchestrator{reg: reg}
	acmeClient := &fakeACME{}
	res := &fakeResolver{values: []string{"challenge-token"}}
	p := newTestPipeline(reg, orch, acmeClient, &fakePublisher{}, res)

	p.process(context.Background(), reg)

	assert.Equal(t, types.StatePendingAcmeApproval, reg.State)
	assert.Equal(t, []string{"A1"}, orch.queued, "a successful ready phase must re-queue the registration for dispense")
}

func TestCertificatePhaseUploadsAndDeletesChallenge(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingAcmeApproval}
	orch := &fakeOrchestrator{reg: reg}
	acmeClient := &fakeACME{certChain: []byte("cert"), key: []byte("key")}
	pub := &fakePublisher{}
	p := newTestPipeline(reg, orch, acmeClient, pub, &fakeResolver{})

	p.process(context.Background(), reg)

	assert.True(t, pub.deleted)
	require.NotNil(t, orch.uploaded)
	assert.Equal(t, []byte("cert"), orch.uploaded.CertChain)
	assert.Equal(t, types.StateAvailable, reg.State)
}

func TestUnexpectedErrorEscalatesToFailed(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingOrder}
	orch := &fakeOrchestrator{reg: reg}
	acmeClient := &fakeACME{orderErr: errors.New("ca unreachable")}
	p := newTestPipeline(reg, orch, acmeClient, &fakePublisher{}, &fakeResolver{})

	p.process(context.Background(), reg)

	assert.Equal(t, types.StateFailed, reg.State)
	assert.Equal(t, "ca unreachable", reg.Reason)
	assert.Empty(t, orch.queued, "Failed re-queues via the orchestrator's own retry backoff, not an explicit queueTask call")
}

func TestTickReturnsErrorAfterSustainedUnreachability(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingOrder}
	orch := &fakeOrchestrator{reg: reg, dispense: func() (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}}
	p := newTestPipeline(reg, orch, &fakeACME{}, &fakePublisher{}, &fakeResolver{})
	p.unreachableThreshold = 500 * time.Millisecond

	clock := time.Now()
	p.now = func() time.Time { return clock }

	require.NoError(t, p.tick(context.Background()), "a single failure must not be fatal")

	clock = clock.Add(600 * time.Millisecond)
	err := p.tick(context.Background())
	require.Error(t, err, "DispenseTask failing past the threshold must surface a fatal error")
}

func TestTickResetsUnreachableClockOnRecovery(t *testing.T) {
	reg := &types.Registration{ID: "A1", Name: "example.com", State: types.StatePendingOrder}
	failing := true
	orch := &fakeOrchestrator{reg: reg, dispense: func() (string, error) {
		if failing {
			return "", errors.New("dial tcp: connection refused")
		}
		return "", types.ErrNoTasksAvailable()
	}}
	p := newTestPipeline(reg, orch, &fakeACME{}, &fakePublisher{}, &fakeResolver{})
	p.unreachableThreshold = 500 * time.Millisecond

	clock := time.Now()
	p.now = func() time.Time { return clock }

	require.NoError(t, p.tick(context.Background()))

	failing = false
	clock = clock.Add(600 * time.Millisecond)
	require.NoError(t, p.tick(context.Background()), "a successful dispense must reset the unreachable clock")

	failing = true
	clock = clock.Add(600 * time.Millisecond)
	require.NoError(t, p.tick(context.Background()), "the threshold window restarts after recovery")
}
