// Package orchestrator implements the Work-Queue Engine: the single
// logically-centralized authority tying together storage, the registration
// store, the certificate store, access control, and the three priority
// queues, per spec.md §4.7. Grounded on cuemby-warren/pkg/scheduler's single
// struct + sync.Mutex + background ticker shape, generalized from container
// scheduling to registration dispatch.
package orchestrator

import (
	"sync"
	"time"

	"github.com/cuemby/certorch/pkg/certstore"
	"github.com/cuemby/certorch/pkg/idgen"
	"github.com/cuemby/certorch/pkg/log"
	"github.com/cuemby/certorch/pkg/metrics"
	"github.com/cuemby/certorch/pkg/queue"
	"github.com/cuemby/certorch/pkg/registry"
	"github.com/cuemby/certorch/pkg/security"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/rs/zerolog"
)

// InProgressTTL is how long a dispensed task's lease lasts before the retry
// sweeper restores it to Tasks, per spec.md §4.7.
const InProgressTTL = 10 * time.Minute

// FailedRetryBackoff is the fixed delay before a Failed registration is
// retried, resolving spec.md §9's open question in the absence of a richer
// policy.
const FailedRetryBackoff = 60 * time.Second

// SweepInterval is how often expire/retry_sweep run.
const SweepInterval = 60 * time.Second

// Clock lets tests substitute a deterministic now(); defaults to time.Now.
type Clock func() time.Time

// Orchestrator is the single owned value every RPC handler operates
// against, constructed once at startup per spec.md §9's replacement for
// thread-local singletons. A single mutex models the single-threaded
// cooperative concurrency spec.md §5 requires: every public method holds it
// for its entire body, so no operation is ever observed mid-mutation by
// another.
type Orchestrator struct {
	mu sync.Mutex

	store    *storage.Store
	access   *security.Registry
	regs     *registry.Store
	certs    *certstore.Store
	ids      *idgen.Generator

	tasks       *queue.Queue
	retries     *queue.Queue
	expirations *queue.Queue

	now    Clock
	logger zerolog.Logger
	stopCh chan struct{}
}

// New wires together a fresh Orchestrator against store, seeding the access
// registry with rootPrincipals and the id generator with idSeed on first
// run. Callers wanting to resume persisted queues should call Restore
// afterward; New always starts with empty in-memory queues.
func New(store *storage.Store, rootPrincipals []string, idSeed uint64) (*Orchestrator, error) {
	access, err := security.New(store, rootPrincipals)
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(store, idSeed)
	if err != nil {
		return nil, err
	}

	tasks := queue.New()
	retries := queue.New()
	expirations := queue.New()

	regs := registry.New(store, expirations, retries)
	certs := certstore.New(store, regs)

	return &Orchestrator{
		store:       store,
		access:      access,
		regs:        regs,
		certs:       certs,
		ids:         ids,
		tasks:       tasks,
		retries:     retries,
		expirations: expirations,
		now:         time.Now,
		logger:      log.WithComponent("orchestrator"),
		stopCh:      make(chan struct{}),
	}, nil
}

// Run starts the 60 s expire/retry-sweep timer loop, grounded on
// cuemby-warren/pkg/scheduler.Scheduler.run's ticker-driven background loop.
func (o *Orchestrator) Run() {
	go o.run()
}

// Stop halts the sweep loop.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
}

func (o *Orchestrator) run() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := o.now()
			o.Expire(now)
			o.RetrySweep(now)
			o.reportQueueDepth()
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) reportQueueDepth() {
	o.mu.Lock()
	tasks, retries, expirations := o.tasks.Len(), o.retries.Len(), o.expirations.Len()
	o.mu.Unlock()
	metrics.QueueDepth.WithLabelValues("tasks").Set(float64(tasks))
	metrics.QueueDepth.WithLabelValues("retries").Set(float64(retries))
	metrics.QueueDepth.WithLabelValues("expirations").Set(float64(expirations))
}

// -- Registration operations -------------------------------------------------

// CreateRegistration validates authorization, generates an id, and creates
// the registration, enqueuing its first Task at now.
func (o *Orchestrator) CreateRegistration(caller, name, canister string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return "", err
	}

	id, err := o.ids.Next()
	if err != nil {
		return "", err
	}

	now := o.now()
	if _, err := o.regs.Create(id, name, canister, now); err != nil {
		return "", err
	}
	o.tasks.PushOrUpdate(id, now)

	o.logger.Info().Str("registration_id", id).Str("name", name).Msg("registration created")
	return id, nil
}

// GetRegistration returns the registration with id.
func (o *Orchestrator) GetRegistration(caller, id string) (*types.Registration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return nil, err
	}
	return o.regs.Get(id)
}

// UpdateRegistration applies newState to id's registration, per spec.md
// §4.5's reschedule rules.
func (o *Orchestrator) UpdateRegistration(caller, id string, newState types.State, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return err
	}

	_, err := o.regs.Update(id, newState, reason, o.now(), FailedRetryBackoff)
	if err != nil {
		return err
	}
	if newState == types.StateAvailable {
		o.tasks.RemoveByKey(id)
	}
	metrics.RegistrationsTotal.WithLabelValues(string(newState)).Inc()
	return nil
}

// -- Certificate operations ---------------------------------------------------

// UploadCertificate stores pair for id and transitions it to Available.
func (o *Orchestrator) UploadCertificate(caller, id string, pair types.EncryptedPair) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return err
	}

	if err := o.certs.Upload(id, pair, o.now()); err != nil {
		return err
	}
	o.tasks.RemoveByKey(id)
	return nil
}

// ExportCertificates returns every Available registration's material.
func (o *Orchestrator) ExportCertificates(caller string) ([]types.ExportedCertificate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return nil, err
	}
	return o.certs.Export()
}

// -- Work-queue operations -----------------------------------------------------

// QueueTask pushes/updates id's Tasks entry to priority t. The registration
// must exist and not be Available (spec.md §9's resolution of the open
// question on renewal: queuing an Available registration is rejected).
func (o *Orchestrator) QueueTask(caller, id string, t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return err
	}

	reg, err := o.regs.Get(id)
	if err != nil {
		return err
	}
	if reg.State == types.StateAvailable {
		return types.ErrNotFound()
	}

	o.tasks.PushOrUpdate(id, t)
	return nil
}

// DispenseTask atomically pops the head due task and leases it into Retries
// at now+InProgressTTL.
func (o *Orchestrator) DispenseTask(caller string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return "", err
	}

	now := o.now()
	key, due, ok := o.tasks.Peek()
	if !ok || due.After(now) {
		metrics.NoTasksAvailableTotal.Inc()
		return "", types.ErrNoTasksAvailable()
	}
	o.tasks.Pop()
	o.retries.PushOrUpdate(key, now.Add(InProgressTTL))

	metrics.DispenseTotal.Inc()
	return key, nil
}

// PeekTask returns the head due task's id without mutating any queue.
func (o *Orchestrator) PeekTask(caller string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.access.Authorize(caller, security.SetAllowed); err != nil {
		return "", err
	}

	key, due, ok := o.tasks.Peek()
	if !ok || due.After(o.now()) {
		return "", types.ErrNoTasksAvailable()
	}
	return key, nil
}

// Expire drains Expirations of everything due by now, removing each
// registration from every structure it could appear in, per spec.md §8
// invariant 4.
func (o *Orchestrator) Expire(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range o.expirations.DueBy(now) {
		o.tasks.RemoveByKey(id)
		o.retries.RemoveByKey(id)
		if err := o.regs.Remove(id); err != nil {
			o.logger.Error().Err(err).Str("registration_id", id).Msg("expiring registration")
			continue
		}
		metrics.ExpiredTotal.Inc()
		o.logger.Info().Str("registration_id", id).Msg("registration expired")
	}
}

// RetrySweep drains Retries of everything due by now, re-pushing each into
// Tasks at now. This both re-arms transient worker outcomes (the lease
// expired without an explicit queueTask) and restores Failed registrations
// for their next attempt.
func (o *Orchestrator) RetrySweep(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range o.retries.DueBy(now) {
		o.tasks.PushOrUpdate(id, now)
		metrics.RetrySweptTotal.Inc()
	}
}

// -- Access control operations -------------------------------------------------

func (o *Orchestrator) ListAllowedPrincipals(caller string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.access.Authorize(caller, security.SetRoot); err != nil {
		return nil, err
	}
	return o.access.ListAllowed()
}

func (o *Orchestrator) AddAllowedPrincipal(caller, principal string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.access.Grant(caller, principal)
}

func (o *Orchestrator) RmAllowedPrincipal(caller, principal string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.access.Revoke(caller, principal)
}
