// Package workerpipeline implements the Worker Pipeline's dispense->process
// ->report loop driving a registration through the ACME Order, Ready, and
// Certificate phases, per spec.md §4.8. Grounded on cuemby-warren/pkg/
// scheduler's ticker-driven loop shape, adapted into a worker-owned poll
// loop that tolerates orchestrator unavailability.
package workerpipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/certorch/pkg/acme"
	"github.com/cuemby/certorch/pkg/dnschallenge"
	"github.com/cuemby/certorch/pkg/log"
	"github.com/cuemby/certorch/pkg/metrics"
	"github.com/cuemby/certorch/pkg/types"
)

// TransientRecheckDelay is a 60 s re-check delay for expected-transient phase
// outcomes (AwaitingDnsPropagation, AwaitingAcmeOrderReady). The pipeline
// does not schedule with it: process reports nothing for a transient
// outcome, so the registration is dispensed again once its in-progress lease
// in Retries expires.
const TransientRecheckDelay = 60 * time.Second

// DefaultUnreachableThreshold is how long DispenseTask/GetRegistration may
// keep failing before Run gives up and returns an error, per spec.md:159
// ("nonzero on fatal orchestrator unreachable > N s").
const DefaultUnreachableThreshold = 5 * time.Minute

// OrchestratorClient is the capability interface the pipeline depends on for
// talking to the orchestrator; the transport that carries these calls is an
// external collaborator (spec.md §1) with one concrete adapter in
// pkg/transport.
type OrchestratorClient interface {
	DispenseTask(ctx context.Context) (id string, err error)
	GetRegistration(ctx context.Context, id string) (*types.Registration, error)
	UpdateRegistration(ctx context.Context, id string, state types.State, reason string) error
	QueueTask(ctx context.Context, id string, at time.Time) error
	UploadCertificate(ctx context.Context, id string, pair types.EncryptedPair) error
}

// Pipeline runs the dispense/process/report loop for one worker process.
type Pipeline struct {
	orchestrator     OrchestratorClient
	acmeClient       acme.Client
	publisher        dnschallenge.Publisher
	resolver         dnschallenge.Resolver
	delegationDomain string

	pollInterval         time.Duration
	unreachableThreshold time.Duration
	unreachableSince     time.Time
	now                  func() time.Time
}

// Config configures a Pipeline.
type Config struct {
	Orchestrator     OrchestratorClient
	ACME             acme.Client
	Publisher        dnschallenge.Publisher
	Resolver         dnschallenge.Resolver
	DelegationDomain string
	PollInterval     time.Duration // how often to call DispenseTask when idle

	// UnreachableThreshold bounds how long consecutive orchestrator RPC
	// failures may continue before Run returns an error. Defaults to
	// DefaultUnreachableThreshold.
	UnreachableThreshold time.Duration
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := cfg.UnreachableThreshold
	if threshold <= 0 {
		threshold = DefaultUnreachableThreshold
	}
	return &Pipeline{
		orchestrator:         cfg.Orchestrator,
		acmeClient:           cfg.ACME,
		publisher:            cfg.Publisher,
		resolver:             cfg.Resolver,
		delegationDomain:     cfg.DelegationDomain,
		pollInterval:         interval,
		unreachableThreshold: threshold,
		now:                  time.Now,
	}
}

// Run loops dispense->process->report until ctx is canceled, or returns an
// error once the orchestrator has been unreachable for longer than the
// configured threshold (spec.md:159).
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) error {
	id, err := p.orchestrator.DispenseTask(ctx)
	if err != nil {
		if types.Is(err, types.KindNoTasksAvailable) {
			p.unreachableSince = time.Time{}
			return nil
		}
		return p.recordUnreachable(err, "dispenseTask failed")
	}
	p.unreachableSince = time.Time{}

	reg, err := p.orchestrator.GetRegistration(ctx, id)
	if err != nil {
		return p.recordUnreachable(err, "getRegistration failed")
	}

	p.process(ctx, reg)
	return nil
}

// recordUnreachable logs a failed orchestrator RPC and tracks how long the
// failures have been continuous, returning an error once that exceeds
// p.unreachableThreshold.
func (p *Pipeline) recordUnreachable(err error, msg string) error {
	now := p.now()
	if p.unreachableSince.IsZero() {
		p.unreachableSince = now
	}
	elapsed := now.Sub(p.unreachableSince)

	log.WithComponent("workerpipeline").Warn().Err(err).Dur("unreachable_for", elapsed).Msg(msg)

	if elapsed >= p.unreachableThreshold {
		return fmt.Errorf("workerpipeline: orchestrator unreachable for %s (threshold %s): %w", elapsed, p.unreachableThreshold, err)
	}
	return nil
}

// process executes exactly one phase for reg, as determined by its current
// state, and reports the outcome to the orchestrator.
func (p *Pipeline) process(ctx context.Context, reg *types.Registration) {
	logger := log.WithRegistrationID(reg.ID)
	action := types.ActionFor(reg.State)

	var err error
	switch action {
	case types.ActionOrder:
		err = p.orderPhase(ctx, reg)
	case types.ActionReady:
		err = p.readyPhase(ctx, reg)
	case types.ActionCertificate:
		err = p.certificatePhase(ctx, reg)
	}

	if err == nil {
		return
	}

	var transient *transientError
	if errors.As(err, &transient) {
		metrics.WorkerPhaseOutcomesTotal.WithLabelValues(string(action), string(transient.kind)).Inc()
		logger.Debug().Str("outcome", string(transient.kind)).Msg("phase transient outcome")
		return
	}

	metrics.WorkerPhaseOutcomesTotal.WithLabelValues(string(action), "UnexpectedError").Inc()
	logger.Warn().Err(err).Msg("phase failed")
	if uerr := p.orchestrator.UpdateRegistration(ctx, reg.ID, types.StateFailed, err.Error()); uerr != nil {
		logger.Error().Err(uerr).Msg("reporting failure to orchestrator")
	}
}

// transientError models an expected-transient phase outcome (spec.md §4.8):
// not an error to the operator, but also not a state advance.
type transientError struct {
	kind types.Kind
}

func (e *transientError) Error() string { return string(e.kind) }

func awaitingDNS() error { return &transientError{kind: types.KindAwaitingDnsPropagation} }
func awaitingAcme() error { return &transientError{kind: types.KindAwaitingAcmeOrderReady} }

// orderPhase: call acme.order(name), publish the DNS-01 TXT record, move the
// registration to PendingChallengeResponse, re-queue it for immediate
// dispense, and report AwaitingDnsPropagation. Propagation itself is checked
// by the Ready phase.
func (p *Pipeline) orderPhase(ctx context.Context, reg *types.Registration) error {
	challengeValue, err := p.acmeClient.Order(reg.Name)
	if err != nil {
		return err
	}

	if err := p.publisher.Create(p.delegationDomain, reg.Name, challengeValue); err != nil {
		return err
	}

	if err := p.orchestrator.UpdateRegistration(ctx, reg.ID, types.StatePendingChallengeResponse, ""); err != nil {
		return err
	}
	if err := p.orchestrator.QueueTask(ctx, reg.ID, p.now()); err != nil {
		return err
	}
	return awaitingDNS()
}

// readyPhase: resolve the TXT record; if absent, report AwaitingDnsPropagation
// (transient); on other resolver errors, escalate to UnexpectedError; on
// success, call acme.ready(name) and report AwaitingAcmeOrderReady.
func (p *Pipeline) readyPhase(ctx context.Context, reg *types.Registration) error {
	fqdn := dnschallenge.ChallengeLabel + "." + reg.Name + "." + p.delegationDomain + "."
	values, err := p.resolver.LookupTXT(fqdn)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return awaitingDNS()
	}

	if err := p.acmeClient.Ready(reg.Name); err != nil {
		return err
	}

	if err := p.orchestrator.UpdateRegistration(ctx, reg.ID, types.StatePendingAcmeApproval, ""); err != nil {
		return err
	}
	if err := p.orchestrator.QueueTask(ctx, reg.ID, p.now()); err != nil {
		return err
	}
	return awaitingAcme()
}

// certificatePhase: finalize the ACME order, delete the challenge TXT
// record, and upload the resulting pair. Upload transitions the
// registration to Available.
func (p *Pipeline) certificatePhase(ctx context.Context, reg *types.Registration) error {
	certChainPEM, keyPEM, err := p.acmeClient.Finalize(reg.Name)
	if err != nil {
		return err
	}

	if err := p.publisher.Delete(p.delegationDomain, reg.Name); err != nil {
		return err
	}

	pair := types.EncryptedPair{PrivateKey: keyPEM, CertChain: certChainPEM}
	return p.orchestrator.UploadCertificate(ctx, reg.ID, pair)
}
