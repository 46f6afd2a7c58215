/*
Package log provides structured logging for the orchestrator and worker
processes using zerolog.

The global Logger is configured once via Init and then narrowed per
component with WithComponent, or per unit of work with WithRegistrationID
and WithWorkerID. Every log line carries a timestamp; JSON output is the
default for production, with a human-readable console mode for local runs.

# Levels

  - Debug: transient worker-phase outcomes (AwaitingDnsPropagation,
    AwaitingAcmeOrderReady) that are expected, not actionable.
  - Info: lifecycle events — registration created, task dispensed,
    certificate uploaded, registration expired.
  - Warn: recoverable failures — an RPC call that will be retried, a
    resolver lookup that came back empty.
  - Error: failures that end a registration's current attempt — escalation
    to Failed, a storage write that did not complete.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("registration_id", id).Msg("registration created")

	regLogger := log.WithRegistrationID(id)
	regLogger.Warn().Err(err).Msg("dispenseTask rejected")

Do not log EncryptedPair contents or ACME account keys; both are treated as
opaque secret material throughout this codebase.
*/
package log
