// Package types defines the data model shared by the orchestrator and the
// worker pipeline: registrations, their lifecycle states, the derived task
// action, and the encrypted certificate pair.
package types

import "time"

// State is a registration's position in the ACME lifecycle DAG.
type State string

const (
	StatePendingOrder             State = "PendingOrder"
	StatePendingChallengeResponse State = "PendingChallengeResponse"
	StatePendingAcmeApproval      State = "PendingAcmeApproval"
	StateAvailable                State = "Available"
	StateFailed                   State = "Failed"
)

// Terminal reports whether s is Available, the only terminal state. Failed
// is not terminal: the retry sweep sends it back through the Order phase.
func (s State) Terminal() bool {
	return s == StateAvailable
}

// Registration is the durable record of a single customer domain-name
// enrollment.
type Registration struct {
	ID        string
	Name      string
	Canister  string // opaque owning principal
	State     State
	Reason    string // populated only when State == StateFailed
	CreatedAt time.Time
}

// Available reports whether the registration has a usable certificate.
func (r *Registration) Available() bool {
	return r.State == StateAvailable
}

// Action is the ACME-protocol phase a dispensed Task asks a worker to run.
type Action string

const (
	ActionOrder       Action = "Order"
	ActionReady       Action = "Ready"
	ActionCertificate Action = "Certificate"
)

// ActionFor derives the Action a registration's current state implies. It is
// a pure function of state, never stored.
func ActionFor(s State) Action {
	switch s {
	case StatePendingChallengeResponse:
		return ActionReady
	case StatePendingAcmeApproval:
		return ActionCertificate
	case StateFailed, StatePendingOrder, StateAvailable:
		return ActionOrder
	default:
		return ActionOrder
	}
}

// Task is derived on demand from a Registration; it is never persisted on
// its own.
type Task struct {
	ID     string
	Name   string
	Action Action
}

// Bounds on EncryptedPair fields, enforced by the certificate store.
const (
	MaxPrivateKeyBytes = 1 << 10 // 1 KiB
	MaxCertChainBytes  = 8 << 10 // 8 KiB
)

// EncryptedPair is the opaque (private key, certificate chain) ciphertext
// uploaded by a worker once the ACME finalize step succeeds. Both fields are
// treated as opaque bytes; encryption/decryption is an external concern.
type EncryptedPair struct {
	PrivateKey []byte
	CertChain  []byte
}

// ExportedCertificate is one row of an exportCertificates response.
type ExportedCertificate struct {
	Name string
	ID   string
	Pair EncryptedPair
}

// Outcome is what a worker reports back after attempting one phase.
type Outcome string

const (
	// OutcomeAwaitingDnsPropagation is reported by the Order and Ready
	// phases while the challenge TXT record has not yet propagated.
	OutcomeAwaitingDnsPropagation Outcome = "AwaitingDnsPropagation"
	// OutcomeAwaitingAcmeOrderReady is reported by the Ready phase once the
	// CA has acknowledged the challenge.
	OutcomeAwaitingAcmeOrderReady Outcome = "AwaitingAcmeOrderReady"
	// OutcomeAdvanced means the phase completed and the registration's
	// state should move to the next step in the DAG.
	OutcomeAdvanced Outcome = "Advanced"
)
