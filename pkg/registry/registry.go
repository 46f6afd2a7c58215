// Package registry implements the Registration Store: the durable record of
// every (name -> registration) and (id -> registration), enforcing
// name-uniqueness and the registration state machine, per spec.md §4.5.
// Grounded on cuemby-warren/pkg/storage's JSON-encoded record pattern, and on
// original_source's Creator/Getter/Updater split (certificate_orchestrator's
// create_registration/get_registration/update_registration handlers).
package registry

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cuemby/certorch/pkg/queue"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
)

// RegistrationExpirationTTL is how far out a fresh (or just-updated)
// registration is pushed in the Expirations queue (spec.md §4.5).
const RegistrationExpirationTTL = 6 * time.Hour

// MaxNameLength bounds the total registration name, within the 256-byte key
// bound declared for the name-index region.
const MaxNameLength = 253

// Store is the durable registration record: two indices (by id, by name),
// each its own region and written in its own bbolt transaction, plus the two
// queues it reschedules registrations into on mutation.
type Store struct {
	byID        *storage.Region
	byName      *storage.Region
	expirations *queue.Queue
	retries     *queue.Queue
}

// New opens the registration store against the given regions, with the
// Expirations/Retries queues it must keep synchronized on every mutation.
func New(store *storage.Store, expirations, retries *queue.Queue) *Store {
	return &Store{
		byID:        store.Region(storage.RegionRegistrations),
		byName:      store.Region(storage.RegionNameIndex),
		expirations: expirations,
		retries:     retries,
	}
}

// Create validates name, rejects a live duplicate, and otherwise persists a
// new registration in state PendingOrder, scheduling its expiration. It does
// not enqueue a Task; the caller (work-queue engine) does that as a separate
// step so Create stays a pure registry operation.
func (s *Store) Create(id, name, canister string, now time.Time) (*types.Registration, error) {
	if err := validateName(name); err != nil {
		return nil, types.ErrNameError(err.Error())
	}

	if existingID, ok, err := s.lookupName(name); err != nil {
		return nil, err
	} else if ok {
		existing, ok, err := s.getByID(existingID)
		if err != nil {
			return nil, err
		}
		if ok && existing.State != types.StateAvailable {
			return nil, types.ErrDuplicate(existingID)
		}
	}

	reg := &types.Registration{
		ID:        id,
		Name:      name,
		Canister:  canister,
		State:     types.StatePendingOrder,
		CreatedAt: now,
	}
	if err := s.putByID(reg); err != nil {
		return nil, err
	}
	if err := s.byName.Insert([]byte(name), []byte(id)); err != nil {
		return nil, err
	}
	s.expirations.PushOrUpdate(id, now.Add(RegistrationExpirationTTL))

	return reg, nil
}

// Get returns the registration with id, or NotFound.
func (s *Store) Get(id string) (*types.Registration, error) {
	reg, ok, err := s.getByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNotFound()
	}
	return reg, nil
}

// Update applies newState to the registration with id, reschedules it in
// Expirations/Retries per spec.md §4.5, and persists the result.
//
//   - terminal newState (Available): removed from Expirations, Tasks (by the
//     caller; the registry itself only owns Expirations/Retries), Retries.
//   - Failed: pushed to Retries at now+backoff, refreshed in Expirations.
//   - any other non-terminal state: removed from Retries (a forward
//     transition cancels a pending retry), refreshed in Expirations.
func (s *Store) Update(id string, newState types.State, reason string, now time.Time, retryBackoff time.Duration) (*types.Registration, error) {
	reg, ok, err := s.getByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNotFound()
	}

	reg.State = newState
	if newState == types.StateFailed {
		reg.Reason = reason
	} else {
		reg.Reason = ""
	}

	if err := s.putByID(reg); err != nil {
		return nil, err
	}

	switch newState {
	case types.StateAvailable:
		s.expirations.RemoveByKey(id)
		s.retries.RemoveByKey(id)
	case types.StateFailed:
		s.retries.PushOrUpdate(id, now.Add(retryBackoff))
		s.expirations.PushOrUpdate(id, now.Add(RegistrationExpirationTTL))
	default:
		s.retries.RemoveByKey(id)
		s.expirations.PushOrUpdate(id, now.Add(RegistrationExpirationTTL))
	}

	return reg, nil
}

// Remove deletes the registration and its name-index entry outright, used
// only by expiration (spec.md §4.7's expire operation).
func (s *Store) Remove(id string) error {
	reg, ok, err := s.getByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.byName.Remove([]byte(reg.Name)); err != nil {
		return err
	}
	return s.byID.Remove([]byte(id))
}

func (s *Store) getByID(id string) (*types.Registration, bool, error) {
	v, ok, err := s.byID.Get([]byte(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var reg types.Registration
	if err := json.Unmarshal(v, &reg); err != nil {
		return nil, false, types.ErrUnexpected(err.Error())
	}
	return &reg, true, nil
}

func (s *Store) putByID(reg *types.Registration) error {
	v, err := json.Marshal(reg)
	if err != nil {
		return types.ErrUnexpected(err.Error())
	}
	return s.byID.Insert([]byte(reg.ID), v)
}

func (s *Store) lookupName(name string) (id string, ok bool, err error) {
	v, ok, err := s.byName.Get([]byte(name))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

// validateName enforces RFC 1035 domain-name syntax: 1-63 octet labels of
// ASCII letters/digits/hyphens (no leading/trailing hyphen), at least two
// labels, total length within MaxNameLength. No corpus dependency implements
// this, so it is written directly against the stdlib.
func validateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return errNameLength
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return errNameLabels
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return errLabelLength
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return errLabelHyphen
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return errLabelCharset
		}
	}
	return nil
}

type nameError string

func (e nameError) Error() string { return string(e) }

const (
	errNameLength   nameError = "name must be 1-253 octets"
	errNameLabels   nameError = "name must have at least two labels"
	errLabelLength  nameError = "label must be 1-63 octets"
	errLabelHyphen  nameError = "label must not start or end with a hyphen"
	errLabelCharset nameError = "label must contain only ASCII letters, digits, and hyphens"
)
