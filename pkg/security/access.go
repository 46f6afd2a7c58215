// Package security implements the two-tier principal access control
// described in spec.md §4.4: a fixed set of root principals that may manage
// the allowed-principal set, and an allowed-principal set whose members may
// call every other write operation. Grounded on cuemby-warren/pkg/api's
// ensureLeader pre-flight guard, called at the top of every write handler
// rather than wrapped in decorator objects.
package security

import (
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
)

// Set names which memory region a principal is checked against.
type Set int

const (
	SetRoot Set = iota
	SetAllowed
)

var present = []byte{1}

// Registry holds the root and allowed principal sets, each persisted in its
// own memory region as a set of opaque principal identifiers mapped to a
// single-byte presence marker.
type Registry struct {
	root    *storage.Region
	allowed *storage.Region
}

// New opens the access-control registry against store, seeding the root set
// with roots on first run. Subsequent opens ignore roots: only the
// already-persisted set is ever policy.
func New(store *storage.Store, roots []string) (*Registry, error) {
	r := &Registry{
		root:    store.Region(storage.RegionRootPrincipals),
		allowed: store.Region(storage.RegionAllowedPrincipals),
	}

	keys, _, err := r.root.Scan()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		for _, p := range roots {
			if err := r.root.Insert([]byte(p), present); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// Authorize reports an *types.Error with Kind Unauthorized if caller is not
// present in set, nil otherwise.
func (r *Registry) Authorize(caller string, set Set) error {
	region := r.regionFor(set)
	_, ok, err := region.Get([]byte(caller))
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrUnauthorized()
	}
	return nil
}

// Grant adds principal to the allowed set. caller must already be a root
// principal.
func (r *Registry) Grant(caller, principal string) error {
	if err := r.Authorize(caller, SetRoot); err != nil {
		return err
	}
	return r.allowed.Insert([]byte(principal), present)
}

// Revoke removes principal from the allowed set. caller must already be a
// root principal. Revoking an absent principal is a no-op.
func (r *Registry) Revoke(caller, principal string) error {
	if err := r.Authorize(caller, SetRoot); err != nil {
		return err
	}
	return r.allowed.Remove([]byte(principal))
}

// ListAllowed returns every principal currently in the allowed set.
func (r *Registry) ListAllowed() ([]string, error) {
	keys, _, err := r.allowed.Scan()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out, nil
}

func (r *Registry) regionFor(set Set) *storage.Region {
	if set == SetRoot {
		return r.root
	}
	return r.allowed
}
