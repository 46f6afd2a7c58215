// Package certstore implements the Certificate Store: maps registration id
// to its encrypted (private-key, cert-chain) pair and exports every
// Available registration's material, per spec.md §4.6. Grounded on
// cuemby-warren/pkg/storage's TLSCertificate bucket, generalized onto the
// shared storage.Region abstraction and wired to registry.Store so upload is
// atomic with the Available transition.
package certstore

import (
	"encoding/json"
	"time"

	"github.com/cuemby/certorch/pkg/registry"
	"github.com/cuemby/certorch/pkg/storage"
	"github.com/cuemby/certorch/pkg/types"
)

// Store persists EncryptedPairs and drives the paired registration to
// Available on successful upload.
type Store struct {
	certs *storage.Region
	regs  *registry.Store
}

// New opens the certificate store against the given region, paired with the
// registration store it updates on Upload.
func New(store *storage.Store, regs *registry.Store) *Store {
	return &Store{
		certs: store.Region(storage.RegionCertificates),
		regs:  regs,
	}
}

// Upload writes pair for id and transitions its registration to Available.
// The registration must already exist.
func (s *Store) Upload(id string, pair types.EncryptedPair, now time.Time) error {
	if len(pair.PrivateKey) > types.MaxPrivateKeyBytes || len(pair.CertChain) > types.MaxCertChainBytes {
		return storage.ErrStorageFull
	}

	if _, err := s.regs.Get(id); err != nil {
		return err
	}

	v, err := json.Marshal(pair)
	if err != nil {
		return types.ErrUnexpected(err.Error())
	}
	if err := s.certs.Insert([]byte(id), v); err != nil {
		return err
	}

	_, err = s.regs.Update(id, types.StateAvailable, "", now, 0)
	return err
}

// Export returns every (name, id, pair) triple for the registrations that
// currently hold an uploaded pair, in ascending id order (the storage
// region's natural iteration order).
func (s *Store) Export() ([]types.ExportedCertificate, error) {
	keys, values, err := s.certs.Scan()
	if err != nil {
		return nil, err
	}

	out := make([]types.ExportedCertificate, 0, len(keys))
	for i, k := range keys {
		var pair types.EncryptedPair
		if err := json.Unmarshal(values[i], &pair); err != nil {
			return nil, types.ErrUnexpected(err.Error())
		}
		id := string(k)
		reg, err := s.regs.Get(id)
		if err != nil {
			continue // registration expired/removed after upload; skip it
		}
		out = append(out, types.ExportedCertificate{Name: reg.Name, ID: id, Pair: pair})
	}
	return out, nil
}
