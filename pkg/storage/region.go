// Package storage provides the stable storage layer: a single bbolt file
// opened once at process start, exposing named "memory regions" as ordered
// key-value maps with declared maximum key and value sizes. Regions survive
// process restart and upgrade, grounded on cuemby-warren/pkg/storage's
// bbolt-backed store but generalized into one reusable abstraction instead
// of one hand-written bucket wrapper per entity type, per spec.md §4.1.
package storage

import (
	"fmt"

	"github.com/cuemby/certorch/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// RegionID names one of the ten reserved memory regions (spec.md §6).
type RegionID int

const (
	RegionRootPrincipals RegionID = iota
	RegionAllowedPrincipals
	RegionIDCounter
	RegionIDSeed
	RegionRegistrations
	RegionNameIndex
	RegionCertificates
	RegionTasksSnapshot
	RegionExpirationsSnapshot
	RegionRetriesSnapshot
	regionCount
)

var regionNames = [regionCount][]byte{
	RegionRootPrincipals:      []byte("root_principals"),
	RegionAllowedPrincipals:   []byte("allowed_principals"),
	RegionIDCounter:           []byte("id_counter"),
	RegionIDSeed:              []byte("id_seed"),
	RegionRegistrations:       []byte("registrations"),
	RegionNameIndex:           []byte("name_index"),
	RegionCertificates:        []byte("certificates"),
	RegionTasksSnapshot:       []byte("tasks_snapshot"),
	RegionExpirationsSnapshot: []byte("expirations_snapshot"),
	RegionRetriesSnapshot:     []byte("retries_snapshot"),
}

// defaultBounds declares the maximum key/value length each region accepts.
// Registration and certificate payloads are JSON-encoded, so their bounds
// are generous relative to the raw EncryptedPair bounds in pkg/types; the
// queue snapshot regions hold one gob blob each under a fixed key, so their
// value bound is large and their key bound is tiny.
var defaultBounds = [regionCount]struct{ maxKey, maxValue int }{
	RegionRootPrincipals:      {maxKey: 256, maxValue: 1},
	RegionAllowedPrincipals:   {maxKey: 256, maxValue: 1},
	RegionIDCounter:           {maxKey: 16, maxValue: 16},
	RegionIDSeed:              {maxKey: 16, maxValue: 16},
	RegionRegistrations:       {maxKey: 64, maxValue: 4096},
	RegionNameIndex:           {maxKey: 256, maxValue: 64},
	RegionCertificates:        {maxKey: 64, maxValue: types.MaxPrivateKeyBytes + types.MaxCertChainBytes + 4096},
	RegionTasksSnapshot:       {maxKey: 16, maxValue: 8 << 20},
	RegionExpirationsSnapshot: {maxKey: 16, maxValue: 8 << 20},
	RegionRetriesSnapshot:     {maxKey: 16, maxValue: 8 << 20},
}

// ErrStorageFull and the StorageIO errors built by errStorageIO are returned
// to the caller like any other error. Nothing in this package or in the
// orchestrator stops the process on them, and a multi-step write that fails
// part-way leaves its earlier steps in place.
var (
	ErrStorageFull = &types.Error{Kind: types.KindStorageFull}
)

func errStorageIO(err error) *types.Error {
	return &types.Error{Kind: types.KindStorageIO, Detail: err.Error()}
}

// Store is the stable storage layer: a bbolt-backed database with one
// bucket per memory region.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path, creating all ten
// memory regions' buckets if they do not already exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errStorageIO(fmt.Errorf("opening stable storage: %w", err))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for id := RegionID(0); id < regionCount; id++ {
			if _, err := tx.CreateBucketIfNotExists(regionNames[id]); err != nil {
				return fmt.Errorf("creating region %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errStorageIO(err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Region returns a handle scoped to one memory region.
func (s *Store) Region(id RegionID) *Region {
	return &Region{
		store:    s,
		bucket:   regionNames[id],
		maxKey:   defaultBounds[id].maxKey,
		maxValue: defaultBounds[id].maxValue,
	}
}

// Region is an ordered key-value map bounded by declared max key/value
// sizes, scoped to a single bbolt bucket.
type Region struct {
	store    *Store
	bucket   []byte
	maxKey   int
	maxValue int
}

// Insert writes k -> v, failing with ErrStorageFull if either exceeds the
// region's declared bound.
func (r *Region) Insert(k, v []byte) error {
	if len(k) > r.maxKey || len(v) > r.maxValue {
		return ErrStorageFull
	}
	err := r.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Put(k, v)
	})
	if err != nil {
		return errStorageIO(err)
	}
	return nil
}

// Get reads the value stored at k. ok is false if no such key exists.
func (r *Region) Get(k []byte) (v []byte, ok bool, err error) {
	txErr := r.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(r.bucket).Get(k)
		if data == nil {
			return nil
		}
		v = append([]byte(nil), data...) // bbolt data is only valid in-transaction
		ok = true
		return nil
	})
	if txErr != nil {
		return nil, false, errStorageIO(txErr)
	}
	return v, ok, nil
}

// Remove deletes k, if present.
func (r *Region) Remove(k []byte) error {
	err := r.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).Delete(k)
	})
	if err != nil {
		return errStorageIO(err)
	}
	return nil
}

// Iter calls fn for every key in ascending lexicographic order, stopping
// early if fn returns false.
func (r *Region) Iter(fn func(k, v []byte) bool) error {
	err := r.store.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(r.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return errStorageIO(err)
	}
	return nil
}

// Scan returns every key/value pair in ascending key order. Prefer Iter for
// large regions; Scan is for the small, bounded principal/registration
// regions callers need fully materialized.
func (r *Region) Scan() (keys, values [][]byte, err error) {
	err = r.Iter(func(k, v []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		values = append(values, append([]byte(nil), v...))
		return true
	})
	return keys, values, err
}
