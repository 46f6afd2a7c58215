// Package idgen generates deterministic 64-character lowercase-hex
// registration identifiers from a persisted (seed, counter) pair, per
// spec.md §4.3.
package idgen

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/cuemby/certorch/pkg/storage"
)

// Generator reads/writes the (seed, counter) pair from the ID-seed and
// ID-counter memory regions.
type Generator struct {
	seedRegion    *storage.Region
	counterRegion *storage.Region
	seed          uint64
	counter       uint64
}

var counterKey = []byte("counter")
var seedKey = []byte("seed")

// New opens the generator against the given store, seeding the persisted
// seed on first run and restoring the counter otherwise. seed is only
// written the first time the regions are empty; subsequent calls ignore the
// argument and use the persisted value, so restarts never change the ID
// space.
func New(store *storage.Store, seed uint64) (*Generator, error) {
	g := &Generator{
		seedRegion:    store.Region(storage.RegionIDSeed),
		counterRegion: store.Region(storage.RegionIDCounter),
	}

	if v, ok, err := g.seedRegion.Get(seedKey); err != nil {
		return nil, err
	} else if ok {
		g.seed = binary.BigEndian.Uint64(v)
	} else {
		g.seed = seed
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seed)
		if err := g.seedRegion.Insert(seedKey, buf); err != nil {
			return nil, err
		}
	}

	if v, ok, err := g.counterRegion.Get(counterKey); err != nil {
		return nil, err
	} else if ok {
		g.counter = binary.BigEndian.Uint64(v)
	}

	return g, nil
}

// Next increments the persisted counter, writes it back before returning
// (if the write fails, the error is returned and the in-memory counter is
// not advanced), and emits a 64-character lowercase hex id derived from
// sha256(seed || counter).
func (g *Generator) Next() (string, error) {
	g.counter++

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, g.counter)
	if err := g.counterRegion.Insert(counterKey, buf); err != nil {
		g.counter-- // persistence failed; don't advance in-memory state either
		return "", err
	}

	return deriveID(g.seed, g.counter), nil
}

// deriveID is collision-resistant for at least 2^64 generations of a given
// seed: sha256 produces 32 bytes, hex-encoded to exactly 64 characters.
func deriveID(seed, counter uint64) string {
	var input [16]byte
	binary.BigEndian.PutUint64(input[0:8], seed)
	binary.BigEndian.PutUint64(input[8:16], counter)
	sum := sha256.Sum256(input[:])
	return hex.EncodeToString(sum[:])
}
