// Upgrade/Persistence Glue, per spec.md §4.9: gob-encode the three priority
// queues into their reserved memory regions on shutdown, and restore them on
// startup. Grounded on original_source's pre_upgrade/post_upgrade hooks,
// translated into explicit Snapshot/Restore methods a supervisor calls
// around a planned restart rather than a runtime-managed lifecycle hook.
package orchestrator

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/certorch/pkg/queue"
	"github.com/cuemby/certorch/pkg/storage"
)

var snapshotKey = []byte("snapshot")

// Snapshot serializes Tasks, Retries, and Expirations into their reserved
// memory regions. Failure to persist is fatal per spec.md §4.9; the caller
// is expected to log and exit rather than continue serving.
func (o *Orchestrator) Snapshot() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := writeQueue(o.store.Region(storage.RegionTasksSnapshot), o.tasks); err != nil {
		return fmt.Errorf("orchestrator: snapshotting tasks: %w", err)
	}
	if err := writeQueue(o.store.Region(storage.RegionRetriesSnapshot), o.retries); err != nil {
		return fmt.Errorf("orchestrator: snapshotting retries: %w", err)
	}
	if err := writeQueue(o.store.Region(storage.RegionExpirationsSnapshot), o.expirations); err != nil {
		return fmt.Errorf("orchestrator: snapshotting expirations: %w", err)
	}
	return nil
}

// Restore deserializes Tasks, Retries, and Expirations from their reserved
// memory regions, replacing whatever is currently in memory. Must be called
// before Run. Failure to restore is fatal per spec.md §4.9.
func (o *Orchestrator) Restore() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	tasks, err := readQueue(o.store.Region(storage.RegionTasksSnapshot))
	if err != nil {
		return fmt.Errorf("orchestrator: restoring tasks: %w", err)
	}
	retries, err := readQueue(o.store.Region(storage.RegionRetriesSnapshot))
	if err != nil {
		return fmt.Errorf("orchestrator: restoring retries: %w", err)
	}
	expirations, err := readQueue(o.store.Region(storage.RegionExpirationsSnapshot))
	if err != nil {
		return fmt.Errorf("orchestrator: restoring expirations: %w", err)
	}

	// Replace in place rather than reassigning the fields: registry.Store
	// holds its own *queue.Queue pointers to Expirations/Retries taken at
	// construction, and must observe the restored contents through them.
	o.tasks.ReplaceWith(tasks)
	o.retries.ReplaceWith(retries)
	o.expirations.ReplaceWith(expirations)
	return nil
}

func writeQueue(region *storage.Region, q *queue.Queue) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(q.Snapshot()); err != nil {
		return err
	}
	return region.Insert(snapshotKey, buf.Bytes())
}

func readQueue(region *storage.Region) (*queue.Queue, error) {
	v, ok, err := region.Get(snapshotKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return queue.New(), nil
	}

	var entries []queue.SnapshotEntry
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&entries); err != nil {
		return nil, err
	}
	return queue.Restore(entries), nil
}
