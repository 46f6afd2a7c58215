// Package queue implements the three in-memory priority queues the
// work-queue engine depends on: Tasks, Retries, and Expirations. Each is a
// min-heap ordered by due-time with a secondary key->slot index so a key's
// priority can be pushed or updated in O(log n), per spec.md §4.2. No
// library in the retrieved corpus supplies a keyed-update priority queue
// (the design notes call this out explicitly — "no language's standard
// priority queue suffices alone"), so this one component is built directly
// on container/heap, the one place in the module where the standard library
// is the correct tool rather than a fallback.
package queue

import (
	"container/heap"
	"sort"
	"time"
)

// entry is one (key, due-time) pair tracked by a Queue.
type entry struct {
	key string
	due int64 // UnixNano
}

// innerHeap implements container/heap.Interface over entries, ordered by
// due-time and tie-broken by key for determinism (spec.md §4.2).
type innerHeap []*entry

func (h innerHeap) Len() int { return len(h) }
func (h innerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].key < h[j].key
}
func (h innerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a min-heap by due-time with O(log n) keyed update/remove.
type Queue struct {
	h     innerHeap
	index map[string]int // key -> slot in h
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{index: make(map[string]int)}
}

// indexedHeap keeps the key->slot index in sync after any heap.Fix/Push/Pop.
// container/heap's Swap calls through h.Swap, which this Queue wraps so the
// index stays correct without re-scanning after every mutation.
type indexedHeap struct {
	*innerHeap
	index map[string]int
}

func (h indexedHeap) Swap(i, j int) {
	h.innerHeap.Swap(i, j)
	h.index[(*h.innerHeap)[i].key] = i
	h.index[(*h.innerHeap)[j].key] = j
}

func (h *indexedHeap) Push(x interface{}) {
	e := x.(*entry)
	h.index[e.key] = len(*h.innerHeap)
	h.innerHeap.Push(x)
}

func (h *indexedHeap) Pop() interface{} {
	e := h.innerHeap.Pop().(*entry)
	delete(h.index, e.key)
	return e
}

func (q *Queue) wrap() *indexedHeap {
	return &indexedHeap{innerHeap: &q.h, index: q.index}
}

// PushOrUpdate sets key's due-time to due, inserting it if absent or
// re-heapifying its position if already present.
func (q *Queue) PushOrUpdate(key string, due time.Time) {
	w := q.wrap()
	if slot, ok := q.index[key]; ok {
		q.h[slot].due = due.UnixNano()
		heap.Fix(w, slot)
		return
	}
	heap.Push(w, &entry{key: key, due: due.UnixNano()})
}

// Peek returns the key with the smallest due-time, without removing it. ok
// is false if the queue is empty.
func (q *Queue) Peek() (key string, due time.Time, ok bool) {
	if len(q.h) == 0 {
		return "", time.Time{}, false
	}
	return q.h[0].key, time.Unix(0, q.h[0].due), true
}

// Pop removes and returns the key with the smallest due-time.
func (q *Queue) Pop() (key string, due time.Time, ok bool) {
	if len(q.h) == 0 {
		return "", time.Time{}, false
	}
	e := heap.Pop(q.wrap()).(*entry)
	return e.key, time.Unix(0, e.due), true
}

// RemoveByKey removes key if present, reporting whether it was found.
func (q *Queue) RemoveByKey(key string) bool {
	slot, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(q.wrap(), slot)
	return true
}

// Contains reports whether key currently has an entry in the queue.
func (q *Queue) Contains(key string) bool {
	_, ok := q.index[key]
	return ok
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int { return len(q.h) }

// DueBy drains every entry whose due-time is <= now, in ascending due-time
// (ties broken by key) order, and returns their keys.
func (q *Queue) DueBy(now time.Time) []string {
	var due []string
	for {
		key, t, ok := q.Peek()
		if !ok || t.After(now) {
			break
		}
		q.Pop()
		due = append(due, key)
	}
	return due
}

// SnapshotEntry is the gob-serializable form of one queue entry.
type SnapshotEntry struct {
	Key string
	Due int64
}

// Snapshot returns every entry in ascending (due, key) order, suitable for
// gob-encoding across an upgrade.
func (q *Queue) Snapshot() []SnapshotEntry {
	entries := make([]SnapshotEntry, len(q.h))
	for i, e := range q.h {
		entries[i] = SnapshotEntry{Key: e.key, Due: e.due}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Due != entries[j].Due {
			return entries[i].Due < entries[j].Due
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Restore rebuilds the queue from a snapshot produced by Snapshot,
// preserving contents and ordering exactly (spec.md §8 invariant 5).
func Restore(entries []SnapshotEntry) *Queue {
	q := New()
	w := q.wrap()
	for i := range entries {
		heap.Push(w, &entry{key: entries[i].Key, due: entries[i].Due})
	}
	return q
}

// ReplaceWith overwrites q's contents in place with other's, preserving q's
// identity for callers that hold a *Queue pointer across a restore (the
// registration store keeps one to Expirations/Retries set at construction).
func (q *Queue) ReplaceWith(other *Queue) {
	q.h = other.h
	q.index = other.index
}
