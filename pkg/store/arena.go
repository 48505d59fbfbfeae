package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ssargent/userdots/pkg/codec"
)

// arena is the append-only record cache and its indexes, shared by both backends.
// Slots are never freed; indexes only hold references into it.
type arena struct {
	records []*codec.UserRecord
	names   map[string]Reference
	ids     map[int64]Reference
	offsets map[int64]int

	namesReady bool
	idsReady   bool
	complete   bool
	preloaded  bool

	mutex sync.RWMutex
}

func newArena() *arena {
	return &arena{
		names:   make(map[string]Reference),
		ids:     make(map[int64]Reference),
		offsets: make(map[int64]int),
	}
}

// Cached returns the record in cache slot idx
func (a *arena) Cached(idx int) (*codec.UserRecord, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if idx < 0 || idx >= len(a.records) {
		return nil, false
	}
	return a.records[idx], true
}

// Len returns the number of cached records
func (a *arena) Len() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return len(a.records)
}

// Insert appends rec to the cache and updates the indexes selected by policy.
// Later inserts win on name and id collisions.
func (a *arena) Insert(rec *codec.UserRecord, policy CachePolicy) Reference {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	idx := len(a.records)
	ref := CacheSlot(idx)

	if policy.Offsets && rec.Offset != nil {
		a.offsets[*rec.Offset] = idx
	}
	if policy.IDs {
		a.ids[rec.ID] = ref
		a.idsReady = true
	}
	if policy.Names {
		a.names[strings.ToLower(rec.Name)] = ref
		a.namesReady = true
	}

	a.records = append(a.records, rec)
	return ref
}

// LookupName probes the name index
func (a *arena) LookupName(name string) (Reference, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.namesReady {
		return Reference{}, fmt.Errorf("%w: names", ErrIndexUnavailable)
	}
	ref, ok := a.names[strings.ToLower(name)]
	if !ok {
		return Reference{}, ErrNotFound
	}
	return ref, nil
}

// LookupID probes the id index
func (a *arena) LookupID(id int64) (Reference, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.idsReady {
		return Reference{}, fmt.Errorf("%w: ids", ErrIndexUnavailable)
	}
	ref, ok := a.ids[id]
	if !ok {
		return Reference{}, ErrNotFound
	}
	return ref, nil
}

// AppendEvents adds events to the cached record ref points to
func (a *arena) AppendEvents(ref Reference, events ...int64) error {
	if ref.Kind() != RefCacheSlot {
		return fmt.Errorf("%w: %s is not cached", ErrInvalidReference, ref)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	idx := ref.Slot()
	if idx < 0 || idx >= len(a.records) {
		return fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	a.records[idx].Events = append(a.records[idx].Events, events...)
	return nil
}

// SortEvents sorts the events of every cached record ascending
func (a *arena) SortEvents() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, rec := range a.records {
		slices.Sort(rec.Events)
	}
}

// Complete reports whether a caching pass cached every record of the stream
func (a *arena) Complete() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.complete
}

// IndexesReady reports whether the name and id indexes cover the whole
// container. A caching pass counts only once it reached the end marker.
func (a *arena) IndexesReady() (names, ids bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if !a.complete && !a.preloaded {
		return false, false
	}
	return a.namesReady, a.idsReady
}

// preload fills the name and id indexes with pending seeks from a persisted index.
// Entries without an offset have nothing to point at and are skipped.
func (a *arena) preload(entries []IndexEntry) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	loaded := 0
	for _, e := range entries {
		if !e.HasOffset {
			continue
		}
		ref := PendingSeek(e.Offset)
		a.names[strings.ToLower(e.Name)] = ref
		a.ids[e.ID] = ref
		loaded++
	}
	a.namesReady = true
	a.idsReady = true
	a.preloaded = true
	return loaded
}

// enable marks the indexes a caching pass will populate as available,
// so an empty stream still reports "not found" rather than "no index".
func (a *arena) enable(policy CachePolicy) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if policy.Names {
		a.namesReady = true
	}
	if policy.IDs {
		a.idsReady = true
	}
}

func (a *arena) markComplete() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.complete = true
}

func (a *arena) offsetSlot(offset int64) (int, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	idx, ok := a.offsets[offset]
	return idx, ok
}

func (a *arena) stats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return Stats{
		Cached:   len(a.records),
		Names:    len(a.names),
		IDs:      len(a.ids),
		Offsets:  len(a.offsets),
		Complete: a.complete,
	}
}
