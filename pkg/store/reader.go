package store

import (
	"github.com/ssargent/userdots/pkg/codec"
)

// Reader is a forward, single-pass cursor over a backend.
//
// With a cache policy every decoded record is inserted into the backend's
// cache and the cursor holds a reference to that slot, so one pass builds the
// indexes while the data streams past. Without a policy the cursor holds the
// decoded record and the cache is untouched.
//
// A Reader needs exclusive use of its backend's stream for its lifetime. It
// stops for good at the end marker or the first error.
type Reader struct {
	backend   Backend
	arena     *arena
	policy    *CachePolicy
	fromStart bool

	record *codec.UserRecord
	ref    Reference
	done   bool
	err    error
}

func newReader(b Backend, a *arena, policy *CachePolicy, fromStart bool) *Reader {
	r := &Reader{
		backend:   b,
		arena:     a,
		fromStart: fromStart,
	}
	if policy != nil {
		p := *policy
		r.policy = &p
		a.enable(p)
	}
	return r
}

// Next advances to the next record
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	rec, err := r.backend.DecodeNext()
	if err != nil {
		r.finish()
		r.err = err
		return false
	}
	if rec == nil {
		r.finish()
		if r.policy != nil && r.fromStart {
			r.arena.markComplete()
		}
		return false
	}

	if r.policy != nil {
		r.ref = r.backend.Insert(rec, *r.policy)
		r.record = nil
	} else {
		r.ref = Reference{}
		r.record = rec
	}
	return true
}

// Record returns the current record, resolved from the cache when caching
func (r *Reader) Record() *codec.UserRecord {
	if r.record != nil {
		return r.record
	}
	if r.ref.Kind() == RefCacheSlot {
		rec, _ := r.backend.Cached(r.ref.Slot())
		return rec
	}
	return nil
}

// Ref returns the cache reference of the current record when caching
func (r *Reader) Ref() (Reference, bool) {
	return r.ref, r.ref.Kind() == RefCacheSlot
}

// Err returns the error that stopped the cursor, if any
func (r *Reader) Err() error {
	return r.err
}

// Close stops the cursor. The backend stays open; it is owned by the caller.
func (r *Reader) Close() error {
	r.finish()
	return nil
}

func (r *Reader) finish() {
	r.done = true
	r.record = nil
	r.ref = Reference{}
}

// cacheIterator walks the cache in slot order
type cacheIterator struct {
	backend Backend
	next    int
	record  *codec.UserRecord
}

// CachedRecords returns a source over the backend's cache in insertion order.
// Records inserted while iterating are included.
func CachedRecords(b Backend) codec.RecordSource {
	return &cacheIterator{backend: b}
}

func (it *cacheIterator) Next() bool {
	rec, ok := it.backend.Cached(it.next)
	if !ok {
		it.record = nil
		return false
	}
	it.next++
	it.record = rec
	return true
}

func (it *cacheIterator) Record() *codec.UserRecord {
	return it.record
}

func (it *cacheIterator) Err() error {
	return nil
}

// Warm runs one caching pass over b and rewinds it when it can seek.
// It returns the number of records cached by the pass.
func Warm(b Backend, policy CachePolicy) (int, error) {
	reader := b.Reader(&policy)
	defer reader.Close()

	n := 0
	for reader.Next() {
		n++
	}
	if err := reader.Err(); err != nil {
		return n, err
	}
	if s, ok := b.(Seeker); ok {
		if err := s.Reset(); err != nil {
			return n, err
		}
	}
	return n, nil
}
