// Package storage keeps persisted user indexes in a pebble database, for
// containers whose index is too large to parse from CSV on every start.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/userdots/pkg/store"
)

// value layout: flags(1) offset(8) id(8) name
const (
	flagHasOffset byte = 1 << iota
)

const valueHeaderSize = 1 + 8

// ErrCorruptEntry is returned for values that do not decode
var ErrCorruptEntry = errors.New("storage: corrupt index entry")

// PebbleIndex stores index entries keyed by insertion sequence, so loading
// them back replays the original order and later entries still win.
type PebbleIndex struct {
	db    *pebble.DB
	next  uint64
	mutex sync.Mutex
}

// OpenPebbleIndex opens or creates the index directory at path
func OpenPebbleIndex(path string) (*PebbleIndex, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	idx := &PebbleIndex{db: db}
	last, err := idx.lastSequence()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	idx.next = last + 1
	return idx, nil
}

// Put appends an entry
func (s *PebbleIndex) Put(e store.IndexEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.db.Set(sequenceKey(s.next), encodeEntry(e), pebble.NoSync); err != nil {
		return err
	}
	s.next++
	return nil
}

// Build appends the index entry of every record b yields from its current
// position, committing them in one synced batch
func (s *PebbleIndex) Build(b store.Backend) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	seq := s.next
	n, err := store.ScanIndex(b, func(e store.IndexEntry) error {
		if err := batch.Set(sequenceKey(seq), encodeEntry(e), nil); err != nil {
			return err
		}
		seq++
		return nil
	})
	if err != nil {
		return n, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return n, err
	}
	s.next = seq
	return n, nil
}

// Entries returns every entry in insertion order
func (s *PebbleIndex) Entries() ([]store.IndexEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []store.IndexEntry
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("key %x: %w", iter.Key(), err)
		}
		entries = append(entries, e)
	}
	return entries, iter.Error()
}

// Len returns the number of stored entries
func (s *PebbleIndex) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return int(s.next - 1)
}

func (s *PebbleIndex) Close() error {
	return s.db.Close()
}

func (s *PebbleIndex) lastSequence() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	key := iter.Key()
	if len(key) != 8 {
		return 0, fmt.Errorf("%w: key %x", ErrCorruptEntry, key)
	}
	return binary.BigEndian.Uint64(key), nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func encodeEntry(e store.IndexEntry) []byte {
	buf := make([]byte, valueHeaderSize+8+len(e.Name))
	if e.HasOffset {
		buf[0] |= flagHasOffset
	}
	binary.LittleEndian.PutUint64(buf[1:9], uint64(e.Offset))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(e.ID))
	copy(buf[17:], e.Name)
	return buf
}

func decodeEntry(value []byte) (store.IndexEntry, error) {
	if len(value) < valueHeaderSize+8 {
		return store.IndexEntry{}, ErrCorruptEntry
	}
	return store.IndexEntry{
		HasOffset: value[0]&flagHasOffset != 0,
		Offset:    int64(binary.LittleEndian.Uint64(value[1:9])),
		ID:        int64(binary.LittleEndian.Uint64(value[9:17])),
		Name:      string(value[17:]), // copies out of the iterator's buffer
	}, nil
}
