package store

import (
	"errors"
	"fmt"

	"github.com/ssargent/userdots/pkg/codec"
)

// RefKind tells which arm of a Reference is set
type RefKind uint8

const (
	// RefCacheSlot points into the backend's append-only cache
	RefCacheSlot RefKind = iota + 1
	// RefPendingSeek is a known byte offset that has not been decoded yet
	RefPendingSeek
)

// Reference locates a record without copying it
type Reference struct {
	kind  RefKind
	value int64
}

// CacheSlot returns a reference to cache slot idx
func CacheSlot(idx int) Reference {
	return Reference{kind: RefCacheSlot, value: int64(idx)}
}

// PendingSeek returns a reference to the chunk starting at offset
func PendingSeek(offset int64) Reference {
	return Reference{kind: RefPendingSeek, value: offset}
}

// Kind returns the reference arm
func (r Reference) Kind() RefKind { return r.kind }

// Slot returns the cache index of a RefCacheSlot reference
func (r Reference) Slot() int { return int(r.value) }

// Offset returns the byte offset of a RefPendingSeek reference
func (r Reference) Offset() int64 { return r.value }

// IsZero reports whether the reference was never set
func (r Reference) IsZero() bool { return r.kind == 0 }

func (r Reference) String() string {
	switch r.kind {
	case RefCacheSlot:
		return fmt.Sprintf("cache:%d", r.value)
	case RefPendingSeek:
		return fmt.Sprintf("seek:%d", r.value)
	default:
		return "none"
	}
}

// CachePolicy selects which indexes Insert updates
type CachePolicy struct {
	Names   bool // lowercased name -> reference
	IDs     bool // id -> reference
	Offsets bool // offset -> cache slot, seekable sources only

	// PreferSeek is reserved. Nothing consults it.
	PreferSeek bool
}

// FullPolicy indexes names and ids
var FullPolicy = CachePolicy{Names: true, IDs: true}

// IndexEntry is one persisted index line: where a user's chunk starts
type IndexEntry struct {
	ID        int64
	Offset    int64
	HasOffset bool
	Name      string
}

// Stats describes the cache and index sizes of a backend
type Stats struct {
	Cached   int  `json:"cached"`
	Names    int  `json:"names"`
	IDs      int  `json:"ids"`
	Offsets  int  `json:"offsets"`
	Complete bool `json:"complete"`
	Seekable bool `json:"seekable"`
}

// Backend owns a record stream, its cache and its indexes
type Backend interface {
	// Resolve returns the record a reference points to
	Resolve(ref Reference) (*codec.UserRecord, error)

	// Cached returns the record in cache slot idx
	Cached(idx int) (*codec.UserRecord, bool)

	// Len returns the number of cached records
	Len() int

	// Insert appends rec to the cache and updates indexes per policy
	Insert(rec *codec.UserRecord, policy CachePolicy) Reference

	// LookupName probes the name index (case-insensitive)
	LookupName(name string) (Reference, error)

	// LookupID probes the id index
	LookupID(id int64) (Reference, error)

	// DecodeNext decodes the record at the current stream position.
	// It returns nil at the end marker.
	DecodeNext() (*codec.UserRecord, error)

	// AppendEvents adds events to a cached record
	AppendEvents(ref Reference, events ...int64) error

	// SortEvents sorts the events of every cached record ascending
	SortEvents()

	// IndexesReady reports whether the name and id indexes cover the whole container
	IndexesReady() (names, ids bool)

	// Complete reports whether a caching pass cached every record of the stream
	Complete() bool

	// Reader returns a sequential cursor; policy nil disables caching
	Reader(policy *CachePolicy) *Reader

	Stats() Stats
	Close() error
}

// Seeker is the random access capability of seekable backends
type Seeker interface {
	// ReadAt decodes exactly one chunk at offset
	ReadAt(offset int64) (*codec.UserRecord, error)

	// Reset repositions the stream to its start
	Reset() error

	// ByOffset returns the cached record for offset, or decodes it without caching
	ByOffset(offset int64) (*codec.UserRecord, error)
}

// Errors
var (
	ErrNotFound         = errors.New("store: record not found")
	ErrIndexUnavailable = errors.New("store: index not populated")
	ErrSeekUnsupported  = errors.New("store: source is not seekable")
	ErrLockUnavailable  = errors.New("store: backend is busy")
	ErrInvalidReference = errors.New("store: invalid reference")
	ErrClosed           = errors.New("store: backend is closed")
	ErrStreamConsumed   = errors.New("store: stream partly consumed without caching")
)
