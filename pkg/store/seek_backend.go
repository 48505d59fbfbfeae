package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ssargent/userdots/pkg/codec"
)

// SeekBackend wraps a seekable stream behind a single lock.
//
// Every reposition and the decode that follows it happen under the lock, so
// concurrent ReadAt calls never observe each other's seeks. The lock is
// released between calls. Records decoded here carry the offset their chunk
// starts at.
type SeekBackend struct {
	*arena

	source      io.ReadSeeker
	reader      *bufio.Reader
	origin      int64 // offset of the container's first chunk
	position    int64 // logical offset of the next unread byte
	codec       *codec.RecordCodec
	closers     []io.Closer
	nonBlocking bool
	closed      bool
	mutex       sync.Mutex
}

// SeekOptions configures a SeekBackend
type SeekOptions struct {
	BufferSize int // read buffer size, 0 = 64KB

	// NonBlocking makes contended handle acquisition fail with
	// ErrLockUnavailable instead of waiting
	NonBlocking bool
}

// NewSeekBackend creates a seek-capable backend over rs. The container starts
// at the current position of rs; Reset returns there and offsets stay
// relative to the stream. Closing the backend closes rs when it is an io.Closer.
func NewSeekBackend(rs io.ReadSeeker, opts SeekOptions) (*SeekBackend, error) {
	position, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream position: %w", err)
	}

	size := opts.BufferSize
	if size <= 0 {
		size = 64 * 1024
	}

	b := &SeekBackend{
		arena:       newArena(),
		source:      rs,
		reader:      bufio.NewReaderSize(rs, size),
		origin:      position,
		position:    position,
		codec:       codec.NewRecordCodec(),
		nonBlocking: opts.NonBlocking,
	}
	if c, ok := rs.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
	return b, nil
}

// DecodeNext decodes the record at the current position and tags it with that offset
func (b *SeekBackend) DecodeNext() (*codec.UserRecord, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	offset := b.position
	rec, err := b.codec.Decode(&positionReader{reader: b.reader, position: &b.position})
	b.mutex.Unlock()

	if err != nil {
		return nil, fmt.Errorf("decoding chunk at offset %d: %w", offset, err)
	}
	if rec != nil {
		rec.Offset = &offset
	}
	return rec, nil
}

// ReadAt repositions to offset and decodes exactly one record.
// It returns nil when offset holds the end marker.
func (b *SeekBackend) ReadAt(offset int64) (*codec.UserRecord, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidReference, offset)
	}

	if err := b.acquire(); err != nil {
		return nil, err
	}
	rec, err := b.readAtLocked(offset)
	b.mutex.Unlock()

	if err != nil {
		return nil, fmt.Errorf("reading chunk at offset %d: %w", offset, err)
	}
	if rec != nil {
		rec.Offset = &offset
	}
	return rec, nil
}

func (b *SeekBackend) readAtLocked(offset int64) (*codec.UserRecord, error) {
	if err := b.seekLocked(offset); err != nil {
		return nil, err
	}
	return b.codec.Decode(&positionReader{reader: b.reader, position: &b.position})
}

// Reset repositions the stream to the container's first chunk
func (b *SeekBackend) Reset() error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mutex.Unlock()
	return b.seekLocked(b.origin)
}

// ByOffset returns the cached record when the offset index knows offset,
// otherwise it decodes the chunk without caching it
func (b *SeekBackend) ByOffset(offset int64) (*codec.UserRecord, error) {
	if idx, ok := b.offsetSlot(offset); ok {
		if rec, ok := b.Cached(idx); ok {
			return rec, nil
		}
	}
	return b.ReadAt(offset)
}

// Resolve returns the record a reference points to. Pending seeks are decoded
// but not cached; callers that want them cached insert the result.
func (b *SeekBackend) Resolve(ref Reference) (*codec.UserRecord, error) {
	switch ref.Kind() {
	case RefCacheSlot:
		rec, ok := b.Cached(ref.Slot())
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
		}
		return rec, nil
	case RefPendingSeek:
		rec, err := b.ReadAt(ref.Offset())
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%w: %s points at the end marker", ErrInvalidReference, ref)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
}

// Preload fills the name and id indexes from a persisted index so lookups
// can seek straight to a chunk without scanning. It returns the number of
// entries that carried an offset.
func (b *SeekBackend) Preload(entries []IndexEntry) int {
	return b.preload(entries)
}

// Reader returns a sequential cursor; policy nil disables caching
func (b *SeekBackend) Reader(policy *CachePolicy) *Reader {
	b.mutex.Lock()
	fromStart := b.position == b.origin
	b.mutex.Unlock()

	return newReader(b, b.arena, policy, fromStart)
}

// Position returns the offset of the next chunk DecodeNext will read
func (b *SeekBackend) Position() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.position
}

// Stats returns cache and index sizes
func (b *SeekBackend) Stats() Stats {
	s := b.stats()
	s.Seekable = true
	return s
}

// Close releases the underlying stream
func (b *SeekBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (b *SeekBackend) addCloser(c io.Closer) {
	b.closers = append(b.closers, c)
}

// acquire takes the handle lock. On success the caller must unlock.
func (b *SeekBackend) acquire() error {
	if b.nonBlocking {
		if !b.mutex.TryLock() {
			return ErrLockUnavailable
		}
	} else {
		b.mutex.Lock()
	}
	if b.closed {
		b.mutex.Unlock()
		return ErrClosed
	}
	return nil
}

// seekLocked moves the stream to offset, keeping buffered bytes when already there
func (b *SeekBackend) seekLocked(offset int64) error {
	if offset == b.position {
		return nil
	}
	if _, err := b.source.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	b.reader.Reset(b.source) // Drop bytes buffered for the old position
	b.position = offset
	return nil
}

// positionReader counts consumed bytes so chunk offsets survive buffering
type positionReader struct {
	reader   *bufio.Reader
	position *int64
}

func (p *positionReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	*p.position += int64(n)
	return n, err
}

func (p *positionReader) ReadByte() (byte, error) {
	c, err := p.reader.ReadByte()
	if err == nil {
		*p.position++
	}
	return c, err
}
