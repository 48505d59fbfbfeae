package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ssargent/userdots/pkg/codec"
)

// CacheBackend wraps a forward-only stream such as a decompressor.
// Records it decodes never carry an offset and there is no random access.
type CacheBackend struct {
	*arena

	reader  *bufio.Reader
	codec   *codec.RecordCodec
	closers []io.Closer
	started bool
	closed  bool
	mutex   sync.Mutex
}

// NewCacheBackend creates a cache-only backend over r.
// Closing the backend closes r when it is an io.Closer.
func NewCacheBackend(r io.Reader) *CacheBackend {
	b := &CacheBackend{
		arena:  newArena(),
		reader: bufio.NewReaderSize(r, 64*1024),
		codec:  codec.NewRecordCodec(),
	}
	if c, ok := r.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
	return b
}

// NewMemoryBackend creates an empty cache-only backend, for building a
// container in memory before writing it out. It has no stream, so its
// cache is complete from the start.
func NewMemoryBackend() *CacheBackend {
	b := NewCacheBackend(eofReader{})
	b.started = true
	b.markComplete()
	return b
}

// Resolve returns the cached record for a cache slot reference.
// Pending seeks cannot be resolved without a seekable source.
func (b *CacheBackend) Resolve(ref Reference) (*codec.UserRecord, error) {
	switch ref.Kind() {
	case RefCacheSlot:
		rec, ok := b.Cached(ref.Slot())
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
		}
		return rec, nil
	case RefPendingSeek:
		return nil, ErrSeekUnsupported
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
}

// DecodeNext decodes the next record from the stream, nil at the end marker
func (b *CacheBackend) DecodeNext() (*codec.UserRecord, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.started = true
	return b.codec.Decode(b.reader)
}

// Reader returns a sequential cursor; policy nil disables caching
func (b *CacheBackend) Reader(policy *CachePolicy) *Reader {
	b.mutex.Lock()
	fromStart := !b.started
	b.mutex.Unlock()

	return newReader(b, b.arena, policy, fromStart)
}

// Stats returns cache and index sizes
func (b *CacheBackend) Stats() Stats {
	return b.stats()
}

// Close releases the underlying stream
func (b *CacheBackend) Close() error {
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

func (b *CacheBackend) addCloser(c io.Closer) {
	b.closers = append(b.closers, c)
}

// eofReader is an empty stream. Decoding from it is a framing error, which a
// memory backend never does.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
