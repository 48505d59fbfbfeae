package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"
)

// EventTerminator closes the event list of every chunk
const EventTerminator int64 = math.MinInt64

// terminatorBits is EventTerminator as written on the wire
const terminatorBits uint64 = 1 << 63

// EndMarkerSize is the encoded size of the end marker: id + name terminator + event terminator
const EndMarkerSize = 8 + 1 + 8

// Codec errors
var (
	// ErrFraming is returned when chunk bytes are truncated or malformed.
	ErrFraming = errors.New("codec: malformed chunk")

	// ErrInvalidName is returned for names with a zero byte or invalid UTF-8.
	ErrInvalidName = errors.New("codec: invalid name")

	// ErrReservedTimestamp is returned when an event equals the terminator value.
	ErrReservedTimestamp = errors.New("codec: event timestamp is reserved")

	// ErrEndMarker is returned when a record is indistinguishable from the end marker.
	ErrEndMarker = errors.New("codec: record collides with end marker")
)

// UserRecord is one user's identity plus its event history
type UserRecord struct {
	ID     int64   `json:"id"`               // User identifier, 0 is reserved
	Name   string  `json:"name"`             // Display name, compared case-insensitively
	Events []int64 `json:"events"`           // Unix timestamps in seconds
	Offset *int64  `json:"offset,omitempty"` // Chunk offset in a seekable source
}

// ByteReader is the stream shape Decode needs: names are read byte by byte.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// RecordSource yields records for bulk writing, in order, until it returns false
type RecordSource interface {
	Next() bool
	Record() *UserRecord
	Err() error
}

// SliceSource adapts an in-memory slice to RecordSource
type SliceSource struct {
	records []*UserRecord
	pos     int
}

// NewSliceSource creates a source over records
func NewSliceSource(records []*UserRecord) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() bool {
	if s.pos < len(s.records) {
		s.pos++
		return true
	}
	return false
}

func (s *SliceSource) Record() *UserRecord {
	if s.pos > 0 && s.pos <= len(s.records) {
		return s.records[s.pos-1]
	}
	return nil
}

func (s *SliceSource) Err() error {
	return nil
}

// RecordCodec handles serialization and deserialization of user records
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// Encode writes one chunk for rec, or the end marker when rec is nil.
// Invalid records are rejected before anything is written.
func (c *RecordCodec) Encode(w io.Writer, rec *UserRecord) error {
	data, err := c.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Marshal returns the chunk bytes for rec, or the end marker when rec is nil
func (c *RecordCodec) Marshal(rec *UserRecord) ([]byte, error) {
	if rec == nil {
		buf := make([]byte, EndMarkerSize)
		// id 0 and the empty name are already zero
		binary.LittleEndian.PutUint64(buf[9:], terminatorBits)
		return buf, nil
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, Size(rec))
	binary.LittleEndian.PutUint64(buf[0:], uint64(rec.ID))
	pos := 8
	pos += copy(buf[pos:], rec.Name)
	buf[pos] = 0
	pos++
	for _, ts := range rec.Events {
		binary.LittleEndian.PutUint64(buf[pos:], uint64(ts))
		pos += 8
	}
	binary.LittleEndian.PutUint64(buf[pos:], terminatorBits)

	return buf, nil
}

// Decode reads one chunk. It returns nil, nil exactly when the chunk is the end marker.
// The returned record never carries an offset; seekable callers tag it themselves.
func (c *RecordCodec) Decode(r ByteReader) (*UserRecord, error) {
	var word [8]byte

	if _, err := io.ReadFull(r, word[:]); err != nil {
		return nil, framingError("id", err)
	}
	id := int64(binary.LittleEndian.Uint64(word[:]))

	var name bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, framingError("name", err)
		}
		if b == 0 {
			break
		}
		name.WriteByte(b)
	}
	if !utf8.Valid(name.Bytes()) {
		return nil, fmt.Errorf("%w: %w: name is not valid UTF-8", ErrFraming, ErrInvalidName)
	}

	var events []int64
	for {
		if _, err := io.ReadFull(r, word[:]); err != nil {
			return nil, framingError("events", err)
		}
		ts := int64(binary.LittleEndian.Uint64(word[:]))
		if ts == EventTerminator {
			break
		}
		events = append(events, ts)
	}

	if id == 0 && name.Len() == 0 && len(events) == 0 {
		return nil, nil
	}

	return &UserRecord{
		ID:     id,
		Name:   name.String(),
		Events: events,
	}, nil
}

// WriteAll encodes every record of src in order, then the end marker
func (c *RecordCodec) WriteAll(w io.Writer, src RecordSource) error {
	for src.Next() {
		if err := c.Encode(w, src.Record()); err != nil {
			return err
		}
	}
	if err := src.Err(); err != nil {
		return err
	}
	return c.Encode(w, nil)
}

// Size returns the encoded size of rec's chunk
func Size(rec *UserRecord) int {
	if rec == nil {
		return EndMarkerSize
	}
	return 8 + len(rec.Name) + 1 + 8*len(rec.Events) + 8
}

// Validate checks that the record can be framed unambiguously
func (r *UserRecord) Validate() error {
	if !utf8.ValidString(r.Name) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidName, r.Name)
	}
	if bytes.IndexByte([]byte(r.Name), 0) >= 0 {
		return fmt.Errorf("%w: %q contains a zero byte", ErrInvalidName, r.Name)
	}
	for i, ts := range r.Events {
		if ts == EventTerminator {
			return fmt.Errorf("%w: event %d", ErrReservedTimestamp, i)
		}
	}
	if r.ID == 0 && r.Name == "" && len(r.Events) == 0 {
		return ErrEndMarker
	}
	return nil
}

// HasOffset reports whether the record was read from a seekable source
func (r *UserRecord) HasOffset() bool {
	return r.Offset != nil
}

// Clone returns a deep copy of the record
func (r *UserRecord) Clone() *UserRecord {
	out := &UserRecord{
		ID:   r.ID,
		Name: r.Name,
	}
	if r.Events != nil {
		out.Events = make([]int64, len(r.Events))
		copy(out.Events, r.Events)
	}
	if r.Offset != nil {
		off := *r.Offset
		out.Offset = &off
	}
	return out
}

// Timestamps converts the events to UTC times
func (r *UserRecord) Timestamps() []time.Time {
	out := make([]time.Time, len(r.Events))
	for i, ts := range r.Events {
		out[i] = time.Unix(ts, 0).UTC()
	}
	return out
}

// framingError maps a short read while decoding field to ErrFraming.
// Other I/O errors pass through unchanged.
func framingError(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s: %w", ErrFraming, field, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("reading %s: %w", field, err)
}
