package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ssargent/userdots/pkg/codec"
)

// ContainerWriterConfig configures a ContainerWriter
type ContainerWriterConfig struct {
	FilePath    string
	Compression Compression
	BufferSize  int // 0 = 64KB
}

// ContainerWriter builds a container file in one batch.
//
// Records go to a temporary file next to the destination; Commit appends the
// end marker, syncs and renames it into place. Readers never see a partial
// container.
type ContainerWriter struct {
	file       *os.File
	compressor io.WriteCloser
	writer     *bufio.Writer
	codec      *codec.RecordCodec
	config     ContainerWriterConfig
	mutex      sync.Mutex
	offset     int64 // logical offset of the next record
	done       bool
}

// NewContainerWriter creates the temporary file for config.FilePath
func NewContainerWriter(config ContainerWriterConfig) (*ContainerWriter, error) {
	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(config.FilePath)+".*.tmp")
	if err != nil {
		return nil, err
	}

	compressor, err := NewCompressor(file, config.Compression)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, err
	}

	size := config.BufferSize
	if size <= 0 {
		size = 64 * 1024
	}

	return &ContainerWriter{
		file:       file,
		compressor: compressor,
		writer:     bufio.NewWriterSize(compressor, size),
		codec:      codec.NewRecordCodec(),
		config:     config,
	}, nil
}

// Append encodes rec and returns the offset its chunk starts at in the
// uncompressed stream
func (w *ContainerWriter) Append(rec *codec.UserRecord) (int64, error) {
	if rec == nil {
		return 0, codec.ErrEndMarker
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.done {
		return 0, ErrClosed
	}
	if err := w.codec.Encode(w.writer, rec); err != nil {
		return 0, err
	}

	offset := w.offset
	w.offset += int64(codec.Size(rec))
	return offset, nil
}

// AppendAll appends every record of src
func (w *ContainerWriter) AppendAll(src codec.RecordSource) (int, error) {
	n := 0
	for src.Next() {
		if _, err := w.Append(src.Record()); err != nil {
			return n, err
		}
		n++
	}
	return n, src.Err()
}

// Commit writes the end marker and atomically moves the file into place
func (w *ContainerWriter) Commit() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.done {
		return ErrClosed
	}
	w.done = true

	if err := w.finish(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
		return err
	}
	if err := os.Rename(w.file.Name(), w.config.FilePath); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("failed to move container into place: %w", err)
	}
	return nil
}

func (w *ContainerWriter) finish() error {
	if err := w.codec.Encode(w.writer, nil); err != nil {
		return err
	}
	w.offset += codec.EndMarkerSize

	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.compressor.Close(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Abort discards the temporary file. It is a no-op after Commit.
func (w *ContainerWriter) Abort() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.done {
		return nil
	}
	w.done = true

	return errors.Join(w.file.Close(), os.Remove(w.file.Name()))
}

// Size returns the uncompressed size written so far
func (w *ContainerWriter) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// Path returns the destination path
func (w *ContainerWriter) Path() string {
	return w.config.FilePath
}
