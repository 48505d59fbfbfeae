package store

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/ssargent/userdots/pkg/codec"
)

// ContainerOptions configures OpenContainer
type ContainerOptions struct {
	Compression Compression

	// Mmap maps an uncompressed container instead of reading it through a file handle
	Mmap bool

	BufferSize  int
	NonBlocking bool
}

// OpenContainer opens a container file. Uncompressed containers get a
// SeekBackend; compressed ones can only be streamed and get a CacheBackend.
func OpenContainer(path string, opts ContainerOptions) (Backend, error) {
	if opts.Compression.Seekable() {
		if opts.Mmap {
			return openMapped(path, opts)
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		backend, err := NewSeekBackend(file, SeekOptions{
			BufferSize:  opts.BufferSize,
			NonBlocking: opts.NonBlocking,
		})
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return backend, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecompressor(file, opts.Compression)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	backend := NewCacheBackend(dec)
	backend.addCloser(file)
	return backend, nil
}

func openMapped(path string, opts ContainerOptions) (*SeekBackend, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	section := io.NewSectionReader(ra, 0, int64(ra.Len()))
	backend, err := NewSeekBackend(section, SeekOptions{
		BufferSize:  opts.BufferSize,
		NonBlocking: opts.NonBlocking,
	})
	if err != nil {
		_ = ra.Close()
		return nil, err
	}
	backend.addCloser(ra)
	return backend, nil
}

// WriteContainer writes every record of src followed by the end marker to path
func WriteContainer(path string, kind Compression, src codec.RecordSource) (int, error) {
	w, err := NewContainerWriter(ContainerWriterConfig{
		FilePath:    path,
		Compression: kind,
	})
	if err != nil {
		return 0, err
	}

	n, err := w.AppendAll(src)
	if err != nil {
		_ = w.Abort()
		return n, err
	}
	return n, w.Commit()
}
