package store

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ssargent/userdots/pkg/codec"
)

// ScanIndex reads b from its current position without caching and calls fn
// with the index entry of every record
func ScanIndex(b Backend, fn func(IndexEntry) error) (int, error) {
	reader := b.Reader(nil)
	defer reader.Close()

	scanned := 0
	for reader.Next() {
		if err := fn(EntryFor(reader.Record())); err != nil {
			return scanned, err
		}
		scanned++
	}
	return scanned, reader.Err()
}

// EntryFor returns the index entry describing rec
func EntryFor(rec *codec.UserRecord) IndexEntry {
	e := IndexEntry{ID: rec.ID, Name: rec.Name}
	if rec.Offset != nil {
		e.Offset = *rec.Offset
		e.HasOffset = true
	}
	return e
}

// WriteIndex writes one "id,offset,name" line per record of b. The offset
// field is empty for records from a non-seekable source.
func WriteIndex(w io.Writer, b Backend) (int, error) {
	bw := bufio.NewWriter(w)
	n, err := ScanIndex(b, func(e IndexEntry) error {
		_, err := bw.WriteString(FormatIndexLine(e))
		return err
	})
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}

// FormatIndexLine renders e as a persisted index line, newline included
func FormatIndexLine(e IndexEntry) string {
	if e.HasOffset {
		return fmt.Sprintf("%d,%d,%s\n", e.ID, e.Offset, e.Name)
	}
	return fmt.Sprintf("%d,,%s\n", e.ID, e.Name)
}

// LoadIndex parses a persisted index. Lines without exactly three fields are
// skipped; unparsable ids or offsets are an error.
func LoadIndex(r io.Reader) ([]IndexEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []IndexEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		entry, ok, err := parseIndexLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("index line %d: %w", lineNo, err)
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return entries, nil
}

func parseIndexLine(line string) (IndexEntry, bool, error) {
	fields := strings.SplitN(line, ",", 3)
	if len(fields) != 3 {
		return IndexEntry{}, false, nil
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return IndexEntry{}, false, fmt.Errorf("invalid id %q: %w", fields[0], err)
	}

	entry := IndexEntry{
		ID:   id,
		Name: strings.ToLower(fields[2]),
	}
	if fields[1] != "" {
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return IndexEntry{}, false, fmt.Errorf("invalid offset %q: %w", fields[1], err)
		}
		entry.Offset = offset
		entry.HasOffset = true
	}
	return entry, true, nil
}
