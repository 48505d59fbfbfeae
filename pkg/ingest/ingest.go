// Package ingest builds user records from activity exports: one JSON object
// per line, each naming the author and the time of one event.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/store"
)

// Row is one line of an activity export
type Row struct {
	CreatedAt int64  `json:"created_at_timestamp"`
	AuthorID  int64  `json:"author_id"`
	Author    string `json:"author_username"`
}

// Options configures Parse
type Options struct {
	// UnescapeBackslashes replaces doubled backslashes before decoding, for
	// exports that escape their JSON twice
	UnescapeBackslashes bool

	// MaxLineBytes caps the length of one line, 0 = 16MB
	MaxLineBytes int

	Logger *zap.Logger
}

// Summary counts what Parse consumed
type Summary struct {
	Lines   int `json:"lines"`
	Records int `json:"records"`
	Events  int `json:"events"`
	Skipped int `json:"skipped"`
}

// ErrMalformedRow is returned for lines that are not a valid row
var ErrMalformedRow = errors.New("ingest: malformed row")

// ingestPolicy indexes ids so repeated authors merge; names come along for free
var ingestPolicy = store.CachePolicy{Names: true, IDs: true}

// Parse reads rows from r until EOF or the first empty line and merges them
// into b, one record per author id. Each record's events are sorted once
// the input is consumed.
//
// Rows that could never be encoded safely are skipped and counted: author
// id 0, which the end marker reserves, names with a zero byte, and the
// reserved timestamp.
func Parse(ctx context.Context, r io.Reader, b store.Backend, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 16 * 1024 * 1024
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var summary Summary
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		summary.Lines++
		if summary.Lines%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
		}

		if opts.UnescapeBackslashes {
			line = strings.ReplaceAll(line, `\\`, `\`)
		}

		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return summary, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, summary.Lines, err)
		}

		if reason := rejectReason(row); reason != "" {
			summary.Skipped++
			logger.Debug("skipping row",
				zap.Int("line", summary.Lines),
				zap.Int64("author_id", row.AuthorID),
				zap.String("reason", reason),
			)
			continue
		}

		merged, err := merge(b, row)
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", summary.Lines, err)
		}
		if !merged {
			summary.Records++
		}
		summary.Events++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("failed to read input: %w", err)
	}

	b.SortEvents()
	logger.Info("ingested activity",
		zap.Int("lines", summary.Lines),
		zap.Int("records", summary.Records),
		zap.Int("events", summary.Events),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// merge appends the row's event to its author's record, creating it on first
// sight. It reports whether the author already existed.
func merge(b store.Backend, row Row) (bool, error) {
	ref, err := b.LookupID(row.AuthorID)
	switch {
	case err == nil:
		return true, b.AppendEvents(ref, row.CreatedAt)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrIndexUnavailable):
		b.Insert(&codec.UserRecord{
			ID:     row.AuthorID,
			Name:   row.Author,
			Events: []int64{row.CreatedAt},
		}, ingestPolicy)
		return false, nil
	default:
		return false, err
	}
}

func rejectReason(row Row) string {
	rec := codec.UserRecord{ID: row.AuthorID, Name: row.Author, Events: []int64{row.CreatedAt}}
	if row.AuthorID == 0 {
		return "author id 0 is reserved"
	}
	if err := rec.Validate(); err != nil {
		return err.Error()
	}
	return ""
}
