package ingest

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/store"
)

func rows(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestParse_MergesAndSorts(t *testing.T) {
	b := store.NewMemoryBackend()

	summary, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":1,"author_username":"Bob"}`,
		`{"created_at_timestamp":200,"author_id":2,"author_username":"carol"}`,
		`{"created_at_timestamp":150,"author_id":2,"author_username":"carol"}`,
	), b, Options{})
	require.NoError(t, err)

	assert.Equal(t, Summary{Lines: 3, Records: 2, Events: 3}, summary)
	require.Equal(t, 2, b.Len())

	bob, _ := b.Cached(0)
	assert.Equal(t, &codec.UserRecord{ID: 1, Name: "Bob", Events: []int64{100}}, bob)
	carol, _ := b.Cached(1)
	assert.Equal(t, []int64{150, 200}, carol.Events)

	ref, err := b.LookupName("BOB")
	require.NoError(t, err)
	assert.Equal(t, store.CacheSlot(0), ref)
}

func TestParse_StopsAtEmptyLine(t *testing.T) {
	b := store.NewMemoryBackend()

	summary, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":1,"author_username":"Bob"}`,
		``,
		`not even json`,
	), b, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lines)
	assert.Equal(t, 1, b.Len())
}

func TestParse_SkipsUnencodableRows(t *testing.T) {
	b := store.NewMemoryBackend()

	summary, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":0,"author_username":""}`,
		`{"created_at_timestamp":100,"author_id":0,"author_username":"zero"}`,
		`{"created_at_timestamp":100,"author_id":5,"author_username":"nul\u0000name"}`,
		`{"created_at_timestamp":-9223372036854775808,"author_id":6,"author_username":"early"}`,
		`{"created_at_timestamp":100,"author_id":7,"author_username":"ok"}`,
	), b, Options{})
	require.NoError(t, err)

	assert.Equal(t, Summary{Lines: 5, Records: 1, Events: 1, Skipped: 4}, summary)
	rec, _ := b.Cached(0)
	assert.Equal(t, "ok", rec.Name)
	assert.NotEqual(t, int64(math.MinInt64), rec.Events[0])
}

func TestParse_MalformedRow(t *testing.T) {
	b := store.NewMemoryBackend()

	_, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":1,"author_username":"Bob"}`,
		`{"created_at_timestamp":"yesterday"}`,
	), b, Options{})
	require.ErrorIs(t, err, ErrMalformedRow)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParse_UnescapeBackslashes(t *testing.T) {
	line := `{"created_at_timestamp":100,"author_id":1,"author_username":"a\\\\b"}`

	b := store.NewMemoryBackend()
	_, err := Parse(context.Background(), rows(line), b, Options{})
	require.NoError(t, err)
	rec, _ := b.Cached(0)
	assert.Equal(t, `a\\b`, rec.Name)

	b = store.NewMemoryBackend()
	_, err = Parse(context.Background(), rows(line), b, Options{UnescapeBackslashes: true})
	require.NoError(t, err)
	rec, _ = b.Cached(0)
	assert.Equal(t, `a\b`, rec.Name)
}

func TestParse_WritesReadableContainer(t *testing.T) {
	b := store.NewMemoryBackend()
	_, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":1,"author_username":"Bob"}`,
		`{"created_at_timestamp":200,"author_id":2,"author_username":"carol"}`,
		`{"created_at_timestamp":150,"author_id":2,"author_username":"carol"}`,
	), b, Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, codec.NewRecordCodec().WriteAll(&buf, store.CachedRecords(b)))

	decoder := codec.NewRecordCodec()
	reader := bytes.NewReader(buf.Bytes())

	first, err := decoder.Decode(reader)
	require.NoError(t, err)
	assert.Equal(t, &codec.UserRecord{ID: 1, Name: "Bob", Events: []int64{100}}, first)

	second, err := decoder.Decode(reader)
	require.NoError(t, err)
	assert.Equal(t, &codec.UserRecord{ID: 2, Name: "carol", Events: []int64{150, 200}}, second)

	end, err := decoder.Decode(reader)
	require.NoError(t, err)
	assert.Nil(t, end)
}

func TestParse_ToCompressedContainer(t *testing.T) {
	b := store.NewMemoryBackend()
	_, err := Parse(context.Background(), rows(
		`{"created_at_timestamp":100,"author_id":1,"author_username":"Bob"}`,
	), b, Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "users.bin.zst")
	n, err := store.WriteContainer(path, store.CompressionZstd, store.CachedRecords(b))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := store.OpenContainer(path, store.ContainerOptions{Compression: store.CompressionZstd})
	require.NoError(t, err)
	defer out.Close()

	rec, err := out.DecodeNext()
	require.NoError(t, err)
	assert.Equal(t, "Bob", rec.Name)
}

func TestParse_Cancelled(t *testing.T) {
	var lines []string
	for i := 1; i <= 5000; i++ {
		lines = append(lines, `{"created_at_timestamp":1,"author_id":1,"author_username":"a"}`)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Parse(ctx, rows(lines...), store.NewMemoryBackend(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
