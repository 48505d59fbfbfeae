package query

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/store"
)

// offsets of the fixture records in the encoded container
const (
	bobOffset   = 0
	carolOffset = 28
	daveOffset  = 66
	endOffset   = 95
)

func fixtureRecords() []*codec.UserRecord {
	return []*codec.UserRecord{
		{ID: 1, Name: "Bob", Events: []int64{100}},
		{ID: 2, Name: "carol", Events: []int64{150, 200}},
		{ID: 3, Name: "Dave", Events: []int64{50}},
	}
}

func encodeFixture(t *testing.T, records []*codec.UserRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, codec.NewRecordCodec().WriteAll(&buf, codec.NewSliceSource(records)))
	return buf.Bytes()
}

func seekFixture(t *testing.T, records []*codec.UserRecord) *store.SeekBackend {
	t.Helper()
	b, err := store.NewSeekBackend(bytes.NewReader(encodeFixture(t, records)), store.SeekOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// cachedFixture runs a full caching pass over a stream-only backend
func cachedFixture(t *testing.T, records []*codec.UserRecord) *store.CacheBackend {
	t.Helper()
	b := store.NewCacheBackend(bytes.NewReader(encodeFixture(t, records)))
	t.Cleanup(func() { _ = b.Close() })

	policy := store.FullPolicy
	reader := b.Reader(&policy)
	for reader.Next() {
	}
	require.NoError(t, reader.Err())
	require.True(t, b.Complete())
	return b
}

func names(records []*codec.UserRecord) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Name
	}
	return out
}

func mustQuery(t *testing.T, text string) [][]Selector {
	t.Helper()
	groups, err := ParseQuery(text)
	require.NoError(t, err)
	return groups
}

func TestFind_LinearScanExact(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), mustQuery(t, "BOB,id:3,nobody"), Settings{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"Bob"}, names(got[0]))
	assert.Equal(t, []string{"Dave"}, names(got[1]))
	assert.Empty(t, got[2], "unmatched selectors are not an error")

	require.NotNil(t, got[1][0].Offset)
	assert.Equal(t, int64(daveOffset), *got[1][0].Offset)
}

func TestFind_PatternSelectors(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), mustQuery(t, "gl:*o*,re:^[bd]"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "carol"}, names(got[0]))
	assert.Equal(t, []string{"Bob", "Dave"}, names(got[1]))
}

func TestFind_RepeatableOnSeekBackend(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	for i := 0; i < 3; i++ {
		got, err := e.Find(context.Background(), mustQuery(t, "dave"), Settings{})
		require.NoError(t, err)
		assert.Equal(t, []string{"Dave"}, names(got[0]), "run %d", i)
	}
}

func TestFind_IndexedLookup(t *testing.T) {
	b := cachedFixture(t, fixtureRecords())
	e := NewEngine(b)

	groups := mustQuery(t, "CAROL+id:1,nobody")
	plan, err := e.Plan(groups, Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyIndexedLookup, plan.Strategy)

	got, err := e.Find(context.Background(), groups, Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "Bob"}, names(got[0]))
	assert.Empty(t, got[1])

	// Results are copies; the cache is untouched
	got[0][0].Events = append(got[0][0].Events, 999)
	cached, _ := b.Cached(1)
	assert.Equal(t, []int64{150, 200}, cached.Events)
}

func TestFind_PreloadedIndex(t *testing.T) {
	b := seekFixture(t, fixtureRecords())
	b.Preload([]store.IndexEntry{
		{ID: 1, Offset: bobOffset, HasOffset: true, Name: "bob"},
		{ID: 2, Offset: carolOffset, HasOffset: true, Name: "carol"},
		{ID: 3, Offset: daveOffset, HasOffset: true, Name: "dave"},
	})
	e := NewEngine(b)

	got, err := e.Find(context.Background(), mustQuery(t, "id:2,Dave"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got[0]))
	assert.Equal(t, []string{"Dave"}, names(got[1]))
	assert.Equal(t, 0, b.Len(), "pending seeks resolve without caching")
}

func TestFind_FallsBackWithoutIndex(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	tests := []struct {
		query  string
		reason string
		want   string
	}{
		{query: "bob", reason: "name index not populated", want: "Bob"},
		{query: "id:3", reason: "id index not populated", want: "Dave"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			groups := mustQuery(t, tt.query)
			plan, err := e.Plan(groups, Settings{UseIndex: true})
			require.NoError(t, err)
			assert.Equal(t, StrategyLinearScan, plan.Strategy)
			assert.Equal(t, tt.reason, plan.Reason)

			got, err := e.Find(context.Background(), groups, Settings{UseIndex: true})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, names(got[0]))
		})
	}
}

func TestFind_IndexedAfterWarm(t *testing.T) {
	b := seekFixture(t, fixtureRecords())
	_, err := store.Warm(b, store.FullPolicy)
	require.NoError(t, err)
	e := NewEngine(b)

	plan, err := e.Plan(mustQuery(t, "bob,id:3"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyIndexedLookup, plan.Strategy)
}

func TestFind_CacheScanWhenComplete(t *testing.T) {
	e := NewEngine(cachedFixture(t, fixtureRecords()))

	groups := mustQuery(t, "gl:*a*")
	plan, err := e.Plan(groups, Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyCacheScan, plan.Strategy)
	assert.False(t, plan.Seekable)

	got, err := e.Find(context.Background(), groups, Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "Dave"}, names(got[0]))
}

func TestFind_RepeatableOnCacheBackend(t *testing.T) {
	b := store.NewCacheBackend(bytes.NewReader(encodeFixture(t, fixtureRecords())))
	t.Cleanup(func() { _ = b.Close() })
	e := NewEngine(b)

	got, err := e.Find(context.Background(), mustQuery(t, "dave"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave"}, names(got[0]))
	assert.True(t, b.Complete(), "the first scan caches the whole stream")

	groups := mustQuery(t, "bob,gl:c*")
	plan, err := e.Plan(groups, Settings{})
	require.NoError(t, err)
	assert.Equal(t, StrategyCacheScan, plan.Strategy)

	got, err = e.Find(context.Background(), groups, Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(got[0]))
	assert.Equal(t, []string{"carol"}, names(got[1]))

	plan, err = e.Plan(mustQuery(t, "id:3"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyIndexedLookup, plan.Strategy)
}

func TestFind_ConsumedStream(t *testing.T) {
	b := store.NewCacheBackend(bytes.NewReader(encodeFixture(t, fixtureRecords())))
	t.Cleanup(func() { _ = b.Close() })
	_, err := b.DecodeNext()
	require.NoError(t, err)

	_, err = NewEngine(b).Find(context.Background(), mustQuery(t, "bob"), Settings{})
	assert.ErrorIs(t, err, store.ErrStreamConsumed)
}

func TestFind_GroupDedup(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), mustQuery(t, "id:2+gl:car*+carol"), Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got[0]))
}

func TestFind_SelectorsSharedAcrossGroups(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), mustQuery(t, "bob,bob+dave,gl:d*"), Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(got[0]))
	assert.Equal(t, []string{"Bob", "Dave"}, names(got[1]))
	assert.Equal(t, []string{"Dave"}, names(got[2]))
}

func TestFind_Offsets(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), [][]Selector{
		{Offset(carolOffset)},
		{Offset(bobOffset), Name("dave")},
		{Name("bob"), Offset(bobOffset)},
		{Offset(endOffset)},
	}, Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{"carol"}, names(got[0]))
	assert.Equal(t, []string{"Dave", "Bob"}, names(got[1]), "offset matches follow the rest of the group")
	assert.Equal(t, []string{"Bob"}, names(got[2]))
	assert.Empty(t, got[3], "the end marker is not a user")
}

func TestFind_OffsetEquivalence(t *testing.T) {
	b := seekFixture(t, fixtureRecords())
	e := NewEngine(b)

	all, err := e.Find(context.Background(), mustQuery(t, "gl:*"), Settings{})
	require.NoError(t, err)
	require.Len(t, all[0], 3)

	for _, rec := range all[0] {
		require.NotNil(t, rec.Offset)
		got, err := e.Find(context.Background(), [][]Selector{{Offset(*rec.Offset)}}, Settings{})
		require.NoError(t, err)
		require.Len(t, got[0], 1)
		assert.Equal(t, rec, got[0][0])
	}
}

func TestFind_OffsetsOnStreamBackend(t *testing.T) {
	e := NewEngine(cachedFixture(t, fixtureRecords()))

	got, err := e.Find(context.Background(), [][]Selector{{Offset(0), Name("dave")}}, Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave"}, names(got[0]))
}

func TestFind_Limit(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		limit   int
		wantErr bool
	}{
		{"unlimited", "gl:*", 0, false},
		{"negative is unlimited", "gl:*", -1, false},
		{"under the cap", "gl:*", 4, false},
		{"over the cap", "gl:*", 2, true},
		{"reaching the cap", "gl:*", 3, true},
		{"offsets count", "sk:0+sk:28", 2, true},
		{"exact selectors count", "bob,carol", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(seekFixture(t, fixtureRecords()))
			got, err := e.Find(context.Background(), mustQuery(t, tt.query), Settings{Limit: tt.limit})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLimitExceeded)
				assert.Nil(t, got, "partial results are discarded")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFind_LimitOnIndexedLookup(t *testing.T) {
	e := NewEngine(cachedFixture(t, fixtureRecords()))

	_, err := e.Find(context.Background(), mustQuery(t, "bob,carol,dave"), Settings{UseIndex: true, Limit: 2})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestFind_CompileFailureTouchesNothing(t *testing.T) {
	b := seekFixture(t, fixtureRecords())
	e := NewEngine(b)

	_, err := e.Find(context.Background(), [][]Selector{{Name("bob")}, {Regex("(")}}, Settings{})
	require.ErrorIs(t, err, ErrPatternCompile)
	assert.Equal(t, int64(0), b.Position())

	_, err = e.Plan([][]Selector{{Glob("[")}}, Settings{})
	assert.ErrorIs(t, err, ErrPatternCompile)
}

func TestFind_InvalidSelector(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	_, err := e.Find(context.Background(), [][]Selector{{{Kind: Kind(99)}}}, Settings{})
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestFind_ContextCancelled(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Find(ctx, mustQuery(t, "gl:*"), Settings{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookup_PatternIsInternalError(t *testing.T) {
	e := NewEngine(cachedFixture(t, fixtureRecords()))

	b, err := e.compile([][]Selector{{Name("bob"), Glob("b*")}})
	require.NoError(t, err)

	err = e.lookup(context.Background(), b, newCounter(0))
	assert.ErrorIs(t, err, ErrInternalInvariant)
	assert.Empty(t, b.targets[Name("bob")].found, "no probe runs once the batch is known bad")
}

func TestPlan(t *testing.T) {
	e := NewEngine(seekFixture(t, fixtureRecords()))

	plan, err := e.Plan(mustQuery(t, "bob+gl:c*,sk:0"), Settings{UseIndex: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyLinearScan, plan.Strategy)
	assert.Equal(t, []string{"bob+gl:'c*'", "sk:0"}, plan.Groups)
	assert.Equal(t, 1, plan.Exact)
	assert.Equal(t, 1, plan.Patterns)
	assert.Equal(t, 1, plan.Offsets)
	assert.True(t, plan.Seekable)

	plan, err = e.Plan(mustQuery(t, "sk:0"), Settings{})
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, plan.Strategy)

	plan, err = e.Plan(mustQuery(t, "bob"), Settings{})
	require.NoError(t, err)
	assert.Equal(t, StrategyLinearScan, plan.Strategy)
	assert.Equal(t, "indexes disabled", plan.Reason)
}

func TestFind_TwoRecordExample(t *testing.T) {
	records := []*codec.UserRecord{
		{ID: 1, Name: "Bob", Events: []int64{100}},
		{ID: 2, Name: "carol", Events: []int64{150, 200}},
	}
	e := NewEngine(seekFixture(t, records))

	got, err := e.Find(context.Background(), mustQuery(t, "gl:*"), Settings{})
	require.NoError(t, err)
	require.Len(t, got[0], 2)
	assert.Equal(t, int64(1), got[0][0].ID)
	assert.Equal(t, []int64{100}, got[0][0].Events)
	assert.Equal(t, int64(2), got[0][1].ID)
	assert.Equal(t, []int64{150, 200}, got[0][1].Events)
	assert.Equal(t, []int64{100, 150, 200}, MergeTimeline(got[0]))
}

func TestMergeTimeline(t *testing.T) {
	assert.Empty(t, MergeTimeline(nil))
	assert.Equal(t, []int64{1, 2, 3, 3}, MergeTimeline([]*codec.UserRecord{
		{Events: []int64{3, 1}},
		{Events: []int64{3, 2}},
	}))
}
