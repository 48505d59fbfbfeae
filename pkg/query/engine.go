package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/store"
)

// Engine answers selector batches against one backend.
//
// A linear scan drives the backend's stream, so an Engine must not run
// concurrently with any other reader of the same backend. Callers that share
// a backend serialize their Find calls.
type Engine struct {
	backend store.Backend
	limits  Limits
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLimits sets the pattern compilation limits
func WithLimits(limits Limits) Option {
	return func(e *Engine) {
		e.limits = limits
	}
}

// NewEngine creates a query engine over backend
func NewEngine(backend store.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		limits:  DefaultLimits(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend returns the backend the engine queries
func (e *Engine) Backend() store.Backend {
	return e.backend
}

// target collects the matches of one distinct selector across the batch
type target struct {
	sel     Selector
	matcher Matcher
	found   []*codec.UserRecord
	done    bool
}

func (t *target) matches(rec *codec.UserRecord, lowerName string) bool {
	switch t.sel.Kind {
	case KindName:
		return lowerName == t.sel.Text
	case KindID:
		return rec.ID == t.sel.Value
	case KindGlob, KindRegex:
		return t.matcher.Match(rec.Name)
	default:
		return false
	}
}

type batch struct {
	groups   [][]Selector
	targets  map[Selector]*target
	order    []*target // non-offset targets, first-seen order
	offsets  []*target
	exact    int
	names    int
	ids      int
	patterns int
}

// counter enforces the result limit shared by the whole batch
type counter struct {
	limit     int
	remaining int
}

func newCounter(limit int) *counter {
	return &counter{limit: limit, remaining: limit}
}

func (c *counter) take() error {
	if c.limit <= 0 {
		return nil
	}
	c.remaining--
	if c.remaining <= 0 {
		return fmt.Errorf("%w: limit is %d", ErrLimitExceeded, c.limit)
	}
	return nil
}

// compile parses the patterns of every distinct selector, failing the whole
// batch on the first selector that does not compile
func (e *Engine) compile(groups [][]Selector) (*batch, error) {
	b := &batch{
		groups:  groups,
		targets: make(map[Selector]*target),
	}
	compiler := NewCompiler(e.limits)

	for _, group := range groups {
		for _, sel := range group {
			if _, ok := b.targets[sel]; ok {
				continue
			}
			t := &target{sel: sel}

			switch sel.Kind {
			case KindGlob, KindRegex:
				m, err := compiler.Compile(sel)
				if err != nil {
					return nil, err
				}
				t.matcher = m
				b.patterns++
				b.order = append(b.order, t)
			case KindName, KindID:
				b.exact++
				if sel.Kind == KindName {
					b.names++
				} else {
					b.ids++
				}
				b.order = append(b.order, t)
			case KindOffset:
				b.offsets = append(b.offsets, t)
			default:
				return nil, &SelectorError{Selector: sel.String(), Err: ErrInvalidSelector}
			}
			b.targets[sel] = t
		}
	}
	return b, nil
}

func (e *Engine) strategy(b *batch, settings Settings) (Strategy, string) {
	var reason string
	switch {
	case len(b.order) == 0:
		return StrategyNone, "only offset selectors"
	case !settings.UseIndex:
		reason = "indexes disabled"
	case b.patterns > 0:
		reason = "pattern selectors need every name"
	default:
		names, ids := e.backend.IndexesReady()
		switch {
		case b.names > 0 && !names:
			reason = "name index not populated"
		case b.ids > 0 && !ids:
			reason = "id index not populated"
		default:
			return StrategyIndexedLookup, "exact selectors only"
		}
	}

	if e.backend.Complete() {
		return StrategyCacheScan, reason + ", container fully cached"
	}
	return StrategyLinearScan, reason
}

// Plan explains how Find would run groups without touching the stream
func (e *Engine) Plan(groups [][]Selector, settings Settings) (*Plan, error) {
	b, err := e.compile(groups)
	if err != nil {
		return nil, err
	}

	strategy, reason := e.strategy(b, settings)
	_, seekable := e.backend.(store.Seeker)

	names := make([]string, len(groups))
	for i, group := range groups {
		names[i] = GroupName(group)
	}

	return &Plan{
		Strategy: strategy,
		Reason:   reason,
		Groups:   names,
		Exact:    b.exact,
		Patterns: b.patterns,
		Offsets:  len(b.offsets),
		Seekable: seekable,
	}, nil
}

// Find resolves every group to its matching users, deduplicated by id in
// first-seen order. Offset matches come after the rest of their group.
//
// Any selector failing to compile fails the batch before the stream is
// touched. Reaching settings.Limit fails the batch and discards partial
// results. ctx is checked between records.
func (e *Engine) Find(ctx context.Context, groups [][]Selector, settings Settings) ([][]*codec.UserRecord, error) {
	b, err := e.compile(groups)
	if err != nil {
		return nil, err
	}
	count := newCounter(settings.Limit)

	seeker, seekable := e.backend.(store.Seeker)
	if err := e.resolveOffsets(b, seeker, seekable, count); err != nil {
		return nil, err
	}

	strategy, reason := e.strategy(b, settings)
	e.logger.Debug("resolving selectors",
		zap.String("strategy", string(strategy)),
		zap.String("reason", reason),
		zap.Int("exact", b.exact),
		zap.Int("patterns", b.patterns),
		zap.Int("offsets", len(b.offsets)),
	)

	switch strategy {
	case StrategyLinearScan:
		err = e.scanStream(ctx, b, seeker, seekable, count)
	case StrategyCacheScan:
		err = scan(ctx, b, store.CachedRecords(e.backend), true, count)
	case StrategyIndexedLookup:
		err = e.lookup(ctx, b, count)
	}

	if seekable && (len(b.offsets) > 0 || strategy == StrategyLinearScan) {
		err = errors.Join(err, seeker.Reset())
	}
	if err != nil {
		return nil, err
	}
	return b.assemble(), nil
}

func (e *Engine) resolveOffsets(b *batch, seeker store.Seeker, seekable bool, count *counter) error {
	for _, t := range b.offsets {
		t.done = true
		if !seekable {
			e.logger.Debug("offset selector on a stream-only backend", zap.Int64("offset", t.sel.Value))
			continue
		}

		rec, err := seeker.ByOffset(t.sel.Value)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", t.sel, err)
		}
		if rec == nil {
			continue // end marker
		}
		if err := count.take(); err != nil {
			return err
		}
		t.found = append(t.found, rec.Clone())
	}
	return nil
}

// scanStream reads the container from its start. A stream-only backend
// cannot be rewound, so its one pass caches everything and the scan runs
// over the cache; later calls then take the cache-scan path.
func (e *Engine) scanStream(ctx context.Context, b *batch, seeker store.Seeker, seekable bool, count *counter) error {
	if !seekable {
		n, err := store.Warm(e.backend, store.FullPolicy)
		if err != nil {
			return fmt.Errorf("caching stream: %w", err)
		}
		if !e.backend.Complete() {
			return store.ErrStreamConsumed
		}
		e.logger.Debug("cached stream for scan", zap.Int("records", n))
		return scan(ctx, b, store.CachedRecords(e.backend), true, count)
	}

	if err := seeker.Reset(); err != nil {
		return err
	}
	reader := e.backend.Reader(nil)
	defer reader.Close()
	return scan(ctx, b, reader, false, count)
}

// scan tests every record of src against the unsatisfied targets. Exact
// targets retire after one match; the scan ends early once only retired
// exact targets remain.
func scan(ctx context.Context, b *batch, src codec.RecordSource, shared bool, count *counter) error {
	pending := b.exact
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec := src.Record()
		lower := strings.ToLower(rec.Name)
		for _, t := range b.order {
			if t.done || !t.matches(rec, lower) {
				continue
			}
			if err := count.take(); err != nil {
				return err
			}
			if shared {
				t.found = append(t.found, rec.Clone())
			} else {
				t.found = append(t.found, rec)
			}
			if !t.sel.IsPattern() {
				t.done = true
				pending--
			}
		}

		if pending == 0 && b.patterns == 0 {
			return nil
		}
	}
	return src.Err()
}

func (e *Engine) lookup(ctx context.Context, b *batch, count *counter) error {
	for _, t := range b.order {
		if t.sel.IsPattern() {
			return fmt.Errorf("%w: %s reached indexed lookup", ErrInternalInvariant, t.sel)
		}
	}

	for _, t := range b.order {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			ref store.Reference
			err error
		)
		if t.sel.Kind == KindName {
			ref, err = e.backend.LookupName(t.sel.Text)
		} else {
			ref, err = e.backend.LookupID(t.sel.Value)
		}
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("looking up %s: %w", t.sel, err)
		}

		rec, err := e.backend.Resolve(ref)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", t.sel, err)
		}
		if err := count.take(); err != nil {
			return err
		}
		t.found = append(t.found, rec.Clone())
	}
	return nil
}

func (b *batch) assemble() [][]*codec.UserRecord {
	out := make([][]*codec.UserRecord, len(b.groups))
	for i, group := range b.groups {
		seen := make(map[int64]struct{})
		records := make([]*codec.UserRecord, 0)
		add := func(t *target) {
			for _, rec := range t.found {
				if _, ok := seen[rec.ID]; ok {
					continue
				}
				seen[rec.ID] = struct{}{}
				records = append(records, rec)
			}
		}

		for _, sel := range group {
			if sel.Kind != KindOffset {
				add(b.targets[sel])
			}
		}
		for _, sel := range group {
			if sel.Kind == KindOffset {
				add(b.targets[sel])
			}
		}
		out[i] = records
	}
	return out
}
