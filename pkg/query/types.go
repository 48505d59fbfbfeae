package query

import (
	"errors"
	"fmt"
)

// Settings controls one Find call
type Settings struct {
	// UseIndex allows exact selectors to be answered from the backend's
	// name and id indexes instead of a scan
	UseIndex bool

	// Limit caps the total number of matches; reaching it fails the query.
	// Zero or less means unlimited.
	Limit int
}

// Strategy is how the non-offset selectors of a batch are resolved
type Strategy string

const (
	// StrategyNone means the batch has nothing but offset selectors
	StrategyNone Strategy = "none"
	// StrategyLinearScan streams the whole container past every selector
	StrategyLinearScan Strategy = "linear-scan"
	// StrategyCacheScan walks a fully cached container instead of the stream
	StrategyCacheScan Strategy = "cache-scan"
	// StrategyIndexedLookup probes the name and id indexes
	StrategyIndexedLookup Strategy = "indexed-lookup"
)

// Plan explains how a batch would run
type Plan struct {
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
	Groups   []string `json:"groups"`
	Exact    int      `json:"exact_selectors"`
	Patterns int      `json:"pattern_selectors"`
	Offsets  int      `json:"offset_selectors"`
	Seekable bool     `json:"seekable"`
}

// Errors
var (
	ErrInvalidSelector   = errors.New("query: invalid selector")
	ErrPatternCompile    = errors.New("query: pattern does not compile")
	ErrLimitExceeded     = errors.New("query: result limit reached")
	ErrInternalInvariant = errors.New("query: internal invariant violated")
)

// SelectorError reports which selector of a batch failed to parse or compile
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}
