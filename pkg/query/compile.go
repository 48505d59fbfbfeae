package query

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/gobwas/glob"
)

// Limits bounds what a pattern selector may cost to compile and run
type Limits struct {
	// MaxPatternBytes caps the pattern text length
	MaxPatternBytes int `yaml:"max_pattern_bytes" json:"max_pattern_bytes"`

	// MaxNesting caps how deeply groups and repetitions may nest
	MaxNesting int `yaml:"max_nesting" json:"max_nesting"`

	// MaxInstructions caps the size of the compiled regex program
	MaxInstructions int `yaml:"max_instructions" json:"max_instructions"`
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxPatternBytes: 4096,
		MaxNesting:      5,
		MaxInstructions: 100000,
	}
}

// Matcher tests a user name
type Matcher interface {
	Match(name string) bool
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (m regexMatcher) Match(name string) bool { return m.re.MatchString(name) }

type globMatcher struct {
	g glob.Glob
}

func (m globMatcher) Match(name string) bool { return m.g.Match(strings.ToLower(name)) }

// Compiler turns pattern selectors into matchers, compiling each distinct
// pattern once. A Compiler is not safe for concurrent use.
type Compiler struct {
	limits Limits
	regexs map[string]Matcher
	globs  map[string]Matcher
}

// NewCompiler creates a compiler enforcing limits. Zero fields take defaults.
func NewCompiler(limits Limits) *Compiler {
	def := DefaultLimits()
	if limits.MaxPatternBytes <= 0 {
		limits.MaxPatternBytes = def.MaxPatternBytes
	}
	if limits.MaxNesting <= 0 {
		limits.MaxNesting = def.MaxNesting
	}
	if limits.MaxInstructions <= 0 {
		limits.MaxInstructions = def.MaxInstructions
	}
	return &Compiler{
		limits: limits,
		regexs: make(map[string]Matcher),
		globs:  make(map[string]Matcher),
	}
}

// Compile returns the Matcher for a glob or regex selector
func (c *Compiler) Compile(sel Selector) (Matcher, error) {
	var (
		cache map[string]Matcher
		build func(string) (Matcher, error)
	)
	switch sel.Kind {
	case KindRegex:
		cache, build = c.regexs, c.compileRegex
	case KindGlob:
		cache, build = c.globs, c.compileGlob
	default:
		return nil, fmt.Errorf("%w: %s selector has no pattern", ErrInternalInvariant, sel.Kind)
	}

	if m, ok := cache[sel.Text]; ok {
		return m, nil
	}
	if len(sel.Text) > c.limits.MaxPatternBytes {
		return nil, c.fail(sel, fmt.Errorf("pattern is %d bytes, limit is %d", len(sel.Text), c.limits.MaxPatternBytes))
	}
	m, err := build(sel.Text)
	if err != nil {
		return nil, c.fail(sel, err)
	}
	cache[sel.Text] = m
	return m, nil
}

// Compiled reports how many distinct patterns have been compiled
func (c *Compiler) Compiled() int {
	return len(c.regexs) + len(c.globs)
}

func (c *Compiler) fail(sel Selector, err error) error {
	return &SelectorError{Selector: sel.String(), Err: fmt.Errorf("%w: %w", ErrPatternCompile, err)}
}

func (c *Compiler) compileRegex(pattern string) (Matcher, error) {
	tree, err := syntax.Parse(pattern, syntax.Perl|syntax.FoldCase)
	if err != nil {
		return nil, err
	}
	if depth := nesting(tree); depth > c.limits.MaxNesting {
		return nil, fmt.Errorf("nesting depth %d exceeds %d", depth, c.limits.MaxNesting)
	}

	prog, err := syntax.Compile(tree.Simplify())
	if err != nil {
		return nil, err
	}
	if n := len(prog.Inst); n > c.limits.MaxInstructions {
		return nil, fmt.Errorf("program has %d instructions, limit is %d", n, c.limits.MaxInstructions)
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	return regexMatcher{re: re}, nil
}

func (c *Compiler) compileGlob(pattern string) (Matcher, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return globMatcher{g: g}, nil
}

// nesting returns the deepest chain of groups and repetitions in re
func nesting(re *syntax.Regexp) int {
	deepest := 0
	for _, sub := range re.Sub {
		if d := nesting(sub); d > deepest {
			deepest = d
		}
	}
	switch re.Op {
	case syntax.OpCapture, syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		return deepest + 1
	default:
		return deepest
	}
}
