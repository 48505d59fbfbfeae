package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the selector variant
type Kind uint8

const (
	KindName Kind = iota + 1
	KindGlob
	KindRegex
	KindID
	KindOffset
)

func (k Kind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindGlob:
		return "glob"
	case KindRegex:
		return "regex"
	case KindID:
		return "id"
	case KindOffset:
		return "offset"
	default:
		return "unknown"
	}
}

// Selector prefixes
const (
	prefixRegex  = "re:"
	prefixGlob   = "gl:"
	prefixID     = "id:"
	prefixOffset = "sk:"
)

// Selector is one parsed predicate over users. It is comparable, so equal
// selectors in different groups share their matches.
type Selector struct {
	Kind Kind

	// Text is the lowercased name or glob, or the regular expression as given
	Text string

	// Value is the id or byte offset for id and offset selectors
	Value int64
}

// Name returns an exact, case-insensitive name selector
func Name(name string) Selector { return Selector{Kind: KindName, Text: strings.ToLower(name)} }

// Glob returns a glob selector over names
func Glob(pattern string) Selector { return Selector{Kind: KindGlob, Text: strings.ToLower(pattern)} }

// Regex returns a case-insensitive regular expression selector over names.
// The pattern keeps its case so escapes like \D and \W keep their meaning.
func Regex(pattern string) Selector { return Selector{Kind: KindRegex, Text: pattern} }

// ID returns an exact id selector
func ID(id int64) Selector { return Selector{Kind: KindID, Value: id} }

// Offset returns an exact byte offset selector
func Offset(offset int64) Selector { return Selector{Kind: KindOffset, Value: offset} }

// ParseSelector parses re:, gl:, id: and sk: selectors; anything else is a name
func ParseSelector(text string) (Selector, error) {
	switch {
	case strings.HasPrefix(text, prefixRegex):
		return Regex(text[len(prefixRegex):]), nil
	case strings.HasPrefix(text, prefixGlob):
		return Glob(text[len(prefixGlob):]), nil
	case strings.HasPrefix(text, prefixID):
		id, err := strconv.ParseInt(text[len(prefixID):], 10, 64)
		if err != nil {
			return Selector{}, &SelectorError{Selector: text, Err: fmt.Errorf("%w: %w", ErrInvalidSelector, err)}
		}
		return ID(id), nil
	case strings.HasPrefix(text, prefixOffset):
		offset, err := strconv.ParseInt(text[len(prefixOffset):], 10, 64)
		if err != nil {
			return Selector{}, &SelectorError{Selector: text, Err: fmt.Errorf("%w: %w", ErrInvalidSelector, err)}
		}
		if offset < 0 {
			return Selector{}, &SelectorError{Selector: text, Err: fmt.Errorf("%w: negative offset", ErrInvalidSelector)}
		}
		return Offset(offset), nil
	default:
		return Name(text), nil
	}
}

// ParseGroup parses "+"-separated selectors into one group
func ParseGroup(text string) ([]Selector, error) {
	parts := strings.Split(text, "+")
	group := make([]Selector, 0, len(parts))
	for _, part := range parts {
		sel, err := ParseSelector(part)
		if err != nil {
			return nil, err
		}
		group = append(group, sel)
	}
	return group, nil
}

// ParseQuery parses ","-separated groups
func ParseQuery(text string) ([][]Selector, error) {
	parts := strings.Split(text, ",")
	groups := make([][]Selector, 0, len(parts))
	for _, part := range parts {
		group, err := ParseGroup(part)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// IsPattern reports whether the selector can match many users
func (s Selector) IsPattern() bool {
	return s.Kind == KindGlob || s.Kind == KindRegex
}

// String renders the selector for display: names bare, patterns quoted
func (s Selector) String() string {
	switch s.Kind {
	case KindName:
		return s.Text
	case KindGlob:
		return fmt.Sprintf("gl:'%s'", s.Text)
	case KindRegex:
		return fmt.Sprintf("re:'%s'", s.Text)
	case KindID:
		return fmt.Sprintf("id:%d", s.Value)
	case KindOffset:
		return fmt.Sprintf("sk:%d", s.Value)
	default:
		return "<invalid>"
	}
}

// GroupName renders a group as its selectors joined by "+"
func GroupName(group []Selector) string {
	if len(group) == 0 {
		return "<none>"
	}
	parts := make([]string, len(group))
	for i, sel := range group {
		parts[i] = sel.String()
	}
	return strings.Join(parts, "+")
}
