// Package tags parses comma-delimited tag patterns and matches them
// against content tags.
//
// A fragment without "*" matches exactly, "*x*" matches a substring,
// "x*" a prefix and "*x" a suffix. All comparisons are case-insensitive.
// A fragment that is just "*" makes the whole pattern include everything,
// even untagged content.
package tags

import (
	"errors"
	"strings"

	"github.com/xraph/entitle/types"
)

// Wildcard is the all-content fragment.
const Wildcard = "*"

var errUnsupportedWildcard = errors.New("interior or repeated wildcard is matched literally")

// Kind classifies a single pattern fragment.
type Kind int

const (
	KindExact Kind = iota
	KindPrefix
	KindSuffix
	KindContains
)

func (k Kind) String() string {
	switch k {
	case KindPrefix:
		return "prefix"
	case KindSuffix:
		return "suffix"
	case KindContains:
		return "contains"
	default:
		return "exact"
	}
}

// Fragment is one normalized entry of a pattern.
type Fragment struct {
	Kind Kind
	Text string
}

func (f Fragment) match(tag string) bool {
	switch f.Kind {
	case KindPrefix:
		return strings.HasPrefix(tag, f.Text)
	case KindSuffix:
		return strings.HasSuffix(tag, f.Text)
	case KindContains:
		return strings.Contains(tag, f.Text)
	default:
		return tag == f.Text
	}
}

// Pattern is a parsed tag pattern.
type Pattern struct {
	Raw         string
	IncludesAll bool
	Fragments   []Fragment

	// Warnings holds a *types.ConfigurationError per fragment that could
	// not be interpreted. Such fragments are still matched literally.
	Warnings []error
}

// Parse splits raw on commas, trims and lowercases every fragment and
// drops empty ones. Parse never fails; see Pattern.Warnings.
func Parse(raw string) Pattern {
	p := Pattern{Raw: raw}

	for _, part := range strings.Split(raw, ",") {
		frag := strings.ToLower(strings.TrimSpace(part))
		if frag == "" {
			continue
		}
		if frag == Wildcard {
			p.IncludesAll = true
			continue
		}
		f, ok := classify(frag)
		if !ok {
			p.Warnings = append(p.Warnings, &types.ConfigurationError{
				Field: "tags",
				Value: frag,
				Err:   errUnsupportedWildcard,
			})
		}
		p.Fragments = append(p.Fragments, f)
	}

	return p
}

func classify(frag string) (Fragment, bool) {
	n := strings.Count(frag, Wildcard)
	switch {
	case n == 0:
		return Fragment{Kind: KindExact, Text: frag}, true
	case n == 2 && len(frag) > 2 && frag[0] == '*' && frag[len(frag)-1] == '*':
		inner := frag[1 : len(frag)-1]
		if !strings.Contains(inner, Wildcard) {
			return Fragment{Kind: KindContains, Text: inner}, true
		}
	case n == 1 && strings.HasSuffix(frag, Wildcard):
		return Fragment{Kind: KindPrefix, Text: strings.TrimSuffix(frag, Wildcard)}, true
	case n == 1 && strings.HasPrefix(frag, Wildcard):
		return Fragment{Kind: KindSuffix, Text: strings.TrimPrefix(frag, Wildcard)}, true
	}
	return Fragment{Kind: KindExact, Text: frag}, false
}

// IsBlank reports whether the pattern matches nothing at all.
func (p Pattern) IsBlank() bool {
	return !p.IncludesAll && len(p.Fragments) == 0
}

// Match reports whether tag is covered by the pattern.
func (p Pattern) Match(tag string) bool {
	if p.IncludesAll {
		return true
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return false
	}
	for _, f := range p.Fragments {
		if f.match(tag) {
			return true
		}
	}
	return false
}

// String renders the normalized pattern.
func (p Pattern) String() string {
	parts := make([]string, 0, len(p.Fragments)+1)
	if p.IncludesAll {
		parts = append(parts, Wildcard)
	}
	for _, f := range p.Fragments {
		switch f.Kind {
		case KindPrefix:
			parts = append(parts, f.Text+Wildcard)
		case KindSuffix:
			parts = append(parts, Wildcard+f.Text)
		case KindContains:
			parts = append(parts, Wildcard+f.Text+Wildcard)
		default:
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, ",")
}

// Match reports whether tag matches any of the given raw patterns.
func Match(tag string, patterns ...string) bool {
	for _, raw := range patterns {
		if Parse(raw).Match(tag) {
			return true
		}
	}
	return false
}
