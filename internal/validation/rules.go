// Package validation evaluates declarative field rules against messages
// before they are routed. Rules come in two equivalent configuration
// surfaces, a compact line syntax and a JSON document, and may be global or
// scoped to one MTI.
package validation

import (
	"fmt"
	"regexp"
	"sort"
)

// RuleKind names a rule category.
type RuleKind string

const (
	KindRequired RuleKind = "REQUIRED"
	KindFormat   RuleKind = "FORMAT"
	KindValue    RuleKind = "VALUE"
	KindLength   RuleKind = "LENGTH"
	KindPattern  RuleKind = "PATTERN"
)

// FormatType is the character class of a FORMAT rule.
type FormatType string

const (
	FormatNumeric      FormatType = "N"   // digits
	FormatAlpha        FormatType = "A"   // letters
	FormatAlphaNum     FormatType = "AN"  // letters and digits
	FormatAlphaNumSpec FormatType = "ANS" // printable
	FormatBinary       FormatType = "B"   // hex digits
)

// FormatRule constrains a field's character class and length. Exact takes
// precedence; otherwise Min/Max bound the length, with zero meaning
// unbounded on that side.
type FormatRule struct {
	Type  FormatType `json:"type"`
	Exact int        `json:"exact,omitempty"`
	Min   int        `json:"min,omitempty"`
	Max   int        `json:"max,omitempty"`
}

// lengthSpec renders the parenthesized length part of the text form.
func (f FormatRule) lengthSpec() string {
	switch {
	case f.Exact > 0:
		return fmt.Sprintf("(%d)", f.Exact)
	case f.Min > 0 && f.Max > 0:
		return fmt.Sprintf("(%d-%d)", f.Min, f.Max)
	case f.Max > 0:
		return fmt.Sprintf("(..%d)", f.Max)
	default:
		return ""
	}
}

// RuleSet is one scope's worth of rules (global or per-MTI).
type RuleSet struct {
	Required []string              `json:"required,omitempty"`
	Format   map[string]FormatRule `json:"format,omitempty"`
	Value    map[string][]string   `json:"value,omitempty"`
	Length   map[string]int        `json:"length,omitempty"`
	Pattern  map[string]string     `json:"pattern,omitempty"`
}

// IsEmpty reports whether the set carries no rules.
func (s *RuleSet) IsEmpty() bool {
	return len(s.Required) == 0 && len(s.Format) == 0 && len(s.Value) == 0 &&
		len(s.Length) == 0 && len(s.Pattern) == 0
}

// merge returns the union of s and other. Scalar rules (format, length,
// pattern) from other win on field collision; required and value sets union.
func (s *RuleSet) merge(other *RuleSet) *RuleSet {
	out := &RuleSet{
		Format:  map[string]FormatRule{},
		Value:   map[string][]string{},
		Length:  map[string]int{},
		Pattern: map[string]string{},
	}

	seen := map[string]bool{}
	for _, set := range [][]string{s.Required, other.Required} {
		for _, f := range set {
			if !seen[f] {
				seen[f] = true
				out.Required = append(out.Required, f)
			}
		}
	}
	sortFields(out.Required)

	for k, v := range s.Format {
		out.Format[k] = v
	}
	for k, v := range other.Format {
		out.Format[k] = v
	}

	for k, v := range s.Value {
		out.Value[k] = append([]string{}, v...)
	}
	for k, v := range other.Value {
		merged := append(append([]string{}, out.Value[k]...), v...)
		out.Value[k] = dedup(merged)
	}

	for k, v := range s.Length {
		out.Length[k] = v
	}
	for k, v := range other.Length {
		out.Length[k] = v
	}

	for k, v := range s.Pattern {
		out.Pattern[k] = v
	}
	for k, v := range other.Pattern {
		out.Pattern[k] = v
	}

	return out
}

// Rules is a complete rule document: a global set plus MTI-scoped sets.
type Rules struct {
	Global RuleSet            `json:"global"`
	PerMTI map[string]RuleSet `json:"mti,omitempty"`

	// compiled patterns, keyed by regex source
	compiled map[string]*regexp.Regexp
}

// EffectiveFor returns the union of the global set and the MTI-scoped set.
func (r *Rules) EffectiveFor(mti string) *RuleSet {
	scoped, ok := r.PerMTI[mti]
	if !ok {
		return r.Global.merge(&RuleSet{})
	}
	return r.Global.merge(&scoped)
}

// compile pre-compiles every PATTERN regex, failing fast on bad input.
func (r *Rules) compile() error {
	r.compiled = map[string]*regexp.Regexp{}
	sets := []RuleSet{r.Global}
	for _, s := range r.PerMTI {
		sets = append(sets, s)
	}
	for _, s := range sets {
		for field, src := range s.Pattern {
			if _, ok := r.compiled[src]; ok {
				continue
			}
			re, err := regexp.Compile("^(?:" + src + ")$")
			if err != nil {
				return fmt.Errorf("pattern for field %s: %w", field, err)
			}
			r.compiled[src] = re
		}
	}
	return nil
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// sortFields orders field ids numerically where possible, lexically
// otherwise, so serialized output is stable.
func sortFields(fields []string) {
	sort.Slice(fields, func(i, j int) bool {
		a, aerr := atoi(fields[i])
		b, berr := atoi(fields[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		if aerr == nil {
			return true
		}
		if berr == nil {
			return false
		}
		return fields[i] < fields[j]
	})
}

func atoi(s string) (int, error) {
	var n int
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
