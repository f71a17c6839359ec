package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parse auto-detects the configuration surface: JSON if the string parses as
// a JSON object, the compact line syntax otherwise.
func Parse(doc string) (*Rules, error) {
	trimmed := strings.TrimSpace(doc)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return ParseJSON(trimmed)
	}
	return ParseText(trimmed)
}

// ParseJSON parses the JSON rule document.
func ParseJSON(doc string) (*Rules, error) {
	var rules Rules
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("parse rules json: %w", err)
	}
	normalize(&rules)
	if err := rules.compile(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// ParseText parses the compact line syntax, e.g.
//
//	REQUIRED:2,3,4;FORMAT:2=N(13-19);MTI:0800=REQUIRED:70
//
// Clauses are semicolon-separated. An MTI clause scopes the single clause
// after "MTI:<mti>=" to that MTI; repeat MTI clauses to scope more rules.
func ParseText(doc string) (*Rules, error) {
	rules := &Rules{PerMTI: map[string]RuleSet{}}

	for _, clause := range strings.Split(doc, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		kind, body, ok := strings.Cut(clause, ":")
		if !ok {
			return nil, fmt.Errorf("malformed clause %q", clause)
		}

		if strings.EqualFold(kind, "MTI") {
			mti, scoped, ok := strings.Cut(body, "=")
			if !ok {
				return nil, fmt.Errorf("malformed MTI clause %q", clause)
			}
			set := rules.PerMTI[mti]
			if err := applyClause(&set, scoped); err != nil {
				return nil, err
			}
			rules.PerMTI[mti] = set
			continue
		}

		if err := applyClause(&rules.Global, clause); err != nil {
			return nil, err
		}
	}

	normalize(rules)
	if err := rules.compile(); err != nil {
		return nil, err
	}
	return rules, nil
}

// applyClause parses one "KIND:body" clause into the set.
func applyClause(set *RuleSet, clause string) error {
	kind, body, ok := strings.Cut(clause, ":")
	if !ok {
		return fmt.Errorf("malformed clause %q", clause)
	}

	switch RuleKind(strings.ToUpper(strings.TrimSpace(kind))) {
	case KindRequired:
		for _, f := range strings.Split(body, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				set.Required = append(set.Required, f)
			}
		}

	case KindFormat:
		if set.Format == nil {
			set.Format = map[string]FormatRule{}
		}
		for _, pair := range strings.Split(body, ",") {
			field, spec, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("malformed FORMAT entry %q", pair)
			}
			rule, err := parseFormatSpec(spec)
			if err != nil {
				return fmt.Errorf("field %s: %w", field, err)
			}
			set.Format[field] = rule
		}

	case KindValue:
		if set.Value == nil {
			set.Value = map[string][]string{}
		}
		field, allowed, ok := strings.Cut(body, "=")
		if !ok {
			return fmt.Errorf("malformed VALUE clause %q", clause)
		}
		set.Value[field] = dedup(strings.Split(allowed, "|"))

	case KindLength:
		if set.Length == nil {
			set.Length = map[string]int{}
		}
		for _, pair := range strings.Split(body, ",") {
			field, lenStr, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("malformed LENGTH entry %q", pair)
			}
			n, err := atoi(strings.TrimSpace(lenStr))
			if err != nil {
				return fmt.Errorf("field %s: bad length %q", field, lenStr)
			}
			set.Length[field] = n
		}

	case KindPattern:
		if set.Pattern == nil {
			set.Pattern = map[string]string{}
		}
		// A regex may contain commas; one field per PATTERN clause.
		field, src, ok := strings.Cut(body, "=")
		if !ok {
			return fmt.Errorf("malformed PATTERN clause %q", clause)
		}
		set.Pattern[field] = src

	default:
		return fmt.Errorf("unknown rule kind %q", kind)
	}
	return nil
}

// parseFormatSpec parses "N(13-19)", "AN(8)", "ANS(..999)", or a bare type.
func parseFormatSpec(spec string) (FormatRule, error) {
	spec = strings.TrimSpace(spec)
	typePart, lenPart := spec, ""
	if i := strings.IndexByte(spec, '('); i >= 0 {
		if !strings.HasSuffix(spec, ")") {
			return FormatRule{}, fmt.Errorf("malformed format spec %q", spec)
		}
		typePart, lenPart = spec[:i], spec[i+1:len(spec)-1]
	}

	ft := FormatType(strings.ToUpper(typePart))
	switch ft {
	case FormatNumeric, FormatAlpha, FormatAlphaNum, FormatAlphaNumSpec, FormatBinary:
	default:
		return FormatRule{}, fmt.Errorf("unknown format type %q", typePart)
	}

	rule := FormatRule{Type: ft}
	switch {
	case lenPart == "":
	case strings.HasPrefix(lenPart, ".."):
		n, err := atoi(lenPart[2:])
		if err != nil {
			return FormatRule{}, fmt.Errorf("bad length bound %q", lenPart)
		}
		rule.Max = n
	case strings.Contains(lenPart, "-"):
		lo, hi, _ := strings.Cut(lenPart, "-")
		min, err := atoi(lo)
		if err != nil {
			return FormatRule{}, fmt.Errorf("bad length range %q", lenPart)
		}
		max, err := atoi(hi)
		if err != nil {
			return FormatRule{}, fmt.Errorf("bad length range %q", lenPart)
		}
		rule.Min, rule.Max = min, max
	default:
		n, err := atoi(lenPart)
		if err != nil {
			return FormatRule{}, fmt.Errorf("bad length %q", lenPart)
		}
		rule.Exact = n
	}
	return rule, nil
}

// ToJSON serializes the rules as a JSON document equivalent to the text
// form.
func (r *Rules) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ToText serializes the rules in the compact line syntax. Output is stable:
// global clauses first in kind order, then MTI clauses sorted by MTI.
func (r *Rules) ToText() string {
	var clauses []string
	clauses = append(clauses, setToClauses(&r.Global, "")...)

	mtis := make([]string, 0, len(r.PerMTI))
	for mti := range r.PerMTI {
		mtis = append(mtis, mti)
	}
	sort.Strings(mtis)
	for _, mti := range mtis {
		set := r.PerMTI[mti]
		clauses = append(clauses, setToClauses(&set, "MTI:"+mti+"=")...)
	}
	return strings.Join(clauses, ";")
}

func setToClauses(set *RuleSet, scope string) []string {
	var out []string

	if len(set.Required) > 0 {
		fields := append([]string{}, set.Required...)
		sortFields(fields)
		out = append(out, scope+"REQUIRED:"+strings.Join(fields, ","))
	}

	if len(set.Format) > 0 {
		var pairs []string
		for _, field := range sortedKeys(set.Format) {
			rule := set.Format[field]
			pairs = append(pairs, field+"="+string(rule.Type)+rule.lengthSpec())
		}
		out = append(out, scope+"FORMAT:"+strings.Join(pairs, ","))
	}

	for _, field := range sortedKeys(set.Value) {
		out = append(out, scope+"VALUE:"+field+"="+strings.Join(set.Value[field], "|"))
	}

	if len(set.Length) > 0 {
		var pairs []string
		for _, field := range sortedKeys(set.Length) {
			pairs = append(pairs, fmt.Sprintf("%s=%d", field, set.Length[field]))
		}
		out = append(out, scope+"LENGTH:"+strings.Join(pairs, ","))
	}

	for _, field := range sortedKeys(set.Pattern) {
		out = append(out, scope+"PATTERN:"+field+"="+set.Pattern[field])
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortFields(keys)
	return keys
}

// normalize sorts required lists and drops empty scoped sets so documents
// parsed from either surface compare equal.
func normalize(r *Rules) {
	sortFields(r.Global.Required)
	r.Global.Required = dedup(r.Global.Required)
	if r.PerMTI == nil {
		r.PerMTI = map[string]RuleSet{}
	}
	for mti, set := range r.PerMTI {
		if set.IsEmpty() {
			delete(r.PerMTI, mti)
			continue
		}
		sortFields(set.Required)
		set.Required = dedup(set.Required)
		r.PerMTI[mti] = set
	}
}
