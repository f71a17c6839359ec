package validation

import (
	"fmt"
	"strings"

	"github.com/nexuspay/fepgate/internal/iso8583"
)

// Error is one rule violation.
type Error struct {
	Field    string   `json:"field"`
	Kind     RuleKind `json:"kind"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Message  string   `json:"message"`
}

func (e Error) Error() string { return e.Message }

// Result is the outcome of evaluating a message against a rule document.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Error `json:"errors,omitempty"`
}

// Summary joins the violation messages for audit records.
func (r Result) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Engine evaluates messages against a parsed rule document.
type Engine struct {
	rules *Rules
}

// NewEngine parses the rule document (either surface) and returns an
// evaluator.
func NewEngine(doc string) (*Engine, error) {
	rules, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// NewEngineFromRules wraps an already-parsed document.
func NewEngineFromRules(rules *Rules) *Engine {
	return &Engine{rules: rules}
}

// Rules exposes the parsed document.
func (e *Engine) Rules() *Rules { return e.rules }

// Validate applies the union of global and MTI-scoped rules to the message.
func (e *Engine) Validate(msg *iso8583.Message) Result {
	set := e.rules.EffectiveFor(msg.MTI)
	var errs []Error

	for _, field := range set.Required {
		if msg.Field(field) == "" {
			errs = append(errs, Error{
				Field:    field,
				Kind:     KindRequired,
				Expected: "present",
				Actual:   "missing",
				Message:  fmt.Sprintf("Required field %s is missing", field),
			})
		}
	}

	for field, rule := range set.Format {
		value := msg.Field(field)
		if value == "" {
			continue // absence is REQUIRED's concern
		}
		if err := checkFormat(field, value, rule); err != nil {
			errs = append(errs, *err)
		}
	}

	for field, allowed := range set.Value {
		value := msg.Field(field)
		if value == "" {
			continue
		}
		if !contains(allowed, value) {
			errs = append(errs, Error{
				Field:    field,
				Kind:     KindValue,
				Expected: strings.Join(allowed, "|"),
				Actual:   value,
				Message:  fmt.Sprintf("Field %s value %q is not allowed", field, value),
			})
		}
	}

	for field, exact := range set.Length {
		value := msg.Field(field)
		if value == "" {
			continue
		}
		if len(value) != exact {
			errs = append(errs, Error{
				Field:    field,
				Kind:     KindLength,
				Expected: fmt.Sprintf("length %d", exact),
				Actual:   fmt.Sprintf("length %d", len(value)),
				Message:  fmt.Sprintf("Field %s must be exactly %d characters", field, exact),
			})
		}
	}

	for field, src := range set.Pattern {
		value := msg.Field(field)
		if value == "" {
			continue
		}
		re := e.rules.compiled[src]
		if re != nil && !re.MatchString(value) {
			errs = append(errs, Error{
				Field:    field,
				Kind:     KindPattern,
				Expected: src,
				Actual:   value,
				Message:  fmt.Sprintf("Field %s does not match pattern %s", field, src),
			})
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkFormat(field, value string, rule FormatRule) *Error {
	fail := func(expected string) *Error {
		return &Error{
			Field:    field,
			Kind:     KindFormat,
			Expected: expected,
			Actual:   value,
			Message:  fmt.Sprintf("Field %s must be %s", field, expected),
		}
	}

	spec := string(rule.Type) + rule.lengthSpec()

	if !charClassOK(value, rule.Type) {
		return fail(spec)
	}

	n := len(value)
	switch {
	case rule.Exact > 0 && n != rule.Exact:
		return fail(spec)
	case rule.Min > 0 && n < rule.Min:
		return fail(spec)
	case rule.Max > 0 && n > rule.Max:
		return fail(spec)
	}
	return nil
}

func charClassOK(value string, ft FormatType) bool {
	for _, c := range value {
		switch ft {
		case FormatNumeric:
			if c < '0' || c > '9' {
				return false
			}
		case FormatAlpha:
			if !isLetter(c) {
				return false
			}
		case FormatAlphaNum:
			if !isLetter(c) && (c < '0' || c > '9') {
				return false
			}
		case FormatAlphaNumSpec:
			if c < 0x20 || c > 0x7e {
				return false
			}
		case FormatBinary:
			if !isHex(c) {
				return false
			}
		}
	}
	return true
}

func isLetter(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
