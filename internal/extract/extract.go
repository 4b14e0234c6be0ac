// Package extract evaluates a field schema against a parsed page and
// returns one raw value per field.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BenjaminSRussell/listingharvest/internal/parser"
)

// EngineError reports that a selector could not be evaluated against a
// document. A selector that simply matches nothing is not an error.
type EngineError struct {
	Field    string
	Selector string
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("extraction engine failed on field %q (selector %q): %v", e.Field, e.Selector, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Extract evaluates every field of schema against doc.
func Extract(doc parser.Document, schema Schema) (Result, error) {
	result := make(Result, len(schema.Fields))

	for _, field := range schema.Fields {
		v, err := extractField(doc, field)
		if err != nil {
			return nil, err
		}
		result[field.Name] = v
	}

	return result, nil
}

func extractField(doc parser.Document, f FieldSpec) (Value, error) {
	re, err := f.pattern()
	if err != nil {
		return Value{}, &EngineError{Field: f.Name, Selector: f.Selector, Err: err}
	}

	switch f.Mode {
	case ModeSingleText, ModeAttribute:
		raw, ok, err := doc.QueryAttribute(f.Selector, f.Attr)
		if err != nil {
			return Value{}, &EngineError{Field: f.Name, Selector: f.Selector, Err: err}
		}
		if !ok {
			return AbsentValue(), nil
		}
		if s := clean(doc, raw, re, f.ResolveURL); s != "" {
			return TextValue(s), nil
		}
		return AbsentValue(), nil

	case ModeMultiText:
		raws, err := doc.QueryTexts(f.Selector)
		if err != nil {
			return Value{}, &EngineError{Field: f.Name, Selector: f.Selector, Err: err}
		}
		items := make([]string, 0, len(raws))
		for _, raw := range raws {
			if s := clean(doc, raw, re, f.ResolveURL); s != "" {
				items = append(items, s)
			}
		}
		return ListValue(items), nil

	case ModeFirstMatch:
		for _, alt := range f.Alternatives {
			raw, ok, err := doc.QueryAttribute(alt.Selector, alt.Attr)
			if err != nil {
				return Value{}, &EngineError{Field: f.Name, Selector: alt.Selector, Err: err}
			}
			if !ok {
				continue
			}
			if s := clean(doc, raw, re, f.ResolveURL); s != "" {
				return TextValue(s), nil
			}
		}
		return AbsentValue(), nil

	default:
		return Value{}, &EngineError{Field: f.Name, Selector: f.Selector, Err: fmt.Errorf("unknown mode %q", f.Mode)}
	}
}

// clean trims raw, applies the field pattern and optional URL resolution.
// An empty result means the value is treated as absent.
func clean(doc parser.Document, raw string, re *regexp.Regexp, resolve bool) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if re != nil {
		if m := re.FindStringSubmatch(s); m != nil {
			if len(m) > 1 {
				s = strings.TrimSpace(m[1])
			} else {
				s = strings.TrimSpace(m[0])
			}
		}
	}

	if resolve && s != "" {
		resolved, err := doc.ResolveURL(s)
		if err != nil {
			return ""
		}
		s = resolved
	}

	return s
}
