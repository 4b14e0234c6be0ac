package extract

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"gopkg.in/yaml.v3"
)

//go:embed default_detail.yaml
var defaultDetailSchema []byte

// Mode selects how a field's selector is evaluated.
type Mode string

const (
	ModeSingleText Mode = "single-text"
	ModeMultiText  Mode = "multi-text"
	ModeAttribute  Mode = "attribute"
	ModeFirstMatch Mode = "first-match-of-alternatives"
)

// Alternative is one selector tried by ModeFirstMatch.
type Alternative struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// FieldSpec describes how to extract one field.
type FieldSpec struct {
	Name         string        `yaml:"name"`
	Mode         Mode          `yaml:"mode"`
	Selector     string        `yaml:"selector,omitempty"`
	Attr         string        `yaml:"attr,omitempty"`
	Alternatives []Alternative `yaml:"alternatives,omitempty"`

	// Pattern narrows matched text to its first capture group. Text the
	// pattern does not match is kept whole.
	Pattern string `yaml:"pattern,omitempty"`

	// ResolveURL resolves matched values against the document URL.
	ResolveURL bool `yaml:"resolve_url,omitempty"`

	re *regexp.Regexp
}

// Schema is an ordered set of field specs for one record kind.
type Schema struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

// ParseSchema decodes and validates a YAML schema.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("failed to decode schema: %w", err)
	}
	if err := s.compile(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// LoadSchema reads a schema file. An empty path yields the default detail
// schema.
func LoadSchema(path string) (Schema, error) {
	if path == "" {
		return DefaultDetailSchema()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema: %w", err)
	}
	return ParseSchema(data)
}

// DefaultDetailSchema returns the built-in detail-page schema.
func DefaultDetailSchema() (Schema, error) {
	return ParseSchema(defaultDetailSchema)
}

// Marshal renders the schema as YAML.
func (s Schema) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Field returns the field named name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (s *Schema) compile() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("schema %q: field %d has no name", s.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true

		if err := f.validate(); err != nil {
			return fmt.Errorf("schema %q: field %q: %w", s.Name, f.Name, err)
		}

		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("schema %q: field %q: invalid pattern: %w", s.Name, f.Name, err)
			}
			f.re = re
		}
	}
	return nil
}

func (f FieldSpec) validate() error {
	switch f.Mode {
	case ModeSingleText, ModeMultiText:
		if f.Selector == "" {
			return fmt.Errorf("mode %s requires a selector", f.Mode)
		}
		return parser.ValidateSelector(f.Selector)
	case ModeAttribute:
		if f.Selector == "" || f.Attr == "" {
			return fmt.Errorf("mode %s requires a selector and an attr", f.Mode)
		}
		return parser.ValidateSelector(f.Selector)
	case ModeFirstMatch:
		if len(f.Alternatives) == 0 {
			return fmt.Errorf("mode %s requires alternatives", f.Mode)
		}
		for _, alt := range f.Alternatives {
			if err := parser.ValidateSelector(alt.Selector); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", f.Mode)
	}
}

// pattern returns the compiled pattern, compiling on the fly for specs
// built in code rather than parsed.
func (f FieldSpec) pattern() (*regexp.Regexp, error) {
	if f.re != nil || f.Pattern == "" {
		return f.re, nil
	}
	return regexp.Compile(f.Pattern)
}
