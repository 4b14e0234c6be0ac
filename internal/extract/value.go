package extract

import "strings"

// Kind tells which of the three shapes a Value holds.
type Kind int

const (
	Absent Kind = iota
	Text
	List
)

// Value is the result of extracting one field: absent, one string, or one
// list of strings. It never wraps more than one of these.
type Value struct {
	kind Kind
	text string
	list []string
}

// AbsentValue marks a field that matched nothing.
func AbsentValue() Value {
	return Value{kind: Absent}
}

// TextValue wraps a single string.
func TextValue(s string) Value {
	return Value{kind: Text, text: s}
}

// ListValue wraps a list. An empty list is absent.
func ListValue(items []string) Value {
	if len(items) == 0 {
		return AbsentValue()
	}
	return Value{kind: List, list: items}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsAbsent() bool {
	return v.kind == Absent
}

// Text returns the string form. A list yields its first item.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case Text:
		return v.text, true
	case List:
		return v.list[0], true
	default:
		return "", false
	}
}

// List returns the list form. A single string yields a one-item list.
func (v Value) List() ([]string, bool) {
	switch v.kind {
	case List:
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out, true
	case Text:
		return []string{v.text}, true
	default:
		return nil, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case Text:
		return v.text
	case List:
		return strings.Join(v.list, ", ")
	default:
		return "<absent>"
	}
}

// Result maps field names to extracted values.
type Result map[string]Value

// Get returns the value for name, absent when the field is unknown.
func (r Result) Get(name string) Value {
	if v, ok := r[name]; ok {
		return v
	}
	return AbsentValue()
}
