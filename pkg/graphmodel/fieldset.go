package graphmodel

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// FieldSet is a parsed @key/@requires/@provides selection, e.g. "id org { id }".
// It carries plain fields only: no aliases, arguments or fragments.
type FieldSet []FieldSelection

type FieldSelection struct {
	Name       string
	Selections FieldSet
}

// ParseFieldSet parses the selection set notation used by federation directives.
func ParseFieldSet(input string) (FieldSet, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: "{" + input + "}"})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid field set %q", input)
	}
	if len(doc.Operations) != 1 {
		return nil, errors.Errorf("invalid field set %q", input)
	}
	return fieldSetFromSelectionSet(doc.Operations[0].SelectionSet, input)
}

func MustParseFieldSet(input string) FieldSet {
	fs, err := ParseFieldSet(input)
	if err != nil {
		panic(err)
	}
	return fs
}

func fieldSetFromSelectionSet(selectionSet ast.SelectionSet, input string) (FieldSet, error) {
	fs := make(FieldSet, 0, len(selectionSet))
	for _, selection := range selectionSet {
		field, ok := selection.(*ast.Field)
		if !ok {
			return nil, errors.Errorf("field set %q must contain fields only", input)
		}
		if len(field.Arguments) != 0 {
			return nil, errors.Errorf("field set %q must not contain arguments", input)
		}
		item := FieldSelection{Name: field.Name}
		if len(field.SelectionSet) != 0 {
			children, err := fieldSetFromSelectionSet(field.SelectionSet, input)
			if err != nil {
				return nil, err
			}
			item.Selections = children
		}
		fs = append(fs, item)
	}
	return fs, nil
}

// String renders the field set in canonical single-line form, without outer braces.
func (fs FieldSet) String() string {
	var sb strings.Builder
	fs.writeTo(&sb)
	return sb.String()
}

func (fs FieldSet) writeTo(sb *strings.Builder) {
	for i, field := range fs {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(field.Name)
		if len(field.Selections) != 0 {
			sb.WriteString(" { ")
			field.Selections.writeTo(sb)
			sb.WriteString(" }")
		}
	}
}

// Paths returns the dotted leaf paths of the set, in declaration order.
func (fs FieldSet) Paths() [][]string {
	var out [][]string
	for _, field := range fs {
		if len(field.Selections) == 0 {
			out = append(out, []string{field.Name})
			continue
		}
		for _, sub := range field.Selections.Paths() {
			out = append(out, append([]string{field.Name}, sub...))
		}
	}
	return out
}

func (fs FieldSet) HasField(name string) bool {
	for i := range fs {
		if fs[i].Name == name {
			return true
		}
	}
	return false
}

func (fs FieldSet) HasPath(path []string) bool {
	if len(path) == 0 {
		return false
	}
	for i := range fs {
		if fs[i].Name != path[0] {
			continue
		}
		if len(path) == 1 {
			return true
		}
		return fs[i].Selections.HasPath(path[1:])
	}
	return false
}

// Merge unions two field sets, preserving the receiver's order and appending
// fields of other that are not yet present. Nested selections merge recursively.
func (fs FieldSet) Merge(other FieldSet) FieldSet {
	merged := make(FieldSet, len(fs))
	copy(merged, fs)
	for _, field := range other {
		idx := -1
		for i := range merged {
			if merged[i].Name == field.Name {
				idx = i
				break
			}
		}
		if idx == -1 {
			merged = append(merged, field)
			continue
		}
		merged[idx].Selections = merged[idx].Selections.Merge(field.Selections)
	}
	return merged
}

// WithTypename returns the set with __typename as its first field. Entity
// representations always carry the concrete type name.
func (fs FieldSet) WithTypename() FieldSet {
	if fs.HasField("__typename") {
		return fs
	}
	out := make(FieldSet, 0, len(fs)+1)
	out = append(out, FieldSelection{Name: "__typename"})
	return append(out, fs...)
}
