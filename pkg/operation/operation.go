// Package operation normalizes a parsed GraphQL operation against the composed
// schema: fragment spreads and inline fragments are expanded in place, and
// selections with the same response key and type condition are merged. The
// planner consumes the resulting tree instead of the raw document.
package operation

import (
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Operation is a normalized, self-contained operation.
type Operation struct {
	Name         string
	Type         ast.Operation
	RootTypeName string
	Variables    ast.VariableDefinitionList
	Selections   []*SelectionNode
}

// SelectionNode is one normalized field selection.
type SelectionNode struct {
	Name      string
	Alias     string
	Arguments ast.ArgumentList

	// ParentTypeName is the type the selection set was spread on;
	// TypeCondition narrows it when the field was reached through a fragment
	// on a different type.
	ParentTypeName string
	TypeCondition  string

	TypeName   string // named return type
	ListDepth  int    // number of list wrappers on the return type
	IsLeaf     bool
	IsAbstract bool

	Children []*SelectionNode
}

func (n *SelectionNode) ResponseKey() string {
	if n.Alias != "" && n.Alias != n.Name {
		return n.Alias
	}
	return n.Name
}

// EffectiveParentTypeName is the type the field is actually selected on.
func (n *SelectionNode) EffectiveParentTypeName() string {
	if n.TypeCondition != "" {
		return n.TypeCondition
	}
	return n.ParentTypeName
}

// Parse loads and validates the operation against the schema, then normalizes
// it. operationName may be empty when the document holds a single operation.
func Parse(schema *ast.Schema, query, operationName string) (*Operation, error) {
	doc, errList := gqlparser.LoadQuery(schema, query)
	if len(errList) != 0 {
		return nil, errList
	}
	return Normalize(schema, doc, operationName)
}

// Normalize expands fragments of the selected operation into a flat selection
// tree.
func Normalize(schema *ast.Schema, doc *ast.QueryDocument, operationName string) (*Operation, error) {
	var def *ast.OperationDefinition
	switch {
	case operationName != "":
		def = doc.Operations.ForName(operationName)
		if def == nil {
			return nil, errors.Errorf("unknown operation %q", operationName)
		}
	case len(doc.Operations) == 1:
		def = doc.Operations[0]
	default:
		return nil, errors.New("operation name required for documents with multiple operations")
	}

	rootType, err := rootTypeName(schema, def.Operation)
	if err != nil {
		return nil, err
	}

	n := &normalizer{schema: schema, fragments: doc.Fragments}
	selections, err := n.collect(def.SelectionSet, rootType, "")
	if err != nil {
		return nil, err
	}

	return &Operation{
		Name:         def.Name,
		Type:         def.Operation,
		RootTypeName: rootType,
		Variables:    def.VariableDefinitions,
		Selections:   selections,
	}, nil
}

func rootTypeName(schema *ast.Schema, op ast.Operation) (string, error) {
	switch op {
	case ast.Query:
		if schema.Query != nil {
			return schema.Query.Name, nil
		}
	case ast.Mutation:
		if schema.Mutation != nil {
			return schema.Mutation.Name, nil
		}
	case ast.Subscription:
		if schema.Subscription != nil {
			return schema.Subscription.Name, nil
		}
	}
	return "", errors.Errorf("schema does not define a %s root type", op)
}

type normalizer struct {
	schema    *ast.Schema
	fragments ast.FragmentDefinitionList
}

func (n *normalizer) collect(selectionSet ast.SelectionSet, parentTypeName, typeCondition string) ([]*SelectionNode, error) {
	var out []*SelectionNode
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *ast.Field:
			node, err := n.field(sel, parentTypeName, typeCondition)
			if err != nil {
				return nil, err
			}
			out = mergeInto(out, node)
		case *ast.InlineFragment:
			condition := typeCondition
			if sel.TypeCondition != "" && sel.TypeCondition != parentTypeName {
				condition = sel.TypeCondition
			}
			children, err := n.collect(sel.SelectionSet, parentTypeName, condition)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				out = mergeInto(out, child)
			}
		case *ast.FragmentSpread:
			fragment := n.fragments.ForName(sel.Name)
			if fragment == nil {
				return nil, errors.Errorf("unknown fragment %q", sel.Name)
			}
			condition := typeCondition
			if fragment.TypeCondition != "" && fragment.TypeCondition != parentTypeName {
				condition = fragment.TypeCondition
			}
			children, err := n.collect(fragment.SelectionSet, parentTypeName, condition)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				out = mergeInto(out, child)
			}
		}
	}
	return out, nil
}

func (n *normalizer) field(field *ast.Field, parentTypeName, typeCondition string) (*SelectionNode, error) {
	node := &SelectionNode{
		Name:           field.Name,
		Alias:          field.Alias,
		Arguments:      field.Arguments,
		ParentTypeName: parentTypeName,
		TypeCondition:  typeCondition,
	}

	if field.Name == "__typename" {
		node.TypeName = "String"
		node.IsLeaf = true
		return node, nil
	}

	effectiveParent := parentTypeName
	if typeCondition != "" {
		effectiveParent = typeCondition
	}
	parentDef, ok := n.schema.Types[effectiveParent]
	if !ok {
		return nil, errors.Errorf("unknown type %q", effectiveParent)
	}
	fieldDef := parentDef.Fields.ForName(field.Name)
	if fieldDef == nil {
		return nil, errors.Errorf("type %q has no field %q", effectiveParent, field.Name)
	}

	node.TypeName = fieldDef.Type.Name()
	node.ListDepth = listDepth(fieldDef.Type)

	typeDef, ok := n.schema.Types[node.TypeName]
	if !ok {
		return nil, errors.Errorf("unknown type %q", node.TypeName)
	}
	switch typeDef.Kind {
	case ast.Scalar, ast.Enum:
		node.IsLeaf = true
	case ast.Interface, ast.Union:
		node.IsAbstract = true
	}

	if len(field.SelectionSet) != 0 {
		children, err := n.collect(field.SelectionSet, node.TypeName, "")
		if err != nil {
			return nil, err
		}
		node.Children = children
	}
	return node, nil
}

func listDepth(t *ast.Type) int {
	depth := 0
	for t != nil && t.NamedType == "" {
		if t.Elem != nil {
			depth++
		}
		t = t.Elem
	}
	return depth
}

// mergeInto appends node, merging it into an existing selection with the same
// response key and type condition. Validation guarantees mergeable fields have
// identical names and arguments.
func mergeInto(selections []*SelectionNode, node *SelectionNode) []*SelectionNode {
	for _, existing := range selections {
		if existing.ResponseKey() != node.ResponseKey() || existing.TypeCondition != node.TypeCondition {
			continue
		}
		for _, child := range node.Children {
			existing.Children = mergeInto(existing.Children, child)
		}
		return selections
	}
	return append(selections, node)
}
