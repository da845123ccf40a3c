package plan

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/wundergraph/federationplan/pkg/operation"
)

const representationsVariable = "representations"

// planEmitter lowers the scheduled group tree into the executable plan,
// printing one GraphQL document per fetch.
type planEmitter struct {
	op *operation.Operation
}

func newPlanEmitter(op *operation.Operation) *planEmitter {
	return &planEmitter{op: op}
}

func (e *planEmitter) emit(root *scheduledNode) (*QueryPlan, error) {
	if root == nil {
		return &QueryPlan{}, nil
	}
	node, err := e.emitNode(root)
	if err != nil {
		return nil, err
	}
	return &QueryPlan{Root: node}, nil
}

func (e *planEmitter) emitNode(node *scheduledNode) (Node, error) {
	switch {
	case node.group != nil:
		return e.emitFetch(node.group)
	case len(node.sequence) != 0:
		children := make([]Node, 0, len(node.sequence))
		for _, child := range node.sequence {
			emitted, err := e.emitNode(child)
			if err != nil {
				return nil, err
			}
			children = append(children, emitted)
		}
		return Sequence(children...), nil
	case len(node.parallel) != 0:
		children := make([]Node, 0, len(node.parallel))
		for _, child := range node.parallel {
			emitted, err := e.emitNode(child)
			if err != nil {
				return nil, err
			}
			children = append(children, emitted)
		}
		return Parallel(children...), nil
	}
	return nil, internalErrorf("empty scheduled node")
}

func (e *planEmitter) emitFetch(group *fetchGroup) (Node, error) {
	var rewrites []AliasRewrite
	selections := e.lowerSelectionSet(group.selection, nil, &rewrites)

	var doc *ast.QueryDocument
	if group.isEntityFetch {
		// entity selections always carry __typename so representations can be
		// matched back to response objects
		if !group.selection.hasField("__typename") {
			selections = append(ast.SelectionSet{typenameField()}, selections...)
		}
		doc = e.entitiesDocument(group, selections)
	} else {
		doc = e.rootDocument(group, selections)
	}

	usages := variableUsages(doc)
	fetch := &FetchNode{
		Service:           group.service,
		Operation:         printDocument(doc),
		OperationKind:     operationKind(doc),
		VariableUsages:    usages,
		OutputRewrites:    rewrites,
		FetchID:           group.id,
		DependsOnFetchIDs: group.dependsOn,
	}
	if group.isEntityFetch {
		fetch.Requires = fmt.Sprintf("... on %s { %s }", group.parentType, group.requiresFieldSet.String())
	}

	if len(group.path) == 0 {
		return fetch, nil
	}
	return &FlattenNode{Path: group.path, Node: fetch}, nil
}

// rootDocument builds the document for a fetch against the service's own
// query or mutation root.
func (e *planEmitter) rootDocument(group *fetchGroup, selections ast.SelectionSet) *ast.QueryDocument {
	opDef := &ast.OperationDefinition{
		Operation:    e.op.Type,
		SelectionSet: selections,
	}
	opDef.VariableDefinitions = usedVariableDefinitions(e.op.Variables, selections)
	return &ast.QueryDocument{Operations: ast.OperationList{opDef}}
}

// entitiesDocument builds the _entities document re-entering parentType by
// representation.
func (e *planEmitter) entitiesDocument(group *fetchGroup, selections ast.SelectionSet) *ast.QueryDocument {
	entities := &ast.Field{
		Alias: "_entities",
		Name:  "_entities",
		Arguments: ast.ArgumentList{{
			Name:  representationsVariable,
			Value: &ast.Value{Kind: ast.Variable, Raw: representationsVariable},
		}},
		SelectionSet: ast.SelectionSet{
			&ast.InlineFragment{
				TypeCondition: group.parentType,
				SelectionSet:  selections,
			},
		},
	}

	variableDefinitions := ast.VariableDefinitionList{{
		Variable: representationsVariable,
		Type: &ast.Type{
			Elem:    &ast.Type{NamedType: "_Any", NonNull: true},
			NonNull: true,
		},
	}}
	variableDefinitions = append(variableDefinitions, usedVariableDefinitions(e.op.Variables, ast.SelectionSet{entities})...)

	opDef := &ast.OperationDefinition{
		Operation:           ast.Query,
		VariableDefinitions: variableDefinitions,
		SelectionSet:        ast.SelectionSet{entities},
	}
	return &ast.QueryDocument{Operations: ast.OperationList{opDef}}
}

// lowerSelectionSet converts the group selection into gqlparser AST,
// assigning aliases where sibling response keys collide and recording the
// rewrite needed to restore the client shape.
func (e *planEmitter) lowerSelectionSet(sel *selectionSet, path []string, rewrites *[]AliasRewrite) ast.SelectionSet {
	out := make(ast.SelectionSet, 0, len(sel.items))
	seen := make(map[string]int)

	for _, item := range sel.items {
		if item.typeCondition != "" {
			out = append(out, &ast.InlineFragment{
				TypeCondition: item.typeCondition,
				SelectionSet:  e.lowerSelectionSet(item.selections, path, rewrites),
			})
			continue
		}

		responseKey := item.responseKey()
		alias := item.alias
		if alias == "" {
			alias = item.name
		}
		seen[responseKey]++
		if seen[responseKey] > 1 {
			alias = fmt.Sprintf("%s__%d", responseKey, seen[responseKey])
			*rewrites = append(*rewrites, AliasRewrite{
				Path:        append(append([]string{}, path...), alias),
				Alias:       alias,
				ResponseKey: responseKey,
			})
		}

		field := &ast.Field{
			Alias:     alias,
			Name:      item.name,
			Arguments: item.arguments,
		}
		if len(item.selections.items) != 0 {
			field.SelectionSet = e.lowerSelectionSet(item.selections, append(path, alias), rewrites)
		}
		out = append(out, field)
	}
	return out
}

func typenameField() *ast.Field {
	return &ast.Field{Alias: "__typename", Name: "__typename"}
}

func printDocument(doc *ast.QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

func operationKind(doc *ast.QueryDocument) string {
	if len(doc.Operations) != 0 && doc.Operations[0].Operation == ast.Mutation {
		return string(ast.Mutation)
	}
	return string(ast.Query)
}

// variableUsages lists the variables the document references, sorted, with
// representations first when present.
func variableUsages(doc *ast.QueryDocument) []string {
	names := make(map[string]struct{})
	for _, opDef := range doc.Operations {
		collectVariables(opDef.SelectionSet, names)
	}
	var out []string
	for name := range names {
		if name == representationsVariable {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	if _, ok := names[representationsVariable]; ok {
		out = append([]string{representationsVariable}, out...)
	}
	return out
}

func collectVariables(set ast.SelectionSet, names map[string]struct{}) {
	for _, selection := range set {
		switch sel := selection.(type) {
		case *ast.Field:
			for _, arg := range sel.Arguments {
				collectValueVariables(arg.Value, names)
			}
			collectVariables(sel.SelectionSet, names)
		case *ast.InlineFragment:
			collectVariables(sel.SelectionSet, names)
		}
	}
}

func collectValueVariables(value *ast.Value, names map[string]struct{}) {
	if value == nil {
		return
	}
	if value.Kind == ast.Variable {
		names[value.Raw] = struct{}{}
	}
	for _, child := range value.Children {
		collectValueVariables(child.Value, names)
	}
}

func usedVariableDefinitions(defs ast.VariableDefinitionList, selections ast.SelectionSet) ast.VariableDefinitionList {
	names := make(map[string]struct{})
	collectVariables(selections, names)
	var out ast.VariableDefinitionList
	for _, def := range defs {
		if _, used := names[def.Variable]; used {
			out = append(out, def)
		}
	}
	return out
}
