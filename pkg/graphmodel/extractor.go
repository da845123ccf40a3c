package graphmodel

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// federationBaseSchema declares the directives and scalars a subgraph schema
// document may use. It is prepended before parsing, so the document itself must
// not redeclare them.
const federationBaseSchema = `
scalar _Any
scalar _FieldSet

directive @key(fields: _FieldSet!, resolvable: Boolean = true) repeatable on OBJECT | INTERFACE
directive @external on FIELD_DEFINITION | OBJECT
directive @requires(fields: _FieldSet!) on FIELD_DEFINITION
directive @provides(fields: _FieldSet!) on FIELD_DEFINITION
directive @shareable repeatable on OBJECT | FIELD_DEFINITION
directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ENUM | ENUM_VALUE | SCALAR | INPUT_OBJECT | INPUT_FIELD_DEFINITION | ARGUMENT_DEFINITION
directive @tag(name: String!) repeatable on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ENUM | ENUM_VALUE | SCALAR | INPUT_OBJECT | INPUT_FIELD_DEFINITION | ARGUMENT_DEFINITION
directive @extends on OBJECT | INTERFACE
`

// ServiceFromSDL builds a ServiceConfiguration from an annotated subgraph
// schema document. Root nodes are the operation root fields plus all entity
// (keyed) type fields; remaining object and interface fields become child
// nodes. This is extraction only: composition and its diagnostics happen
// elsewhere.
func ServiceFromSDL(name, sdl string) (*ServiceConfiguration, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{
		Name:  name,
		Input: federationBaseSchema + sdl,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "service %q schema", name)
	}

	service := &ServiceConfiguration{Name: name}

	typeNames := make([]string, 0, len(schema.Types))
	for typeName := range schema.Types {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		def := schema.Types[typeName]
		if def.BuiltIn || strings.HasPrefix(typeName, "__") || strings.HasPrefix(typeName, "_") {
			continue
		}
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			continue
		}

		var keyCount int
		for _, directive := range def.Directives {
			if directive.Name != "key" {
				continue
			}
			fields := directive.Arguments.ForName("fields")
			if fields == nil {
				return nil, errors.Errorf("service %q: @key on %q misses fields argument", name, typeName)
			}
			cfg := FieldConfiguration{
				TypeName:     typeName,
				SelectionSet: fields.Value.Raw,
			}
			if resolvable := directive.Arguments.ForName("resolvable"); resolvable != nil && resolvable.Value.Raw == "false" {
				cfg.DisableEntityResolver = true
			}
			service.Keys = append(service.Keys, cfg)
			keyCount++
		}

		node := TypeField{TypeName: typeName}
		var inaccessible []string
		for _, field := range def.Fields {
			if strings.HasPrefix(field.Name, "__") {
				continue
			}
			if field.Directives.ForName("external") != nil {
				node.ExternalFieldNames = append(node.ExternalFieldNames, field.Name)
			} else {
				node.FieldNames = append(node.FieldNames, field.Name)
			}
			if requires := field.Directives.ForName("requires"); requires != nil {
				fields := requires.Arguments.ForName("fields")
				if fields == nil {
					return nil, errors.Errorf("service %q: @requires on %s.%s misses fields argument", name, typeName, field.Name)
				}
				service.Requires = append(service.Requires, FieldConfiguration{
					TypeName:     typeName,
					FieldName:    field.Name,
					SelectionSet: fields.Value.Raw,
				})
			}
			if provides := field.Directives.ForName("provides"); provides != nil {
				fields := provides.Arguments.ForName("fields")
				if fields == nil {
					return nil, errors.Errorf("service %q: @provides on %s.%s misses fields argument", name, typeName, field.Name)
				}
				service.Provides = append(service.Provides, FieldConfiguration{
					TypeName:     typeName,
					FieldName:    field.Name,
					SelectionSet: fields.Value.Raw,
				})
			}
			if field.Directives.ForName("inaccessible") != nil {
				inaccessible = append(inaccessible, field.Name)
			}
		}
		if len(inaccessible) != 0 {
			service.Inaccessible = append(service.Inaccessible, TypeField{
				TypeName:   typeName,
				FieldNames: inaccessible,
			})
		}

		isRootType := (schema.Query != nil && schema.Query.Name == typeName) ||
			(schema.Mutation != nil && schema.Mutation.Name == typeName) ||
			(schema.Subscription != nil && schema.Subscription.Name == typeName)

		if isRootType || keyCount > 0 {
			service.RootNodes = append(service.RootNodes, node)
		} else {
			service.ChildNodes = append(service.ChildNodes, node)
		}
	}

	return service, nil
}
