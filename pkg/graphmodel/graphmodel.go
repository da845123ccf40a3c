// Package graphmodel holds the read-only model of a composed federated graph:
// which service owns which type/field, which fields are external, and the
// key/requires/provides field sets declared across service boundaries.
//
// The model is built once per schema version and safely shared between
// concurrent planning calls; nothing in it is mutated after NewGraph returns.
package graphmodel

import (
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
)

// TypeField couples a type name with the fields a service declares on it.
// External fields are declared for shape and requirement purposes only and are
// not resolvable by the service itself.
type TypeField struct {
	TypeName           string
	FieldNames         []string
	ExternalFieldNames []string
}

type TypeFields []TypeField

func (t TypeFields) HasNode(typeName, fieldName string) bool {
	for i := range t {
		if t[i].TypeName != typeName {
			continue
		}
		for j := range t[i].FieldNames {
			if t[i].FieldNames[j] == fieldName {
				return true
			}
		}
	}
	return false
}

func (t TypeFields) HasExternalNode(typeName, fieldName string) bool {
	for i := range t {
		if t[i].TypeName != typeName {
			continue
		}
		for j := range t[i].ExternalFieldNames {
			if t[i].ExternalFieldNames[j] == fieldName {
				return true
			}
		}
	}
	return false
}

// FieldConfiguration attaches a federation field set to a (type, field) pair.
// For keys FieldName is empty. The SelectionSet is kept as written in the
// schema and parsed once when the graph is built.
type FieldConfiguration struct {
	TypeName     string
	FieldName    string
	SelectionSet string

	// DisableEntityResolver marks a key that identifies the entity but cannot
	// be used to resolve it in this service (resolvable: false, or a key
	// inherited from an interface for shape purposes).
	DisableEntityResolver bool
}

type FieldConfigurations []FieldConfiguration

func (f FieldConfigurations) FilterByType(typeName string) (out FieldConfigurations) {
	for i := range f {
		if f[i].TypeName == typeName && f[i].FieldName == "" {
			out = append(out, f[i])
		}
	}
	return out
}

func (f FieldConfigurations) FirstByTypeAndField(typeName, fieldName string) (FieldConfiguration, bool) {
	for i := range f {
		if f[i].TypeName == typeName && f[i].FieldName == fieldName {
			return f[i], true
		}
	}
	return FieldConfiguration{}, false
}

// ServiceConfiguration describes one service's partition of the graph.
type ServiceConfiguration struct {
	Name string

	// RootNodes are the nodes where the responsibility of the service begins:
	// operation root fields and entity fields.
	RootNodes TypeFields
	// ChildNodes are non-entity fields the service resolves when reached
	// through one of its root nodes.
	ChildNodes TypeFields

	Keys     FieldConfigurations
	Requires FieldConfigurations
	Provides FieldConfigurations

	// Inaccessible fields are hidden from the public schema but still flow
	// between services as fetch inputs.
	Inaccessible TypeFields

	rootIndex  map[string]fieldsIndex
	childIndex map[string]fieldsIndex
}

type fieldsIndex struct {
	fields         map[string]struct{}
	externalFields map[string]struct{}
}

func buildIndex(nodes TypeFields) map[string]fieldsIndex {
	index := make(map[string]fieldsIndex, len(nodes))
	for i := range nodes {
		idx, ok := index[nodes[i].TypeName]
		if !ok {
			idx = fieldsIndex{
				fields:         make(map[string]struct{}, len(nodes[i].FieldNames)),
				externalFields: make(map[string]struct{}, len(nodes[i].ExternalFieldNames)),
			}
			index[nodes[i].TypeName] = idx
		}
		for _, name := range nodes[i].FieldNames {
			idx.fields[name] = struct{}{}
		}
		for _, name := range nodes[i].ExternalFieldNames {
			idx.externalFields[name] = struct{}{}
		}
	}
	return index
}

func (s *ServiceConfiguration) initIndexes() {
	s.rootIndex = buildIndex(s.RootNodes)
	s.childIndex = buildIndex(s.ChildNodes)
}

func (s *ServiceConfiguration) hasField(typeName, fieldName string) bool {
	if idx, ok := s.rootIndex[typeName]; ok {
		if _, ok := idx.fields[fieldName]; ok {
			return true
		}
	}
	if idx, ok := s.childIndex[typeName]; ok {
		if _, ok := idx.fields[fieldName]; ok {
			return true
		}
	}
	return false
}

func (s *ServiceConfiguration) hasExternalField(typeName, fieldName string) bool {
	if idx, ok := s.rootIndex[typeName]; ok {
		if _, ok := idx.externalFields[fieldName]; ok {
			return true
		}
	}
	if idx, ok := s.childIndex[typeName]; ok {
		if _, ok := idx.externalFields[fieldName]; ok {
			return true
		}
	}
	return false
}

// KeyConfiguration is a parsed entity key of a type in one service.
type KeyConfiguration struct {
	TypeName              string
	FieldSet              FieldSet
	DisableEntityResolver bool
}

// Graph is the immutable planning-time view of the federated schema.
type Graph struct {
	schema   *ast.Schema
	services []*ServiceConfiguration

	serviceByName map[string]*ServiceConfiguration
	keys          map[string][]KeyConfiguration // service|typeName
	requires      map[string]FieldSet           // service|typeName.fieldName
	provides      map[string]FieldSet           // service|typeName.fieldName
}

// NewGraph builds the graph model from the composed schema and the per-service
// configurations. All field sets are parsed here; a malformed set fails graph
// construction rather than a later planning call.
func NewGraph(schema *ast.Schema, services ...*ServiceConfiguration) (*Graph, error) {
	g := &Graph{
		schema:        schema,
		services:      services,
		serviceByName: make(map[string]*ServiceConfiguration, len(services)),
		keys:          make(map[string][]KeyConfiguration),
		requires:      make(map[string]FieldSet),
		provides:      make(map[string]FieldSet),
	}
	for _, service := range services {
		if service.Name == "" {
			return nil, errors.New("service name must not be empty")
		}
		if _, exists := g.serviceByName[service.Name]; exists {
			return nil, errors.Errorf("duplicate service name %q", service.Name)
		}
		g.serviceByName[service.Name] = service
		service.initIndexes()

		for _, cfg := range service.Keys {
			fs, err := ParseFieldSet(cfg.SelectionSet)
			if err != nil {
				return nil, errors.Wrapf(err, "service %q key on %q", service.Name, cfg.TypeName)
			}
			mapKey := service.Name + "|" + cfg.TypeName
			g.keys[mapKey] = append(g.keys[mapKey], KeyConfiguration{
				TypeName:              cfg.TypeName,
				FieldSet:              fs,
				DisableEntityResolver: cfg.DisableEntityResolver,
			})
		}
		for _, cfg := range service.Requires {
			fs, err := ParseFieldSet(cfg.SelectionSet)
			if err != nil {
				return nil, errors.Wrapf(err, "service %q requires on %s.%s", service.Name, cfg.TypeName, cfg.FieldName)
			}
			g.requires[service.Name+"|"+cfg.TypeName+"."+cfg.FieldName] = fs
		}
		for _, cfg := range service.Provides {
			fs, err := ParseFieldSet(cfg.SelectionSet)
			if err != nil {
				return nil, errors.Wrapf(err, "service %q provides on %s.%s", service.Name, cfg.TypeName, cfg.FieldName)
			}
			g.provides[service.Name+"|"+cfg.TypeName+"."+cfg.FieldName] = fs
		}
	}
	g.inheritInterfaceKeys()
	return g, nil
}

// inheritInterfaceKeys copies interface keys onto implementing entity types
// that declare none of their own. Inherited keys keep the shape valid but are
// never used to schedule a fetch.
func (g *Graph) inheritInterfaceKeys() {
	if g.schema == nil {
		return
	}
	for _, service := range g.services {
		for typeName, def := range g.schema.Types {
			if def.Kind != ast.Object {
				continue
			}
			if len(g.keys[service.Name+"|"+typeName]) != 0 {
				continue
			}
			for _, ifaceName := range def.Interfaces {
				inherited := g.keys[service.Name+"|"+ifaceName]
				for _, key := range inherited {
					g.keys[service.Name+"|"+typeName] = append(g.keys[service.Name+"|"+typeName], KeyConfiguration{
						TypeName:              typeName,
						FieldSet:              key.FieldSet,
						DisableEntityResolver: true,
					})
				}
			}
		}
	}
}

func (g *Graph) Schema() *ast.Schema {
	return g.schema
}

func (g *Graph) Services() []*ServiceConfiguration {
	return g.services
}

func (g *Graph) Service(name string) (*ServiceConfiguration, bool) {
	s, ok := g.serviceByName[name]
	return s, ok
}

// HasField reports whether the service declares the field, optionally counting
// external declarations.
func (g *Graph) HasField(serviceName, typeName, fieldName string, includeExternal bool) bool {
	service, ok := g.serviceByName[serviceName]
	if !ok {
		return false
	}
	if service.hasField(typeName, fieldName) {
		return true
	}
	return includeExternal && service.hasExternalField(typeName, fieldName)
}

func (g *Graph) IsExternal(serviceName, typeName, fieldName string) bool {
	service, ok := g.serviceByName[serviceName]
	if !ok {
		return false
	}
	return service.hasExternalField(typeName, fieldName)
}

// Owners returns the services that can actually resolve (type, field), in
// service declaration order. External declarations do not make a service an
// owner.
func (g *Graph) Owners(typeName, fieldName string) []string {
	var out []string
	for _, service := range g.services {
		if service.hasField(typeName, fieldName) {
			out = append(out, service.Name)
		}
	}
	return out
}

// Keys returns the declared keys of typeName in the given service, in
// declaration order. With skipUnresolvable set, keys that cannot start an
// entity fetch are filtered out.
func (g *Graph) Keys(serviceName, typeName string, skipUnresolvable bool) []KeyConfiguration {
	keys := g.keys[serviceName+"|"+typeName]
	if !skipUnresolvable {
		return keys
	}
	out := make([]KeyConfiguration, 0, len(keys))
	for _, key := range keys {
		if key.DisableEntityResolver {
			continue
		}
		out = append(out, key)
	}
	return out
}

func (g *Graph) Requires(serviceName, typeName, fieldName string) (FieldSet, bool) {
	fs, ok := g.requires[serviceName+"|"+typeName+"."+fieldName]
	return fs, ok
}

func (g *Graph) Provides(serviceName, typeName, fieldName string) (FieldSet, bool) {
	fs, ok := g.provides[serviceName+"|"+typeName+"."+fieldName]
	return fs, ok
}

// IsEntity reports whether any service declares a resolvable key for the type.
func (g *Graph) IsEntity(typeName string) bool {
	for _, service := range g.services {
		for _, key := range g.keys[service.Name+"|"+typeName] {
			if !key.DisableEntityResolver {
				return true
			}
		}
	}
	return false
}

func (g *Graph) IsAbstractType(typeName string) bool {
	def, ok := g.schema.Types[typeName]
	if !ok {
		return false
	}
	return def.Kind == ast.Interface || def.Kind == ast.Union
}

// PossibleTypeNames returns the concrete object types a value of typeName can
// have at runtime. For an object type that is the type itself.
func (g *Graph) PossibleTypeNames(typeName string) []string {
	def, ok := g.schema.Types[typeName]
	if !ok {
		return nil
	}
	if def.Kind == ast.Object {
		return []string{typeName}
	}
	possible := g.schema.PossibleTypes[typeName]
	out := make([]string, 0, len(possible))
	for _, p := range possible {
		out = append(out, p.Name)
	}
	return out
}

// IsSubtype reports whether concrete is parent itself or a runtime member of
// the abstract type parent. Used by executors for type-conditional descent.
func (g *Graph) IsSubtype(parent, concrete string) bool {
	if parent == concrete {
		return true
	}
	for _, p := range g.schema.PossibleTypes[parent] {
		if p.Name == concrete {
			return true
		}
	}
	return false
}

// IsInaccessible reports whether the field is hidden from the public schema.
// Planning ignores this flag: accessibility restricts the public surface, not
// cross-service data flow.
func (g *Graph) IsInaccessible(typeName, fieldName string) bool {
	for _, service := range g.services {
		if service.Inaccessible.HasNode(typeName, fieldName) {
			return true
		}
	}
	return false
}
