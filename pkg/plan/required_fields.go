package plan

import (
	"strings"

	"github.com/wundergraph/federationplan/pkg/graphmodel"
)

// RequiredField is one entry of a dependency closure: a field that must be
// resolved before the field the closure was computed for.
type RequiredField struct {
	// TypeName is the type the requirement is declared on; Path is the field
	// path relative to it.
	TypeName string
	Path     []string
	// Owners are the services that can produce the field, in service
	// declaration order. External declarations never make a service an owner.
	Owners []string
	// DirectRequires lists the paths on TypeName this field's own requires
	// declaration names. Producer groups for this field must run after those
	// paths are resolved.
	DirectRequires [][]string
}

func (f *RequiredField) pathKey() string {
	return f.TypeName + "." + strings.Join(f.Path, ".")
}

// DependencyClosure is the transitively expanded requirement set of one field.
type DependencyClosure struct {
	// Direct is the field's own requires selection, used as part of its
	// representation input.
	Direct graphmodel.FieldSet
	// Fields is the transitive closure, deduplicated: a requirement reached
	// via two paths appears once.
	Fields []*RequiredField

	index map[string]*RequiredField
}

func (c *DependencyClosure) Field(typeName string, path []string) (*RequiredField, bool) {
	f, ok := c.index[typeName+"."+strings.Join(path, ".")]
	return f, ok
}

// DependencyResolver expands requires declarations into dependency closures.
type DependencyResolver struct {
	graph *graphmodel.Graph
}

func NewDependencyResolver(graph *graphmodel.Graph) *DependencyResolver {
	return &DependencyResolver{graph: graph}
}

type requirementTask struct {
	serviceName string
	typeName    string
	fieldName   string
	// release pops the task's key from the active stack once its subtree is
	// fully expanded.
	release bool
	key     string
}

// ClosureFor returns the dependency closure of (typeName, fieldName) as
// declared by serviceName. Fields without a requires declaration yield an
// empty closure. The expansion runs on an explicit stack: a key reappearing
// while still active is a requirement cycle.
func (r *DependencyResolver) ClosureFor(serviceName, typeName, fieldName string) (*DependencyClosure, error) {
	closure := &DependencyClosure{index: make(map[string]*RequiredField)}

	direct, hasDirect := r.graph.Requires(serviceName, typeName, fieldName)
	if hasDirect {
		closure.Direct = direct
	}

	stack := []requirementTask{{serviceName: serviceName, typeName: typeName, fieldName: fieldName}}
	active := make(map[string]struct{})
	var activeOrder []string
	expanded := make(map[string]struct{})

	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if task.release {
			delete(active, task.key)
			activeOrder = activeOrder[:len(activeOrder)-1]
			continue
		}

		key := task.typeName + "." + task.fieldName
		if _, onStack := active[key]; onStack {
			return nil, &RequirementCycleError{
				TypeName:  typeName,
				FieldName: fieldName,
				Cycle:     append(append([]string{}, activeOrder...), key),
			}
		}
		if _, done := expanded[key]; done {
			continue
		}
		expanded[key] = struct{}{}

		fs, ok := r.graph.Requires(task.serviceName, task.typeName, task.fieldName)
		if !ok {
			continue
		}

		active[key] = struct{}{}
		activeOrder = append(activeOrder, key)
		stack = append(stack, requirementTask{release: true, key: key})

		paths := fs.Paths()
		if entry, exists := closure.index[key]; exists {
			entry.DirectRequires = append(entry.DirectRequires, paths...)
		}

		// collect entries in declaration order, push transitive tasks in
		// reverse so they pop in declaration order
		var transitive []requirementTask
		for _, path := range paths {
			enclosingType, leafField, err := r.walkPath(task.typeName, path, task.fieldName)
			if err != nil {
				return nil, err
			}

			entryKey := task.typeName + "." + strings.Join(path, ".")
			if _, exists := closure.index[entryKey]; !exists {
				owners := r.graph.Owners(enclosingType, leafField)
				if len(owners) == 0 {
					return nil, &UnreachableRequirementError{
						TypeName:      task.typeName,
						FieldName:     task.fieldName,
						RequiredField: strings.Join(path, "."),
					}
				}
				entry := &RequiredField{
					TypeName: task.typeName,
					Path:     path,
					Owners:   owners,
				}
				closure.index[entryKey] = entry
				closure.Fields = append(closure.Fields, entry)
			}

			for _, owner := range r.graph.Owners(enclosingType, leafField) {
				if _, hasRequires := r.graph.Requires(owner, enclosingType, leafField); hasRequires {
					transitive = append(transitive, requirementTask{
						serviceName: owner,
						typeName:    enclosingType,
						fieldName:   leafField,
					})
				}
			}
		}
		for i := len(transitive) - 1; i >= 0; i-- {
			stack = append(stack, transitive[i])
		}
	}

	return closure, nil
}

// walkPath resolves the enclosing type and field name of the last segment of a
// requirement path.
func (r *DependencyResolver) walkPath(typeName string, path []string, fieldName string) (string, string, error) {
	schema := r.graph.Schema()
	enclosing := typeName
	for i := 0; i < len(path)-1; i++ {
		def, ok := schema.Types[enclosing]
		if !ok {
			return "", "", internalErrorf("unknown type %q in requirement of %s.%s", enclosing, typeName, fieldName)
		}
		fieldDef := def.Fields.ForName(path[i])
		if fieldDef == nil {
			return "", "", &UnreachableRequirementError{
				TypeName:      typeName,
				FieldName:     fieldName,
				RequiredField: strings.Join(path, "."),
			}
		}
		enclosing = fieldDef.Type.Name()
	}
	return enclosing, path[len(path)-1], nil
}
