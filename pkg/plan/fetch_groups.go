package plan

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/wundergraph/federationplan/pkg/graphmodel"
	"github.com/wundergraph/federationplan/pkg/operation"
)

// fetchGroup is the planning-time unit of one call to one service at one
// response path.
type fetchGroup struct {
	id         int
	service    string
	parentType string
	path       Path

	// isEntityFetch marks groups entered through an entity reference; their
	// operation is an _entities query and requiresFieldSet is the
	// representation input built from the key and any required fields.
	isEntityFetch    bool
	keyFieldSet      graphmodel.FieldSet
	requiresFieldSet graphmodel.FieldSet

	selection *selectionSet
	dependsOn []int
}

func (g *fetchGroup) addDependency(id int) {
	for _, existing := range g.dependsOn {
		if existing == id {
			return
		}
	}
	g.dependsOn = append(g.dependsOn, id)
}

// selectionSet is the group-local selection tree sent to the service.
type selectionSet struct {
	items []*selectionItem
}

// selectionItem is either a field (name set) or an inline fragment
// (typeCondition set).
type selectionItem struct {
	name          string
	alias         string
	arguments     ast.ArgumentList
	typeCondition string
	selections    *selectionSet
}

func (s *selectionItem) responseKey() string {
	if s.alias != "" && s.alias != s.name {
		return s.alias
	}
	return s.name
}

func argumentsEqual(a, b ast.ArgumentList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Value.String() != b[i].Value.String() {
			return false
		}
	}
	return true
}

// field returns the existing item matching name, alias and arguments, or
// appends a new one. Conflicting duplicates stay separate; the emitter
// disambiguates them with aliases.
func (s *selectionSet) field(name, alias string, arguments ast.ArgumentList) *selectionItem {
	for _, item := range s.items {
		if item.name == name && item.alias == alias && argumentsEqual(item.arguments, arguments) {
			return item
		}
	}
	item := &selectionItem{name: name, alias: alias, arguments: arguments, selections: &selectionSet{}}
	s.items = append(s.items, item)
	return item
}

func (s *selectionSet) fragment(typeCondition string) *selectionItem {
	for _, item := range s.items {
		if item.typeCondition == typeCondition {
			return item
		}
	}
	item := &selectionItem{typeCondition: typeCondition, selections: &selectionSet{}}
	s.items = append(s.items, item)
	return item
}

// addFieldSet injects plain fields into the selection, merging with fields
// already present.
func (s *selectionSet) addFieldSet(fs graphmodel.FieldSet) {
	for _, field := range fs {
		item := s.field(field.Name, "", nil)
		if len(field.Selections) != 0 {
			item.selections.addFieldSet(field.Selections)
		}
	}
}

func (s *selectionSet) hasField(name string) bool {
	for _, item := range s.items {
		if item.name == name {
			return true
		}
	}
	return false
}

type fetchGroupBuilder struct {
	graph    *graphmodel.Graph
	resolver *DependencyResolver
	op       *operation.Operation

	groups []*fetchGroup
	// resolved tracks which group produces which field path at which response
	// path, so requirements discovered later reuse earlier producers.
	resolved map[string]map[string]int
}

func newFetchGroupBuilder(graph *graphmodel.Graph, op *operation.Operation) *fetchGroupBuilder {
	return &fetchGroupBuilder{
		graph:    graph,
		resolver: NewDependencyResolver(graph),
		op:       op,
		resolved: make(map[string]map[string]int),
	}
}

func (b *fetchGroupBuilder) newGroup(service string, path Path, parentType string) *fetchGroup {
	group := &fetchGroup{
		id:         len(b.groups) + 1,
		service:    service,
		parentType: parentType,
		path:       path,
		selection:  &selectionSet{},
	}
	b.groups = append(b.groups, group)
	return group
}

func (b *fetchGroupBuilder) newEntityGroup(service string, path Path, parentType string, key graphmodel.KeyConfiguration) *fetchGroup {
	group := b.newGroup(service, path, parentType)
	group.isEntityFetch = true
	group.keyFieldSet = key.FieldSet
	group.requiresFieldSet = key.FieldSet.WithTypename()
	return group
}

func (b *fetchGroupBuilder) markResolved(path Path, fieldPath string, groupID int) {
	key := path.String()
	if b.resolved[key] == nil {
		b.resolved[key] = make(map[string]int)
	}
	if _, exists := b.resolved[key][fieldPath]; !exists {
		b.resolved[key][fieldPath] = groupID
	}
}

func (b *fetchGroupBuilder) resolvedAt(path Path, fieldPath string) (int, bool) {
	id, ok := b.resolved[path.String()][fieldPath]
	return id, ok
}

func depsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int{}, a...)
	bs := append([]int{}, b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// build partitions the operation into fetch groups and dependency edges.
func (b *fetchGroupBuilder) build() ([]*fetchGroup, error) {
	rootPath := Path{}
	serial := b.op.Type == ast.Mutation

	groupsByService := make(map[string]*fetchGroup)
	var lastRoot *fetchGroup

	for _, node := range b.op.Selections {
		if node.Name == "__typename" {
			// the root __typename is static; executors answer it without a fetch
			continue
		}
		owners := b.graph.Owners(b.op.RootTypeName, node.Name)
		if len(owners) == 0 {
			return nil, &UnreachableRequirementError{TypeName: b.op.RootTypeName, FieldName: node.Name}
		}
		service := owners[0]

		var group *fetchGroup
		if serial {
			// mutation root fields run in declaration order
			if lastRoot != nil && lastRoot.service == service {
				group = lastRoot
			} else {
				group = b.newGroup(service, rootPath, b.op.RootTypeName)
				if lastRoot != nil {
					group.addDependency(lastRoot.id)
				}
				lastRoot = group
			}
		} else {
			group = groupsByService[service]
			if group == nil {
				group = b.newGroup(service, rootPath, b.op.RootTypeName)
				groupsByService[service] = group
			}
		}

		if err := b.walkField(group, group.selection, node, rootPath, b.op.RootTypeName, nil); err != nil {
			return nil, err
		}
	}

	return b.groups, nil
}

// owningService decides which service resolves (parentType, fieldName) in the
// context of group g. Provided fields stay with the current service; shared
// fields prefer the current service, then declaration order.
func (b *fetchGroupBuilder) owningService(g *fetchGroup, parentType, fieldName string, path Path, provided graphmodel.FieldSet) (string, error) {
	if provided.HasField(fieldName) {
		return g.service, nil
	}
	owners := b.graph.Owners(parentType, fieldName)
	for _, owner := range owners {
		if owner == g.service {
			return g.service, nil
		}
	}
	if len(owners) != 0 {
		return owners[0], nil
	}

	if b.graph.IsAbstractType(parentType) {
		// the field is not declared on the abstract type itself: resolve it
		// per possible runtime type and require a unique answer
		chosen := make(map[string]struct{})
		var order []string
		for _, concrete := range b.graph.PossibleTypeNames(parentType) {
			concreteOwners := b.graph.Owners(concrete, fieldName)
			if len(concreteOwners) == 0 {
				return "", &UnreachableRequirementError{TypeName: concrete, FieldName: fieldName}
			}
			pick := concreteOwners[0]
			for _, owner := range concreteOwners {
				if owner == g.service {
					pick = owner
					break
				}
			}
			if _, seen := chosen[pick]; !seen {
				chosen[pick] = struct{}{}
				order = append(order, pick)
			}
		}
		if len(order) == 1 {
			return order[0], nil
		}
		sort.Strings(order)
		return "", &AmbiguousOwnershipError{
			TypeName:  parentType,
			FieldName: fieldName,
			Path:      path.String(),
			Services:  order,
		}
	}

	return "", &UnreachableRequirementError{TypeName: parentType, FieldName: fieldName}
}

// chooseKey picks the entity key used to re-enter parentType in service. The
// key whose fields are already resolved at path wins; otherwise the first
// declared key keeps planning deterministic.
func (b *fetchGroupBuilder) chooseKey(service, parentType string, path Path) (graphmodel.KeyConfiguration, error) {
	candidates := b.graph.Keys(service, parentType, true)
	if len(candidates) == 0 {
		return graphmodel.KeyConfiguration{}, &UnreachableRequirementError{
			TypeName:  parentType,
			FieldName: "",
		}
	}
	for _, candidate := range candidates {
		allResolved := true
		for _, fieldPath := range candidate.FieldSet.Paths() {
			if _, ok := b.resolvedAt(path, strings.Join(fieldPath, ".")); !ok {
				allResolved = false
				break
			}
		}
		if allResolved {
			return candidate, nil
		}
	}
	return candidates[0], nil
}

// walkField places one selection node into a group, opening dependent groups
// where a service boundary or an unmet requirement is crossed.
//
// g is the group that produces the object at path; sel is g's selection set at
// that path.
func (b *fetchGroupBuilder) walkField(g *fetchGroup, sel *selectionSet, node *operation.SelectionNode, path Path, parentType string, provided graphmodel.FieldSet) error {
	effectiveParent := parentType
	target := sel
	entryPath := path
	if node.TypeCondition != "" && node.TypeCondition != parentType {
		effectiveParent = node.TypeCondition
		target = sel.fragment(node.TypeCondition).selections
		entryPath = path.Append(FragmentElement(node.TypeCondition))
	}

	if node.Name == "__typename" {
		target.field(node.Name, node.Alias, nil)
		return nil
	}

	service, err := b.owningService(g, effectiveParent, node.Name, entryPath, provided)
	if err != nil {
		return err
	}

	var closure *DependencyClosure
	if _, hasRequires := b.graph.Requires(service, effectiveParent, node.Name); hasRequires {
		closure, err = b.resolver.ClosureFor(service, effectiveParent, node.Name)
		if err != nil {
			return err
		}
	}

	if service == g.service && b.closureSatisfiableInGroup(g, closure) {
		// same service, requirements in scope: extend the current group
		if closure != nil {
			target.addFieldSet(closure.Direct)
			for _, fieldPath := range closure.Direct.Paths() {
				b.markResolved(entryPath, strings.Join(fieldPath, "."), g.id)
			}
		}
		return b.appendAndRecurse(g, target, node, entryPath)
	}

	// service boundary or unmet requirement: the field moves into a dependent
	// group entered through an entity key
	if node.TypeCondition == "" && b.graph.IsAbstractType(effectiveParent) && len(b.graph.Keys(service, effectiveParent, true)) == 0 {
		// no key on the abstract type itself: re-enter per concrete type
		for _, concrete := range b.graph.PossibleTypeNames(effectiveParent) {
			narrowed := *node
			narrowed.TypeCondition = concrete
			if err := b.walkField(g, sel, &narrowed, path, parentType, provided); err != nil {
				return err
			}
		}
		return nil
	}

	key, err := b.chooseKey(service, effectiveParent, entryPath)
	if err != nil {
		unreachable := &UnreachableRequirementError{TypeName: effectiveParent, FieldName: node.Name}
		if closure != nil {
			unreachable.RequiredField = closure.Direct.String()
		}
		return unreachable
	}

	// the current group must produce the key for the dependent fetch
	target.addFieldSet(key.FieldSet.WithTypename())
	for _, fieldPath := range key.FieldSet.Paths() {
		b.markResolved(entryPath, strings.Join(fieldPath, "."), g.id)
	}

	depends := []int{g.id}
	if closure != nil {
		closureDepends, err := b.scheduleRequirementProducers(g, target, closure, entryPath, effectiveParent, key)
		if err != nil {
			return err
		}
		depends = append(depends, closureDepends...)
	}

	group := b.findReusableEntityGroup(service, entryPath, depends)
	if group == nil {
		group = b.newEntityGroup(service, entryPath, effectiveParent, key)
		group.dependsOn = depends
	}
	if closure != nil {
		group.requiresFieldSet = group.requiresFieldSet.Merge(closure.Direct).WithTypename()
	}

	return b.appendAndRecurse(group, group.selection, node, entryPath)
}

// closureSatisfiableInGroup reports whether g's own service can produce every
// requirement of the closure, so the field stays in the group.
func (b *fetchGroupBuilder) closureSatisfiableInGroup(g *fetchGroup, closure *DependencyClosure) bool {
	if closure == nil {
		return true
	}
	for _, rf := range closure.Fields {
		owned := false
		for _, owner := range rf.Owners {
			if owner == g.service {
				owned = true
				break
			}
		}
		if !owned {
			return false
		}
	}
	return true
}

// scheduleRequirementProducers ensures every closure field is produced before
// the consuming group runs, creating producer groups for fields the current
// group cannot fetch. Returns the group ids the consumer must wait for.
func (b *fetchGroupBuilder) scheduleRequirementProducers(g *fetchGroup, parentSelection *selectionSet, closure *DependencyClosure, path Path, parentType string, key graphmodel.KeyConfiguration) ([]int, error) {
	var depends []int
	addDep := func(id int) {
		for _, existing := range depends {
			if existing == id {
				return
			}
		}
		depends = append(depends, id)
	}

	pending := make([]*RequiredField, 0, len(closure.Fields))
	pending = append(pending, closure.Fields...)

	for len(pending) > 0 {
		progressed := false
		var remaining []*RequiredField

		for _, rf := range pending {
			dotted := strings.Join(rf.Path, ".")

			if producer, ok := b.resolvedAt(path, dotted); ok {
				if producer != g.id {
					addDep(producer)
				}
				progressed = true
				continue
			}

			ownedByCurrent := false
			for _, owner := range rf.Owners {
				if owner == g.service {
					ownedByCurrent = true
					break
				}
			}
			if ownedByCurrent {
				parentSelection.addFieldSet(pathFieldSet(rf.Path))
				b.markResolved(path, dotted, g.id)
				progressed = true
				continue
			}

			// the producer's own requirements must be resolved first
			ready := true
			var producerDeps []int
			for _, directPath := range rf.DirectRequires {
				id, ok := b.resolvedAt(path, strings.Join(directPath, "."))
				if !ok {
					ready = false
					break
				}
				producerDeps = append(producerDeps, id)
			}
			if !ready {
				remaining = append(remaining, rf)
				continue
			}

			producer := b.newEntityGroup(rf.Owners[0], path, parentType, key)
			producer.addDependency(g.id)
			for _, id := range producerDeps {
				if id != producer.id {
					producer.addDependency(id)
				}
			}
			for _, directPath := range rf.DirectRequires {
				producer.requiresFieldSet = producer.requiresFieldSet.Merge(pathFieldSet(directPath)).WithTypename()
			}
			producer.selection.addFieldSet(pathFieldSet(rf.Path))
			b.markResolved(path, dotted, producer.id)
			addDep(producer.id)
			progressed = true
		}

		if !progressed {
			unresolved := make([]string, 0, len(remaining))
			for _, rf := range remaining {
				unresolved = append(unresolved, rf.pathKey())
			}
			return nil, internalErrorf("requirement producers cannot be ordered: %s", strings.Join(unresolved, ", "))
		}
		pending = remaining
	}

	return depends, nil
}

// pathFieldSet turns a dotted requirement path into a nested field set.
func pathFieldSet(path []string) graphmodel.FieldSet {
	if len(path) == 0 {
		return nil
	}
	fs := graphmodel.FieldSet{{Name: path[len(path)-1]}}
	for i := len(path) - 2; i >= 0; i-- {
		fs = graphmodel.FieldSet{{Name: path[i], Selections: fs}}
	}
	return fs
}

func (b *fetchGroupBuilder) findReusableEntityGroup(service string, path Path, depends []int) *fetchGroup {
	pathKey := path.String()
	for _, group := range b.groups {
		if group.isEntityFetch && group.service == service && group.path.String() == pathKey && depsEqual(group.dependsOn, depends) {
			return group
		}
	}
	return nil
}

// appendAndRecurse adds the field to the group selection and walks its
// children with the group as the new producer context.
func (b *fetchGroupBuilder) appendAndRecurse(g *fetchGroup, target *selectionSet, node *operation.SelectionNode, path Path) error {
	item := target.field(node.Name, node.Alias, node.Arguments)
	if node.Alias == "" || node.Alias == node.Name {
		b.markResolved(path, node.Name, g.id)
	}
	if len(node.Children) == 0 {
		return nil
	}

	childPath := path.Append(KeyElement(node.ResponseKey()))
	for i := 0; i < node.ListDepth; i++ {
		childPath = childPath.Append(FlattenElement())
	}

	if b.graph.IsAbstractType(node.TypeName) {
		// abstract results always carry __typename so executors can narrow
		item.selections.field("__typename", "", nil)
	}

	childProvided, _ := b.graph.Provides(g.service, node.EffectiveParentTypeName(), node.Name)

	for _, child := range node.Children {
		if err := b.walkField(g, item.selections, child, childPath, node.TypeName, childProvided); err != nil {
			return err
		}
	}
	return nil
}
