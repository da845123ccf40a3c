package plan

import (
	"sort"
	"strings"
)

// scheduledNode is the intermediate shape between the group DAG and the plan
// tree. Exactly one of group, sequence or parallel is set.
type scheduledNode struct {
	group    *fetchGroup
	sequence []*scheduledNode
	parallel []*scheduledNode
}

type groupScheduler struct {
	groups          []*fetchGroup
	disableParallel bool
}

func newGroupScheduler(groups []*fetchGroup, disableParallel bool) *groupScheduler {
	return &groupScheduler{groups: groups, disableParallel: disableParallel}
}

// schedule merges equivalent groups and orders the rest into a tree of
// sequential stages and parallel chains.
func (s *groupScheduler) schedule() (*scheduledNode, error) {
	groups, err := s.mergeGroups()
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return s.stage(groups)
}

// mergeGroups collapses groups targeting the same service at the same path
// with identical dependencies into one fetch, then remaps dependency edges.
func (s *groupScheduler) mergeGroups() ([]*fetchGroup, error) {
	remap := make(map[int]int, len(s.groups))
	var merged []*fetchGroup

	for _, group := range s.groups {
		var host *fetchGroup
		for _, candidate := range merged {
			if candidate.service != group.service || candidate.path.String() != group.path.String() {
				continue
			}
			if candidate.isEntityFetch != group.isEntityFetch {
				continue
			}
			if !depsEqual(remapDeps(candidate.dependsOn, remap), remapDeps(group.dependsOn, remap)) {
				continue
			}
			host = candidate
			break
		}
		if host == nil {
			remap[group.id] = group.id
			merged = append(merged, group)
			continue
		}
		mergeSelections(host.selection, group.selection)
		host.requiresFieldSet = host.requiresFieldSet.Merge(group.requiresFieldSet)
		remap[group.id] = host.id
	}

	for _, group := range merged {
		deps := remapDeps(group.dependsOn, remap)
		group.dependsOn = group.dependsOn[:0]
		for _, dep := range deps {
			if dep != group.id {
				group.addDependency(dep)
			}
		}
	}
	return merged, nil
}

func remapDeps(deps []int, remap map[int]int) []int {
	out := make([]int, 0, len(deps))
	for _, dep := range deps {
		mapped, ok := remap[dep]
		if !ok {
			mapped = dep
		}
		seen := false
		for _, existing := range out {
			if existing == mapped {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, mapped)
		}
	}
	return out
}

func mergeSelections(dst, src *selectionSet) {
	for _, item := range src.items {
		if item.typeCondition != "" {
			mergeSelections(dst.fragment(item.typeCondition).selections, item.selections)
			continue
		}
		mergeSelections(dst.field(item.name, item.alias, item.arguments).selections, item.selections)
	}
}

// stage runs a Kahn-style pass over the group DAG. Each stage emits every
// group whose dependencies completed before the stage began; within a stage a
// group may pull in a chain of successors that depend on nothing outside the
// emitted set plus the chain itself, so a linear A then B then C plan stays a
// flat sequence instead of nesting.
func (s *groupScheduler) stage(groups []*fetchGroup) (*scheduledNode, error) {
	byID := make(map[int]*fetchGroup, len(groups))
	for _, group := range groups {
		byID[group.id] = group
	}

	emitted := make(map[int]bool, len(groups))
	var stages []*scheduledNode

	for len(emitted) < len(groups) {
		ready := s.readyGroups(groups, emitted, emitted)
		if len(ready) == 0 {
			var stuck []string
			for _, group := range groups {
				if !emitted[group.id] {
					stuck = append(stuck, group.service)
				}
			}
			sort.Strings(stuck)
			return nil, internalErrorf("fetch dependency cycle among services: %s", strings.Join(stuck, ", "))
		}

		emittedAtStart := make(map[int]bool, len(emitted))
		for id := range emitted {
			emittedAtStart[id] = true
		}

		var chains []*scheduledNode
		for _, head := range ready {
			if emitted[head.id] {
				continue
			}
			chain := s.growChain(groups, head, emittedAtStart, emitted)
			chains = append(chains, chain)
		}

		if len(chains) == 1 {
			stages = append(stages, chains[0])
		} else if s.disableParallel {
			stages = append(stages, chains...)
		} else {
			stages = append(stages, &scheduledNode{parallel: chains})
		}
	}

	if len(stages) == 1 {
		return stages[0], nil
	}
	return &scheduledNode{sequence: stages}, nil
}

// readyGroups returns unemitted groups whose dependencies are all in done,
// in id order.
func (s *groupScheduler) readyGroups(groups []*fetchGroup, done, emitted map[int]bool) []*fetchGroup {
	var ready []*fetchGroup
	for _, group := range groups {
		if emitted[group.id] {
			continue
		}
		ok := true
		for _, dep := range group.dependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, group)
		}
	}
	return ready
}

// growChain emits head and keeps extending with the single successor whose
// dependencies are covered by the pre-stage emitted set plus the chain. A
// fork or a join stops the chain so the next stage handles it.
func (s *groupScheduler) growChain(groups []*fetchGroup, head *fetchGroup, emittedAtStart, emitted map[int]bool) *scheduledNode {
	chain := []*fetchGroup{head}
	emitted[head.id] = true
	inChain := map[int]bool{head.id: true}

	for {
		var next *fetchGroup
		for _, candidate := range groups {
			if emitted[candidate.id] {
				continue
			}
			dependsOnChain := false
			covered := true
			for _, dep := range candidate.dependsOn {
				if inChain[dep] {
					dependsOnChain = true
					continue
				}
				if !emittedAtStart[dep] {
					covered = false
					break
				}
			}
			if !dependsOnChain || !covered {
				continue
			}
			if next != nil {
				// two successors fork off the chain; let the stage loop
				// schedule them side by side
				next = nil
				break
			}
			next = candidate
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		emitted[next.id] = true
		inChain[next.id] = true
	}

	if len(chain) == 1 {
		return &scheduledNode{group: chain[0]}
	}
	nodes := make([]*scheduledNode, 0, len(chain))
	for _, group := range chain {
		nodes = append(nodes, &scheduledNode{group: group})
	}
	return &scheduledNode{sequence: nodes}
}
