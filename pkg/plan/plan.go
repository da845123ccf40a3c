// Package plan turns a normalized operation and a graph model into an
// executable query plan: a tree of Fetch, Sequence, Parallel and Flatten nodes
// describing which services to call, in what order, with which inputs.
//
// Planning is a synchronous pure computation over immutable inputs; the
// returned plan encodes the concurrency contract for the executor.
package plan

import (
	"encoding/json"
)

type NodeKind string

const (
	NodeKindFetch    NodeKind = "Fetch"
	NodeKindSequence NodeKind = "Sequence"
	NodeKindParallel NodeKind = "Parallel"
	NodeKindFlatten  NodeKind = "Flatten"
)

// Node is one node of the plan tree.
type Node interface {
	NodeKind() NodeKind
}

// FetchNode is a single call to one service.
type FetchNode struct {
	// Service is the name of the service to call.
	Service string `json:"serviceName"`
	// Operation is the printed GraphQL document to send.
	Operation     string `json:"operation"`
	OperationKind string `json:"operationKind"`
	// Requires is the representation field set the executor must collect from
	// previous results and pass as the representations variable. Empty for
	// root fetches.
	Requires string `json:"requires,omitempty"`
	// VariableUsages lists the client operation variables the document uses.
	VariableUsages []string `json:"variableUsages,omitempty"`
	// OutputRewrites map aliases the planner introduced to avoid response
	// collisions back to the originally requested response keys.
	OutputRewrites []AliasRewrite `json:"outputRewrites,omitempty"`

	FetchID           int   `json:"id"`
	DependsOnFetchIDs []int `json:"dependsOn,omitempty"`
}

// AliasRewrite tells the executor to surface the value fetched under Alias as
// ResponseKey at the given path inside this fetch's result.
type AliasRewrite struct {
	Path        []string `json:"path"`
	Alias       string   `json:"alias"`
	ResponseKey string   `json:"responseKey"`
}

func (f *FetchNode) NodeKind() NodeKind {
	return NodeKindFetch
}

type SequenceNode struct {
	Nodes []Node `json:"nodes"`
}

func (s *SequenceNode) NodeKind() NodeKind {
	return NodeKindSequence
}

type ParallelNode struct {
	Nodes []Node `json:"nodes"`
}

func (p *ParallelNode) NodeKind() NodeKind {
	return NodeKindParallel
}

// FlattenNode re-enters execution at a response path, fanning out over array
// elements, before running its child.
type FlattenNode struct {
	Path Path `json:"path"`
	Node Node `json:"node"`
}

func (f *FlattenNode) NodeKind() NodeKind {
	return NodeKindFlatten
}

// Sequence wraps nodes in a SequenceNode, flattening nested sequences and
// unwrapping a single node.
func Sequence(nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	out := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		if seq, ok := node.(*SequenceNode); ok {
			out = append(out, seq.Nodes...)
			continue
		}
		out = append(out, node)
	}
	return &SequenceNode{Nodes: out}
}

// Parallel wraps nodes in a ParallelNode, flattening nested parallels and
// unwrapping a single node.
func Parallel(nodes ...Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	out := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		if par, ok := node.(*ParallelNode); ok {
			out = append(out, par.Nodes...)
			continue
		}
		out = append(out, node)
	}
	return &ParallelNode{Nodes: out}
}

// QueryPlan is the planner output handed to the executor.
type QueryPlan struct {
	Root Node
}

type taggedNode struct {
	Kind NodeKind `json:"kind"`
}

func marshalNode(node Node) (json.RawMessage, error) {
	if node == nil {
		return json.RawMessage("null"), nil
	}
	body, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(taggedNode{Kind: node.NodeKind()})
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return kind, nil
	}
	// splice the kind tag in front of the node body
	out := append(kind[:len(kind)-1], ',')
	out = append(out, body[1:]...)
	return out, nil
}

func (s *SequenceNode) MarshalJSON() ([]byte, error) {
	nodes := make([]json.RawMessage, 0, len(s.Nodes))
	for _, node := range s.Nodes {
		raw, err := marshalNode(node)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, raw)
	}
	return json.Marshal(struct {
		Nodes []json.RawMessage `json:"nodes"`
	}{Nodes: nodes})
}

func (p *ParallelNode) MarshalJSON() ([]byte, error) {
	nodes := make([]json.RawMessage, 0, len(p.Nodes))
	for _, node := range p.Nodes {
		raw, err := marshalNode(node)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, raw)
	}
	return json.Marshal(struct {
		Nodes []json.RawMessage `json:"nodes"`
	}{Nodes: nodes})
}

func (f *FlattenNode) MarshalJSON() ([]byte, error) {
	child, err := marshalNode(f.Node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Path Path            `json:"path"`
		Node json.RawMessage `json:"node"`
	}{Path: f.Path, Node: child})
}

func (q *QueryPlan) MarshalJSON() ([]byte, error) {
	root, err := marshalNode(q.Root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind string          `json:"kind"`
		Node json.RawMessage `json:"node"`
	}{Kind: "QueryPlan", Node: root})
}

// String renders the plan as deterministic indented JSON.
func (q *QueryPlan) String() string {
	out, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return "<invalid plan: " + err.Error() + ">"
	}
	return string(out)
}
