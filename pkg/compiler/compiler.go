// Package compiler turns a Flow IR document into a validated, indexed
// CompiledFlow.
//
// Compilation is pure and deterministic: the same document always
// yields a structurally identical result, and the input Flow is never
// mutated. All problems found are reported together so an editor can
// surface every error in one pass.
package compiler

import (
	"fmt"
	"sort"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/schema"
)

// CompiledFlow is the validated, index-built form of a Flow used by the
// runtime. EdgesFrom holds each node's outgoing edges sorted by
// (priority ascending, declaration order), with every nil guard
// resolved to "always". It is rebuilt whenever the IR changes and never
// mutated in place.
type CompiledFlow struct {
	ID        string                   `json:"id"`
	Entry     string                   `json:"entry"`
	Nodes     map[string]*flow.Node    `json:"nodes"`
	EdgesFrom map[string][]flow.Edge   `json:"edges_from"`
	Subflows  map[string]*CompiledFlow `json:"subflows,omitempty"`

	src *flow.Flow
}

// Definition returns the source flow the compilation was built from.
// Callers must treat it as read-only.
func (c *CompiledFlow) Definition() *flow.Flow { return c.src }

// Node returns the node with the given id, or nil.
func (c *CompiledFlow) Node(id string) *flow.Node { return c.Nodes[id] }

// Outgoing returns the sorted outgoing edges of a node.
func (c *CompiledFlow) Outgoing(id string) []flow.Edge { return c.EdgesFrom[id] }

// Compile validates and indexes a flow against the guard registry.
//
// The returned diagnostics include warnings (unreachable nodes,
// structural cycles) even on success; warnings never block
// compilation. On failure the error is an *Error carrying every fatal
// diagnostic found, not just the first.
func Compile(f *flow.Flow, reg *guard.Registry) (*CompiledFlow, []Diagnostic, error) {
	c := &checker{flow: f, reg: reg}
	compiled := c.run()
	if c.failed() {
		return nil, c.diags, &Error{Diagnostics: c.errors()}
	}
	return compiled, c.diags, nil
}

type checker struct {
	flow  *flow.Flow
	reg   *guard.Registry
	diags []Diagnostic
}

func (c *checker) errorf(code, nodeID, format string, args ...any) {
	c.diags = append(c.diags, Diagnostic{
		Severity: SeverityError,
		Code:     code,
		NodeID:   nodeID,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *checker) warnf(code, nodeID, format string, args ...any) {
	c.diags = append(c.diags, Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		NodeID:   nodeID,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *checker) failed() bool {
	for _, d := range c.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (c *checker) errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range c.diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

func (c *checker) run() *CompiledFlow {
	f := c.flow

	nodes := make(map[string]*flow.Node, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.ID == "" {
			c.errorf(CodeMissingID, "", "node at index %d has no id", i)
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			c.errorf(CodeDuplicateNode, n.ID, "duplicate node id %q", n.ID)
			continue
		}
		nodes[n.ID] = n
		c.checkNode(n)
	}

	if f.Entry == "" {
		c.errorf(CodeMissingEntry, "", "flow %q has no entry node", f.ID)
	} else if _, ok := nodes[f.Entry]; !ok {
		c.errorf(CodeMissingEntry, f.Entry, "entry node %q does not exist", f.Entry)
	}

	edgesFrom := make(map[string][]flow.Edge)
	for i, e := range f.Edges {
		if _, ok := nodes[e.Source]; !ok {
			c.errorf(CodeDanglingEdge, e.Source, "edge %d references unknown source node %q", i, e.Source)
			continue
		}
		if _, ok := nodes[e.Target]; !ok {
			c.errorf(CodeDanglingEdge, e.Target, "edge %d (%s -> %s) references unknown target node %q", i, e.Source, e.Target, e.Target)
			continue
		}
		resolved := e.Clone()
		if resolved.Guard == nil {
			// Edges are unconditional by default.
			resolved.Guard = &flow.GuardRef{Fn: guard.Always}
		} else if _, ok := c.reg.Resolve(resolved.Guard.Fn); !ok {
			c.errorf(CodeUnknownGuard, e.Source, "edge %d (%s -> %s) references unregistered guard %q", i, e.Source, e.Target, resolved.Guard.Fn)
			continue
		}
		edgesFrom[e.Source] = append(edgesFrom[e.Source], resolved)
	}

	// Sort by priority ascending; SliceStable preserves declaration
	// order for equal priorities.
	for id := range edgesFrom {
		edges := edgesFrom[id]
		sort.SliceStable(edges, func(a, b int) bool {
			return edges[a].Priority < edges[b].Priority
		})
		edgesFrom[id] = edges
	}

	for id, n := range nodes {
		if n.Kind == flow.KindDecision && n.DecisionType == flow.DecisionLLMAssisted && len(edgesFrom[id]) == 0 {
			c.errorf(CodeDecisionNoEdges, id, "llm_assisted decision node %q has no outgoing edges", id)
		}
	}

	c.checkReachability(nodes, edgesFrom)
	c.checkCycles(edgesFrom)

	compiled := &CompiledFlow{
		ID:        f.ID,
		Entry:     f.Entry,
		Nodes:     nodes,
		EdgesFrom: edgesFrom,
		src:       f,
	}

	if len(f.Subflows) > 0 {
		compiled.Subflows = make(map[string]*CompiledFlow, len(f.Subflows))
		for name, sub := range f.Subflows {
			subCompiled, subDiags, err := Compile(sub, c.reg)
			for _, d := range subDiags {
				d.NodeID = name + "." + d.NodeID
				c.diags = append(c.diags, d)
			}
			if err != nil {
				// Sub-diagnostics already merged above.
				continue
			}
			compiled.Subflows[name] = subCompiled
		}
	}
	return compiled
}

func (c *checker) checkNode(n *flow.Node) {
	if !n.Kind.Valid() {
		c.errorf(CodeUnknownKind, n.ID, "node %q has unknown kind %q", n.ID, n.Kind)
		return
	}
	switch n.Kind {
	case flow.KindQuestion:
		if n.Key == "" {
			c.errorf(CodeBadNode, n.ID, "question node %q has no answer key", n.ID)
		}
		if _, err := schema.ParseType(n.DataType); err != nil {
			c.errorf(CodeBadNode, n.ID, "question node %q: %v", n.ID, err)
		}
		if n.Validator != "" {
			rule, ok := c.flow.Validations[n.Validator]
			if !ok {
				c.errorf(CodeBadNode, n.ID, "question node %q references unknown validator %q", n.ID, n.Validator)
			} else if err := schema.CheckRule(rule); err != nil {
				c.errorf(CodeBadNode, n.ID, "validator %q: %v", n.Validator, err)
			}
		}
	case flow.KindAction:
		if n.ActionType == "" {
			c.errorf(CodeBadNode, n.ID, "action node %q has no action_type", n.ID)
		}
	case flow.KindSubflow:
		if n.FlowRef == "" {
			c.errorf(CodeBadNode, n.ID, "subflow node %q has no flow_ref", n.ID)
		} else if _, ok := c.flow.Subflows[n.FlowRef]; !ok {
			c.errorf(CodeBadNode, n.ID, "subflow node %q references unknown subflow %q", n.ID, n.FlowRef)
		}
	}
}
