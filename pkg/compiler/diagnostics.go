package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/palaverhq/palaver/pkg/flow"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes.
const (
	CodeMissingEntry    = "missing_entry"
	CodeMissingID       = "missing_id"
	CodeDuplicateNode   = "duplicate_node"
	CodeDanglingEdge    = "dangling_edge"
	CodeUnknownGuard    = "unknown_guard"
	CodeUnknownKind     = "unknown_kind"
	CodeBadNode         = "bad_node"
	CodeDecisionNoEdges = "decision_no_edges"
	CodeUnreachable     = "unreachable_node"
	CodeCycle           = "cycle_detected"
)

// Diagnostic is one finding from compilation, naming the offending
// node, edge or guard.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
}

// Error aggregates every fatal diagnostic of a failed compilation.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	if len(e.Diagnostics) == 1 {
		return "compile failed: " + e.Diagnostics[0].Message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "compile failed with %d errors:", len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		b.WriteString("\n  - ")
		b.WriteString(d.Message)
	}
	return b.String()
}

// checkReachability walks forward from the entry node and reports every
// node the walk never touches. Unreachable nodes are legal (they may be
// wired up in a later edit) so this is a warning.
func (c *checker) checkReachability(nodes map[string]*flow.Node, edgesFrom map[string][]flow.Edge) {
	if _, ok := nodes[c.flow.Entry]; !ok {
		return
	}
	visited := map[string]bool{c.flow.Entry: true}
	queue := []string{c.flow.Entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range edgesFrom[current] {
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	var unreachable []string
	for id := range nodes {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		c.warnf(CodeUnreachable, id, "node %q is not reachable from entry %q", id, c.flow.Entry)
	}
}

// checkCycles reports structural cycles. Revisit/backward edges are
// legitimate flow design, so cycles are informational and never block
// compilation.
func (c *checker) checkCycles(edgesFrom map[string][]flow.Edge) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)

	var ids []string
	for id := range edgesFrom {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var stack []string
	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		stack = append(stack, id)
		for _, e := range edgesFrom[id] {
			switch state[e.Target] {
			case unvisited:
				visit(e.Target)
			case inStack:
				// Report the cycle from the first occurrence of the
				// target on the stack.
				start := 0
				for i, s := range stack {
					if s == e.Target {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), e.Target)
				c.warnf(CodeCycle, e.Target, "cycle detected: %s", strings.Join(cycle, " -> "))
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
}
