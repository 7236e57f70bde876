// Package modify applies ordered batches of graph-edit primitives to a
// flow definition, all-or-nothing. Edits run against a deep working
// copy, the result is re-validated by the compiler, and only then is a
// new version committed through the repository. The live definition is
// never touched in place.
package modify

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/palaverhq/palaver/pkg/flow"
)

// Action is one edit primitive. Params is the loosely-typed payload the
// wire (HTTP or MCP) delivers; each action type decodes the shape it
// expects.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Supported action types.
const (
	ActionAddNode       = "add_node"
	ActionUpdateNode    = "update_node"
	ActionDeleteNode    = "delete_node"
	ActionAddEdge       = "add_edge"
	ActionDeleteEdge    = "delete_edge"
	ActionSetEntireFlow = "set_entire_flow"
)

// BatchError identifies the action that sank a batch. Index is 0-based;
// CompileIndex marks a post-batch compile failure instead of a single
// action.
type BatchError struct {
	Index  int
	Type   string
	Reason string
}

// CompileIndex is the Index of a BatchError raised by re-validation
// after every action already applied.
const CompileIndex = -1

func (e *BatchError) Error() string {
	if e.Index == CompileIndex {
		return fmt.Sprintf("batch rejected: recompile failed: %s", e.Reason)
	}
	return fmt.Sprintf("batch rejected at action %d (%s): %s", e.Index, e.Type, e.Reason)
}

// apply dispatches one action against the working copy. set_entire_flow
// swaps the copy wholesale, so the possibly-new pointer is returned.
func apply(work *flow.Flow, a Action) (*flow.Flow, error) {
	switch a.Type {
	case ActionAddNode:
		return work, addNode(work, a.Params)
	case ActionUpdateNode:
		return work, updateNode(work, a.Params)
	case ActionDeleteNode:
		return work, deleteNode(work, a.Params)
	case ActionAddEdge:
		return work, addEdge(work, a.Params)
	case ActionDeleteEdge:
		return work, deleteEdge(work, a.Params)
	case ActionSetEntireFlow:
		return setEntireFlow(work, a.Params)
	default:
		return work, fmt.Errorf("unknown action type %q", a.Type)
	}
}

func addNode(work *flow.Flow, params map[string]any) error {
	var n flow.Node
	if err := decode(params, &n); err != nil {
		return err
	}
	if n.ID == "" {
		return errors.New("add_node: node id is required")
	}
	if work.Node(n.ID) != nil {
		return fmt.Errorf("add_node: node %q already exists", n.ID)
	}
	work.Nodes = append(work.Nodes, n)
	return nil
}

// updateNode merges the "set" fields onto an existing node. Only keys
// present in the payload change; the id itself is immutable.
func updateNode(work *flow.Flow, params map[string]any) error {
	var req struct {
		ID  string         `json:"id"`
		Set map[string]any `json:"set"`
	}
	if err := decode(params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return errors.New("update_node: id is required")
	}
	node := work.Node(req.ID)
	if node == nil {
		return fmt.Errorf("update_node: node %q not found", req.ID)
	}
	if len(req.Set) == 0 {
		return errors.New("update_node: set is empty")
	}
	if newID, ok := req.Set["id"]; ok && newID != req.ID {
		return errors.New("update_node: id cannot be changed")
	}

	updated := node.Clone()
	if err := decode(req.Set, &updated); err != nil {
		return err
	}
	*node = updated
	return nil
}

func deleteNode(work *flow.Flow, params map[string]any) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return errors.New("delete_node: id is required")
	}
	if work.Node(req.ID) == nil {
		return fmt.Errorf("delete_node: node %q not found", req.ID)
	}

	nodes := work.Nodes[:0]
	for _, n := range work.Nodes {
		if n.ID != req.ID {
			nodes = append(nodes, n)
		}
	}
	work.Nodes = nodes

	// Cascade: every edge touching the node goes with it.
	edges := work.Edges[:0]
	for _, e := range work.Edges {
		if e.Source != req.ID && e.Target != req.ID {
			edges = append(edges, e)
		}
	}
	work.Edges = edges
	return nil
}

func addEdge(work *flow.Flow, params map[string]any) error {
	var e flow.Edge
	if err := decode(params, &e); err != nil {
		return err
	}
	if e.Source == "" || e.Target == "" {
		return errors.New("add_edge: source and target are required")
	}
	if work.Node(e.Source) == nil {
		return fmt.Errorf("add_edge: source node %q not found", e.Source)
	}
	if work.Node(e.Target) == nil {
		return fmt.Errorf("add_edge: target node %q not found", e.Target)
	}
	work.Edges = append(work.Edges, e)
	return nil
}

// deleteEdge removes the first edge matching source and target, and
// label when one is given.
func deleteEdge(work *flow.Flow, params map[string]any) error {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Label  string `json:"label"`
	}
	if err := decode(params, &req); err != nil {
		return err
	}
	if req.Source == "" || req.Target == "" {
		return errors.New("delete_edge: source and target are required")
	}
	for i, e := range work.Edges {
		if e.Source != req.Source || e.Target != req.Target {
			continue
		}
		if req.Label != "" && e.Label != req.Label {
			continue
		}
		work.Edges = append(work.Edges[:i], work.Edges[i+1:]...)
		return nil
	}
	return fmt.Errorf("delete_edge: no edge %s -> %s", req.Source, req.Target)
}

func setEntireFlow(work *flow.Flow, params map[string]any) (*flow.Flow, error) {
	next := &flow.Flow{}
	if err := decode(params, next); err != nil {
		return work, err
	}
	if len(next.Nodes) == 0 {
		return work, errors.New("set_entire_flow: definition has no nodes")
	}
	// The replacement keeps the identity of the flow being edited.
	next.ID = work.ID
	if next.SchemaVersion == "" {
		next.SchemaVersion = flow.SchemaVersion
	}
	return next, nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
