package flow

import "time"

// Status describes where a conversation stands.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
)

// FlowContext is the per-session conversation state. It is owned by
// exactly one session: created on first turn, mutated every turn by the
// engine (always on a clone, never in place), and persisted by the
// state store between turns. It carries no references into the compiled
// flow so it serializes cleanly.
type FlowContext struct {
	FlowID        string         `json:"flow_id,omitempty"`
	CurrentNodeID string         `json:"current_node_id"`
	Status        Status         `json:"status"`
	Answers       map[string]any `json:"answers"`

	// PendingField is the answer key the current Question is waiting on,
	// or empty.
	PendingField string `json:"pending_field,omitempty"`

	History    []TurnRecord          `json:"history,omitempty"`
	NodeStates map[string]*NodeState `json:"node_states,omitempty"`

	// Path selection state. Votes accumulate per candidate path key until
	// one reaches the policy threshold and becomes the locked ActivePath.
	PathVotes      map[string]int `json:"path_votes,omitempty"`
	ActivePath     string         `json:"active_path,omitempty"`
	PathLocked     bool           `json:"path_locked,omitempty"`
	PathConfidence float64        `json:"path_confidence,omitempty"`

	// PathNodeID is the decision node where path voting happens; an
	// explicit correction re-enters voting there.
	PathNodeID string `json:"path_node_id,omitempty"`

	// Frames is the stack of suspended parent flows during subflow
	// execution, innermost last.
	Frames []*SubflowFrame `json:"frames,omitempty"`
}

// SkippedValue is the marker recorded under a question's key when the
// user skips it, so that next-unanswered selection moves past the node.
const SkippedValue = "__skipped__"

// SelectedPathKey is the reserved answer key that mirrors the locked
// conversation path. Writing it renormalizes path state.
const SelectedPathKey = "selected_path"

// NodeState tracks visit and attempt counters for a single node.
type NodeState struct {
	Visits   int  `json:"visits,omitempty"`
	Attempts int  `json:"attempts,omitempty"`
	Skipped  bool `json:"skipped,omitempty"`
}

// TurnRecord is one entry of the ordered turn log.
type TurnRecord struct {
	At     time.Time `json:"at"`
	NodeID string    `json:"node_id"`
	Event  string    `json:"event"`
	Input  string    `json:"input,omitempty"`
	Target string    `json:"target,omitempty"`
}

// SubflowFrame snapshots a parent execution while a child flow runs.
type SubflowFrame struct {
	// FlowRef is the subflow name being executed.
	FlowRef string `json:"flow_ref"`
	// CallNodeID is the Subflow node in the parent to resume from.
	CallNodeID string `json:"call_node_id"`
	// ParentAnswers holds the parent's answer map while the child runs
	// against a remapped copy.
	ParentAnswers map[string]any `json:"parent_answers"`
}

// NewContext creates a fresh session state positioned at the entry node.
func NewContext(flowID, entry string) *FlowContext {
	return &FlowContext{
		FlowID:        flowID,
		CurrentNodeID: entry,
		Status:        StatusActive,
		Answers:       make(map[string]any),
		NodeStates:    make(map[string]*NodeState),
		PathVotes:     make(map[string]int),
	}
}

// State returns the node state for id, creating it if needed.
func (c *FlowContext) State(id string) *NodeState {
	if c.NodeStates == nil {
		c.NodeStates = make(map[string]*NodeState)
	}
	ns, ok := c.NodeStates[id]
	if !ok {
		ns = &NodeState{}
		c.NodeStates[id] = ns
	}
	return ns
}

// HasAnswer reports whether key holds a present, non-empty answer.
func (c *FlowContext) HasAnswer(key string) bool {
	v, ok := c.Answers[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// Record appends a turn log entry.
func (c *FlowContext) Record(nodeID, event, input, target string) {
	c.History = append(c.History, TurnRecord{
		At:     time.Now().UTC(),
		NodeID: nodeID,
		Event:  event,
		Input:  input,
		Target: target,
	})
}

// Clone returns a deep copy safe for independent mutation.
func (c *FlowContext) Clone() *FlowContext {
	if c == nil {
		return nil
	}
	next := *c
	next.Answers = cloneAnyMap(c.Answers)
	next.PathVotes = make(map[string]int, len(c.PathVotes))
	for k, v := range c.PathVotes {
		next.PathVotes[k] = v
	}
	next.NodeStates = make(map[string]*NodeState, len(c.NodeStates))
	for k, v := range c.NodeStates {
		ns := *v
		next.NodeStates[k] = &ns
	}
	next.History = append([]TurnRecord(nil), c.History...)
	next.Frames = make([]*SubflowFrame, 0, len(c.Frames))
	for _, f := range c.Frames {
		frame := *f
		frame.ParentAnswers = cloneAnyMap(f.ParentAnswers)
		next.Frames = append(next.Frames, &frame)
	}
	return &next
}
