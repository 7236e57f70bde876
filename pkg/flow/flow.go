package flow

// SchemaVersion is the IR document version this package reads and writes.
const SchemaVersion = "v2"

// Flow is the intermediate representation of a conversational graph.
// It is pure data: nodes, edges, guards and policies. Behavior lives in
// the compiler and the runtime, which treat a Flow as immutable once
// compiled. Mutation goes through the modify service, which works on a
// deep clone and swaps the whole definition.
type Flow struct {
	ID            string         `json:"id" yaml:"id"`
	SchemaVersion string         `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	Entry         string         `json:"entry" yaml:"entry"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Nodes and Edges keep declaration order; the compiler relies on it
	// for deterministic tie-breaking.
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`

	Policies    *Policies                 `json:"policies,omitempty" yaml:"policies,omitempty"`
	Validations map[string]ValidationRule `json:"validations,omitempty" yaml:"validations,omitempty"`
	Context     map[string]any            `json:"context,omitempty" yaml:"context,omitempty"`
	Subflows    map[string]*Flow          `json:"subflows,omitempty" yaml:"subflows,omitempty"`
}

// Edge is a guarded, prioritized connection between two nodes.
// Priority evaluates ascending; ties resolve by declaration order.
// A nil Guard means the edge is unconditional (resolved to "always"
// at compile time).
type Edge struct {
	Source   string    `json:"source" yaml:"source"`
	Target   string    `json:"target" yaml:"target"`
	Priority int       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Guard    *GuardRef `json:"guard,omitempty" yaml:"guard,omitempty"`
	Label    string    `json:"label,omitempty" yaml:"label,omitempty"`

	// ConditionDescription is a natural-language hint shown to the LLM
	// when a decision is delegated. It is never evaluated.
	ConditionDescription string `json:"condition_description,omitempty" yaml:"condition_description,omitempty"`
}

// GuardRef names a registered predicate and its arguments.
// Description and Weight are LLM hints only; they never change the
// truth value of the guard.
type GuardRef struct {
	Fn          string         `json:"fn" yaml:"fn"`
	Args        map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Weight      float64        `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Policies groups the tunable behaviors of a flow.
type Policies struct {
	PathSelection *PathSelectionPolicy `json:"path_selection,omitempty" yaml:"path_selection,omitempty"`
	Conversation  *ConversationPolicy  `json:"conversation,omitempty" yaml:"conversation,omitempty"`
	Validation    *ValidationPolicy    `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// PathSelectionPolicy controls thematic path voting and locking.
type PathSelectionPolicy struct {
	// LockThreshold is the vote count at which the leading path becomes
	// locked. Zero means the default of 2.
	LockThreshold int `json:"lock_threshold,omitempty" yaml:"lock_threshold,omitempty"`

	// AllowSwitchBeforeLock lets later classification rounds change the
	// leading candidate while votes are still below the threshold.
	// Nil means true.
	AllowSwitchBeforeLock *bool `json:"allow_switch_before_lock,omitempty" yaml:"allow_switch_before_lock,omitempty"`

	// MinConfidence discards classification votes below this confidence.
	MinConfidence float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
}

// ConversationMode selects how Decision nodes route.
type ConversationMode string

const (
	// ModeStrict takes the first guard-true edge in priority order.
	ModeStrict ConversationMode = "strict"
	// ModeFlexible lets llm_assisted decisions delegate to the LLM,
	// falling back to strict routing. This is the default.
	ModeFlexible ConversationMode = "flexible"
)

// ConversationPolicy controls turn-level behavior.
type ConversationPolicy struct {
	Mode              ConversationMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	EscalateOnUnknown bool             `json:"escalate_on_unknown,omitempty" yaml:"escalate_on_unknown,omitempty"`
}

// ValidationPolicy controls answer validation at Question nodes.
type ValidationPolicy struct {
	// MaxAttempts is the flow-wide default for per-node max_attempts.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// ValidationRule is a named answer constraint referenced by a Question's
// validator field or applied by key through Flow.Validations.
type ValidationRule struct {
	Type          string   `json:"type,omitempty" yaml:"type,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	Message       string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// Mode returns the effective conversation mode.
func (f *Flow) Mode() ConversationMode {
	if f.Policies != nil && f.Policies.Conversation != nil && f.Policies.Conversation.Mode == ModeStrict {
		return ModeStrict
	}
	return ModeFlexible
}

// PathPolicy returns the effective path-selection policy with defaults
// applied.
func (f *Flow) PathPolicy() PathSelectionPolicy {
	p := PathSelectionPolicy{LockThreshold: 2}
	if f.Policies != nil && f.Policies.PathSelection != nil {
		in := f.Policies.PathSelection
		if in.LockThreshold > 0 {
			p.LockThreshold = in.LockThreshold
		}
		p.AllowSwitchBeforeLock = in.AllowSwitchBeforeLock
		p.MinConfidence = in.MinConfidence
	}
	return p
}

// SwitchBeforeLock reports whether pre-lock vote switching is allowed.
func (p PathSelectionPolicy) SwitchBeforeLock() bool {
	return p.AllowSwitchBeforeLock == nil || *p.AllowSwitchBeforeLock
}
