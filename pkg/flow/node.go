package flow

// Kind tags the behavioral variant of a node. The runtime switches
// exhaustively over Kind; an unknown kind is a compile error, never a
// runtime surprise.
type Kind string

const (
	KindQuestion Kind = "question"
	KindDecision Kind = "decision"
	KindTerminal Kind = "terminal"
	KindAction   Kind = "action"
	KindSubflow  Kind = "subflow"
)

// DecisionType selects how a Decision node picks its outgoing edge.
type DecisionType string

const (
	DecisionAutomatic   DecisionType = "automatic"
	DecisionLLMAssisted DecisionType = "llm_assisted"
	DecisionUserChoice  DecisionType = "user_choice"
)

// Node is one unit of the conversational graph, polymorphic over Kind.
// Per-kind fields are flat and optional, matching the wire shape of the
// IR document; only the fields of the declared kind are meaningful.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        Kind           `json:"kind" yaml:"kind"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Skippable   bool           `json:"skippable,omitempty" yaml:"skippable,omitempty"`
	Revisitable bool           `json:"revisitable,omitempty" yaml:"revisitable,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Meta        map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`

	// Question fields. Key is the answer slot written on a valid answer.
	Key           string   `json:"key,omitempty" yaml:"key,omitempty"`
	Prompt        string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Validator     string   `json:"validator,omitempty" yaml:"validator,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	DataType      string   `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Required      bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Priority      int      `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Decision fields.
	DecisionType   DecisionType `json:"decision_type,omitempty" yaml:"decision_type,omitempty"`
	DecisionPrompt string       `json:"decision_prompt,omitempty" yaml:"decision_prompt,omitempty"`

	// Terminal fields.
	Reason          string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Success         bool   `json:"success,omitempty" yaml:"success,omitempty"`
	NextFlow        string `json:"next_flow,omitempty" yaml:"next_flow,omitempty"`
	HandoffRequired bool   `json:"handoff_required,omitempty" yaml:"handoff_required,omitempty"`

	// Action fields. OutputKeys name the answer slots written from the
	// handler result on success.
	ActionType   string         `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	ActionConfig map[string]any `json:"action_config,omitempty" yaml:"action_config,omitempty"`
	OutputKeys   []string       `json:"output_keys,omitempty" yaml:"output_keys,omitempty"`

	// Subflow fields. Mappings rename answer keys across the call
	// boundary (parent key -> child key on input, child -> parent on
	// output).
	FlowRef       string            `json:"flow_ref,omitempty" yaml:"flow_ref,omitempty"`
	InputMapping  map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	OutputMapping map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
}

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindQuestion, KindDecision, KindTerminal, KindAction, KindSubflow:
		return true
	}
	return false
}
