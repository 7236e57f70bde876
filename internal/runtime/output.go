package runtime

// Output is what a turn produced: the next thing to say, choices to
// offer, or the completion record. Exactly one turn yields exactly one
// Output.
type Output struct {
	// NodeID is where the session now stands.
	NodeID string `json:"node_id"`

	// Prompt is the text to present to the user, if any.
	Prompt string `json:"prompt,omitempty"`

	// Choices are offered at user_choice decisions.
	Choices []string `json:"choices,omitempty"`

	// ValidationMessage explains a rejected answer; the prompt is
	// re-emitted alongside it.
	ValidationMessage string `json:"validation_message,omitempty"`

	// Completed is set when a terminal (structural or forced) was
	// reached. Reason, Success, NextFlow and Answers describe it.
	Completed bool           `json:"completed,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Success   bool           `json:"success,omitempty"`
	NextFlow  string         `json:"next_flow,omitempty"`
	Answers   map[string]any `json:"answers,omitempty"`

	// Handoff is set when the session escalated to a human.
	Handoff bool `json:"handoff,omitempty"`

	// ActionError reports a failed (retryable) action handler.
	ActionError string `json:"action_error,omitempty"`
}
