package runtime

// Event is the closed set of inputs a turn can carry. The host (or an
// upstream intent layer) maps raw user input onto one of these; the
// engine never parses transport payloads itself.
type Event interface {
	// Name returns the wire/log name of the event.
	Name() string
}

// Begin starts (or re-renders) a session: the engine advances from the
// current node and emits the first prompt without consuming input.
type Begin struct{}

func (Begin) Name() string { return "begin" }

// Answer carries the user's answer for the pending question (or the
// choice at a user_choice decision).
type Answer struct {
	Value any
}

func (Answer) Name() string { return "answer" }

// UnknownAnswer signals the user could not or would not answer. The
// question is skipped if skippable, otherwise the session escalates
// when the question is required or flags escalate_on_unknown.
type UnknownAnswer struct{}

func (UnknownAnswer) Name() string { return "unknown_answer" }

// SkipQuestion marks the current question answered-as-skipped and
// optionally jumps to another node.
type SkipQuestion struct {
	To string
}

func (SkipQuestion) Name() string { return "skip_question" }

// RevisitQuestion either navigates back to a question node (Target) or
// directly overwrites a previously recorded answer (Key/Value).
// Overwriting the selected path key renormalizes path state.
type RevisitQuestion struct {
	Target string
	Key    string
	Value  any
}

func (RevisitQuestion) Name() string { return "revisit_question" }

// PathCorrection reopens thematic path selection. It is distinct from
// RevisitQuestion: it resets path votes, clears the lock and re-enters
// voting at the node that cast them, optionally re-classifying Hint.
type PathCorrection struct {
	Hint string
}

func (PathCorrection) Name() string { return "path_correction" }

// RequestHumanHandoff escalates the session to a human operator.
type RequestHumanHandoff struct {
	Reason string
}

func (RequestHumanHandoff) Name() string { return "request_human_handoff" }

// ProvideInformation records an informational user utterance that is
// not an answer; the session stays put and the prompt is re-emitted.
type ProvideInformation struct {
	Text string
}

func (ProvideInformation) Name() string { return "provide_information" }

// ConfirmCompletion forces a terminal-equivalent result even when no
// structural Terminal transition is reachable.
type ConfirmCompletion struct{}

func (ConfirmCompletion) Name() string { return "confirm_completion" }

// NavigateFlow jumps unconditionally to a target node, bypassing
// guards. Used for explicit corrections.
type NavigateFlow struct {
	Target string
}

func (NavigateFlow) Name() string { return "navigate_flow" }

// UpdateAnswers merges a batch of answer overwrites into the session.
type UpdateAnswers struct {
	Answers map[string]any
}

func (UpdateAnswers) Name() string { return "update_answers" }
