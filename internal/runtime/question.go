package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/schema"
)

const defaultMaxAttempts = 3

// handleAnswer records the user's answer to the pending question, or
// resolves a user_choice decision.
func (t *turn) handleAnswer(ctx context.Context, ev Answer) (*Output, error) {
	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	node := acf.Node(t.fc.CurrentNodeID)
	if node == nil {
		return nil, fmt.Errorf("internal: current node %q not in compiled flow %q", t.fc.CurrentNodeID, acf.ID)
	}

	if node.Kind == flow.KindDecision && node.DecisionType == flow.DecisionUserChoice {
		return t.resolveChoice(ctx, acf, node, ev)
	}
	if node.Kind != flow.KindQuestion {
		return nil, fmt.Errorf("answer event at %s node %q (no question pending)", node.Kind, node.ID)
	}

	t.fc.Record(node.ID, ev.Name(), fmt.Sprint(ev.Value), "")

	value, vmsg := t.resolveAnswer(ctx, acf, node, ev.Value)
	if vmsg != "" {
		return t.rejectAnswer(ctx, acf, node, vmsg)
	}

	t.fc.Answers[node.Key] = value
	t.fc.PendingField = ""
	t.fc.State(node.ID).Attempts = 0
	if node.Key == flow.SelectedPathKey {
		t.renormalizePath(fmt.Sprint(value))
	}
	return t.advance(ctx)
}

// resolveAnswer normalizes and validates a raw answer. It returns the
// value to record, or a non-empty validation message on rejection.
func (t *turn) resolveAnswer(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node, raw any) (any, string) {
	rules := acf.Definition().Validations
	value := canonicalize(node, raw)
	if err := schema.ValidateAnswer(node, rules, value); err == nil {
		return value, ""
	}

	// The literal text failed. Let the LLM pull a usable value out of
	// free-form phrasing before rejecting.
	if s, ok := raw.(string); ok && t.e.llm != nil {
		ext, err := t.e.extract(ctx, node, s)
		if err == nil && !ext.Unknown {
			extracted := canonicalize(node, ext.Value)
			if err := schema.ValidateAnswer(node, rules, extracted); err == nil {
				return extracted, ""
			}
		}
	}

	err := schema.ValidateAnswer(node, rules, value)
	return nil, err.Error()
}

// canonicalize maps free-form string input onto a declared allowed
// value when one clearly matches. Non-strings pass through.
func canonicalize(node *flow.Node, raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	s = strings.TrimSpace(s)
	if len(node.AllowedValues) == 0 {
		return s
	}
	for _, allowed := range node.AllowedValues {
		if strings.EqualFold(s, allowed) {
			return allowed
		}
	}
	if c := guard.ResolveCandidate(s, node.AllowedValues); c != "" {
		return c
	}
	return s
}

// rejectAnswer counts a failed attempt and either re-asks, skips, or
// escalates once the node's attempt budget is spent.
func (t *turn) rejectAnswer(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node, vmsg string) (*Output, error) {
	ns := t.fc.State(node.ID)
	ns.Attempts++
	if ns.Attempts < t.maxAttempts(acf, node) {
		return &Output{NodeID: node.ID, Prompt: node.Prompt, ValidationMessage: vmsg}, nil
	}

	ns.Attempts = 0
	if node.Skippable && !node.Required {
		t.markSkipped(node)
		return t.advance(ctx)
	}
	return t.handleHandoff(fmt.Sprintf("validation failed %d times at %q", t.maxAttempts(acf, node), node.ID))
}

func (t *turn) maxAttempts(acf *compiler.CompiledFlow, node *flow.Node) int {
	if node.MaxAttempts > 0 {
		return node.MaxAttempts
	}
	def := acf.Definition()
	if def.Policies != nil && def.Policies.Validation != nil && def.Policies.Validation.MaxAttempts > 0 {
		return def.Policies.Validation.MaxAttempts
	}
	return defaultMaxAttempts
}

// handleUnknown reacts to "I don't know": skip when allowed, escalate
// when the flow demands it, otherwise re-ask.
func (t *turn) handleUnknown(ctx context.Context) (*Output, error) {
	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	node := acf.Node(t.fc.CurrentNodeID)
	if node == nil || node.Kind != flow.KindQuestion {
		return t.advance(ctx)
	}
	t.fc.Record(node.ID, "unknown_answer", "", "")

	if node.Skippable && !node.Required {
		t.markSkipped(node)
		return t.advance(ctx)
	}
	def := acf.Definition()
	if node.Required || escalateOnUnknown(node) ||
		(def.Policies != nil && def.Policies.Conversation != nil && def.Policies.Conversation.EscalateOnUnknown) {
		return t.handleHandoff(fmt.Sprintf("required answer %q unknown", node.Key))
	}
	return &Output{
		NodeID:            node.ID,
		Prompt:            node.Prompt,
		ValidationMessage: "I still need this one to continue.",
	}, nil
}

// handleSkip marks a skippable question as skipped and moves on,
// optionally jumping to an explicit target.
func (t *turn) handleSkip(ctx context.Context, ev SkipQuestion) (*Output, error) {
	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	node := acf.Node(t.fc.CurrentNodeID)
	if node == nil || node.Kind != flow.KindQuestion {
		return t.advance(ctx)
	}
	if !node.Skippable || node.Required {
		return &Output{
			NodeID:            node.ID,
			Prompt:            node.Prompt,
			ValidationMessage: fmt.Sprintf("%q cannot be skipped", node.Key),
		}, nil
	}
	t.markSkipped(node)

	target := ev.To
	if target == "" {
		if hint, ok := node.Meta["skip_to"].(string); ok {
			target = hint
		}
	}
	if target != "" {
		if acf.Node(target) == nil {
			return nil, fmt.Errorf("skip target %q not in flow %q", target, acf.ID)
		}
		t.move(acf, node, target)
	}
	return t.advance(ctx)
}

// escalateOnUnknown reads the node-level escalation override. Flow
// documents carry it as a meta key rather than a dedicated field.
func escalateOnUnknown(node *flow.Node) bool {
	v, ok := node.Meta["escalate_on_unknown"].(bool)
	return ok && v
}

func (t *turn) markSkipped(node *flow.Node) {
	t.fc.Answers[node.Key] = flow.SkippedValue
	t.fc.State(node.ID).Skipped = true
	t.fc.PendingField = ""
	t.fc.Record(node.ID, "skip_question", "", "")
}

// handleRevisit overwrites an earlier answer by key, or jumps back to a
// revisitable question node to re-ask it.
func (t *turn) handleRevisit(ctx context.Context, ev RevisitQuestion) (*Output, error) {
	acf, err := t.active()
	if err != nil {
		return nil, err
	}

	if ev.Key != "" {
		if ev.Key == flow.SelectedPathKey {
			t.renormalizePath(fmt.Sprint(ev.Value))
		}
		t.fc.Answers[ev.Key] = ev.Value
		t.fc.Record(t.fc.CurrentNodeID, "revisit_question", fmt.Sprint(ev.Value), ev.Key)
		return t.advance(ctx)
	}

	node := acf.Node(ev.Target)
	if node == nil || node.Kind != flow.KindQuestion {
		return nil, fmt.Errorf("revisit target %q is not a question in flow %q", ev.Target, acf.ID)
	}
	if !node.Revisitable && t.fc.State(node.ID).Visits > 0 {
		cur := acf.Node(t.fc.CurrentNodeID)
		return &Output{
			NodeID:            t.fc.CurrentNodeID,
			Prompt:            promptOf(cur),
			ValidationMessage: fmt.Sprintf("%q cannot be changed once answered", node.Key),
		}, nil
	}

	delete(t.fc.Answers, node.Key)
	t.fc.State(node.ID).Skipped = false
	t.fc.Record(t.fc.CurrentNodeID, "revisit_question", "", ev.Target)
	from := acf.Node(t.fc.CurrentNodeID)
	if from == nil {
		from = node
	}
	t.move(acf, from, ev.Target)
	return t.advance(ctx)
}

func promptOf(node *flow.Node) string {
	if node == nil {
		return ""
	}
	if node.Prompt != "" {
		return node.Prompt
	}
	return node.DecisionPrompt
}

// routeQuestion picks the next node after an answered question: the
// first guard-true edge, else the next unanswered question by ascending
// ask priority. An empty target means nothing is left to ask.
func (t *turn) routeQuestion(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node) (string, error) {
	target, err := t.firstGuardTrue(acf, node.ID)
	if err != nil {
		return "", err
	}
	if target != "" {
		return target, nil
	}
	return t.nextUnanswered(acf, node.ID), nil
}

// nextUnanswered scans the active flow for the lowest-priority question
// that has no answer and whose dependencies are all satisfied. Ties
// break by node id for determinism.
func (t *turn) nextUnanswered(acf *compiler.CompiledFlow, exclude string) string {
	var best *flow.Node
	for _, node := range acf.Nodes {
		if node.Kind != flow.KindQuestion || node.ID == exclude {
			continue
		}
		if t.fc.HasAnswer(node.Key) || t.fc.State(node.ID).Skipped {
			continue
		}
		if !t.depsSatisfied(node) {
			continue
		}
		if best == nil || node.Priority < best.Priority ||
			(node.Priority == best.Priority && node.ID < best.ID) {
			best = node
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (t *turn) depsSatisfied(node *flow.Node) bool {
	for _, dep := range node.Dependencies {
		if !t.fc.HasAnswer(dep) {
			return false
		}
	}
	return true
}
