package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/ports"
)

// pathKey names the path an edge represents: its label when present,
// otherwise its target node id.
func pathKey(e flow.Edge) string {
	if e.Label != "" {
		return e.Label
	}
	return e.Target
}

// routeDecision resolves an automatic or llm_assisted decision to a
// target node id. Empty means no edge matched.
func (t *turn) routeDecision(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node) (string, error) {
	edges := acf.Outgoing(node.ID)

	// A locked path overrides classification: take the edge that
	// carries the active path when one exists.
	if t.fc.PathLocked && t.fc.ActivePath != "" {
		for _, e := range edges {
			if pathKey(e) == t.fc.ActivePath {
				return e.Target, nil
			}
		}
	}

	mode := acf.Definition().Mode()
	if mode == flow.ModeFlexible && node.DecisionType == flow.DecisionLLMAssisted && t.e.llm != nil {
		if target := t.classifyDecision(ctx, node, edges); target != "" {
			return target, nil
		}
	}
	return t.firstGuardTrue(acf, node.ID)
}

// classifyDecision asks the LLM to pick an outgoing edge. It returns
// the chosen target, or empty to fall back to guard routing.
func (t *turn) classifyDecision(ctx context.Context, node *flow.Node, edges []flow.Edge) string {
	req := ports.ClassifyRequest{
		Prompt:   node.DecisionPrompt,
		UserText: lastUserText(t.fc),
		Context:  t.fc.Answers,
	}
	for _, e := range edges {
		c := ports.Candidate{
			Key:         pathKey(e),
			Label:       e.Label,
			Description: e.ConditionDescription,
		}
		if e.Guard != nil {
			if c.Description == "" {
				c.Description = e.Guard.Description
			}
			c.Weight = e.Guard.Weight
		}
		req.Candidates = append(req.Candidates, c)
	}

	cls, err := t.e.classify(ctx, req)
	if err != nil {
		t.e.logger.Warn("classification unavailable, falling back to guards",
			"node", node.ID, "error", err)
		return ""
	}
	for _, e := range edges {
		if pathKey(e) != cls.Choice {
			continue
		}
		if len(edges) > 1 {
			honored := t.castVote(node, cls.Choice, cls.Confidence)
			if honored != cls.Choice {
				for _, alt := range edges {
					if pathKey(alt) == honored {
						return alt.Target
					}
				}
			}
		}
		return e.Target
	}
	// The model answered outside the candidate set.
	t.e.logger.Warn("classification returned unknown choice",
		"node", node.ID, "choice", cls.Choice)
	return ""
}

// castVote records a classification vote at a multi-path decision and
// locks the path once the threshold is reached. It returns the honored
// path key: when switching before lock is disallowed, a dissenting vote
// collapses onto the current leader.
func (t *turn) castVote(node *flow.Node, key string, confidence float64) string {
	if t.fc.PathLocked {
		return t.fc.ActivePath
	}
	if t.fc.PathNodeID == "" {
		t.fc.PathNodeID = node.ID
	}
	pol := t.root.Definition().PathPolicy()
	if confidence < pol.MinConfidence {
		return key
	}
	if len(t.fc.PathVotes) > 0 && !pol.SwitchBeforeLock() {
		if leader := t.leader(); leader != "" && key != leader {
			key = leader
		}
	}
	t.fc.PathVotes[key]++
	t.fc.PathConfidence = confidence
	if t.fc.PathVotes[key] >= pol.LockThreshold {
		t.fc.ActivePath = key
		t.fc.PathLocked = true
		t.fc.Answers[flow.SelectedPathKey] = key
		if t.e.hooks.OnPathLocked != nil {
			t.e.hooks.OnPathLocked(key)
		}
		t.e.logger.Info("conversation path locked", "path", key, "votes", t.fc.PathVotes[key])
	}
	return key
}

// leader is the current top-voted path, ties broken by key so the
// answer is stable.
func (t *turn) leader() string {
	best, bestVotes := "", -1
	for key, votes := range t.fc.PathVotes {
		if votes > bestVotes || (votes == bestVotes && key < best) {
			best, bestVotes = key, votes
		}
	}
	return best
}

// renormalizePath is the effect of writing the selected_path answer:
// the named path becomes the locked active path outright.
func (t *turn) renormalizePath(value string) {
	pol := t.root.Definition().PathPolicy()
	t.fc.PathVotes = map[string]int{value: pol.LockThreshold}
	t.fc.ActivePath = value
	t.fc.PathLocked = true
	t.fc.PathConfidence = 1
	t.fc.Answers[flow.SelectedPathKey] = value
}

// handlePathCorrection reopens path selection and re-enters the flow at
// the decision node where voting began.
func (t *turn) handlePathCorrection(ctx context.Context, ev PathCorrection) (*Output, error) {
	t.fc.PathVotes = make(map[string]int)
	t.fc.PathLocked = false
	t.fc.ActivePath = ""
	t.fc.PathConfidence = 0
	delete(t.fc.Answers, flow.SelectedPathKey)

	if target := t.fc.PathNodeID; target != "" {
		// The voting decision lives in the root flow; unwind frames if
		// the correction arrives mid-subflow.
		if t.root.Node(target) != nil && len(t.fc.Frames) > 0 {
			t.fc.Answers = rootAnswers(t.fc)
			t.fc.Frames = nil
		}
		t.fc.CurrentNodeID = target
		t.fc.PendingField = ""
	}
	t.fc.Record(t.fc.CurrentNodeID, "path_correction", ev.Hint, "")
	return t.advance(ctx)
}

// resolveChoice maps a user's reply at a user_choice decision onto one
// of the offered edges.
func (t *turn) resolveChoice(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node, ev Answer) (*Output, error) {
	text := strings.TrimSpace(fmt.Sprint(ev.Value))
	t.fc.Record(node.ID, ev.Name(), text, "")

	edges := acf.Outgoing(node.ID)
	labels := make([]string, 0, len(edges))
	for _, e := range edges {
		labels = append(labels, pathKey(e))
	}

	choice := ""
	for _, label := range labels {
		if strings.EqualFold(text, label) {
			choice = label
			break
		}
	}
	if choice == "" {
		choice = guard.ResolveCandidate(text, labels)
	}
	if choice == "" {
		out := t.offerChoice(acf, node)
		out.ValidationMessage = fmt.Sprintf("%q is not one of the offered options", text)
		return out, nil
	}

	for _, e := range edges {
		if pathKey(e) == choice {
			if len(edges) > 1 {
				t.castVote(node, choice, 1)
			}
			t.move(acf, node, e.Target)
			return t.advance(ctx)
		}
	}
	return nil, fmt.Errorf("internal: resolved choice %q has no edge at node %q", choice, node.ID)
}
