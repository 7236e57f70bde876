package runtime

import (
	"context"
	"fmt"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
)

// runAction executes the node's registered handler and routes onward.
// Handler failure does not consume the node: the session stays put and
// the output carries the error, so the next turn retries. A non-nil
// output ends the turn; nil means the advance loop continues.
func (t *turn) runAction(ctx context.Context, acf *compiler.CompiledFlow, node *flow.Node) (*Output, error) {
	if !t.e.actions.Has(node.ActionType) {
		return nil, fmt.Errorf("no handler registered for action type %q (node %q)", node.ActionType, node.ID)
	}

	results, err := t.e.actions.Execute(ctx, node.ActionType, t.fc, node.ActionConfig)
	if err != nil {
		t.e.logger.Error("action failed", "node", node.ID, "action", node.ActionType, "error", err)
		t.fc.Record(node.ID, "action_failed", "", err.Error())
		return &Output{NodeID: node.ID, ActionError: err.Error()}, nil
	}

	if len(node.OutputKeys) > 0 {
		for _, key := range node.OutputKeys {
			if v, ok := results[key]; ok {
				t.fc.Answers[key] = v
			}
		}
	} else {
		for k, v := range results {
			t.fc.Answers[k] = v
		}
	}
	t.fc.Record(node.ID, "action_completed", "", node.ActionType)

	target, err := t.firstGuardTrue(acf, node.ID)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = t.nextUnanswered(acf, node.ID)
	}
	if target == "" {
		return t.completeLevel("flow_complete", true, "")
	}
	t.move(acf, node, target)
	return nil, nil
}
