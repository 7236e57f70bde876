package runtime

import (
	"fmt"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
)

// pushFrame suspends the current flow and enters the subflow named by
// the call node. The child gets its own answers map seeded through the
// call node's input mapping; the parent's map is parked on the frame.
func (t *turn) pushFrame(acf *compiler.CompiledFlow, node *flow.Node) error {
	if len(t.fc.Frames) >= t.e.maxDepth {
		return fmt.Errorf("subflow depth limit %d exceeded at node %q", t.e.maxDepth, node.ID)
	}
	child, ok := acf.Subflows[node.FlowRef]
	if !ok {
		return fmt.Errorf("internal: subflow %q not compiled for flow %q", node.FlowRef, acf.ID)
	}

	childAnswers := make(map[string]any, len(node.InputMapping))
	for parentKey, childKey := range node.InputMapping {
		if v, ok := t.fc.Answers[parentKey]; ok {
			childAnswers[childKey] = v
		}
	}

	t.fc.Frames = append(t.fc.Frames, &flow.SubflowFrame{
		FlowRef:       node.FlowRef,
		CallNodeID:    node.ID,
		ParentAnswers: t.fc.Answers,
	})
	t.fc.Answers = childAnswers
	t.fc.Record(node.ID, "subflow_enter", "", node.FlowRef)
	t.fc.CurrentNodeID = child.Entry
	return nil
}

// popFrame resumes the parent flow after a subflow finished: child
// answers flow back through the call node's output mapping, then the
// parent routes past the call node. A non-nil output means completion
// propagated all the way to the root.
func (t *turn) popFrame() (*Output, error) {
	last := len(t.fc.Frames) - 1
	frame := t.fc.Frames[last]
	t.fc.Frames = t.fc.Frames[:last]

	childAnswers := t.fc.Answers
	t.fc.Answers = frame.ParentAnswers

	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	call := acf.Node(frame.CallNodeID)
	if call == nil {
		return nil, fmt.Errorf("internal: call node %q missing from flow %q", frame.CallNodeID, acf.ID)
	}
	for childKey, parentKey := range call.OutputMapping {
		if v, ok := childAnswers[childKey]; ok {
			t.fc.Answers[parentKey] = v
		}
	}

	t.fc.CurrentNodeID = call.ID
	t.fc.Record(call.ID, "subflow_return", "", frame.FlowRef)

	target, err := t.firstGuardTrue(acf, call.ID)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = t.nextUnanswered(acf, call.ID)
	}
	if target == "" {
		return t.completeLevel("all_questions_answered", true, "")
	}
	t.move(acf, call, target)
	return nil, nil
}
