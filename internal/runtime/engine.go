// Package runtime steps compiled flows one conversational turn at a
// time.
//
// A turn is a single synchronous unit of work: the engine receives the
// session's FlowContext and one Event, and returns a new context plus
// exactly one Output. The input context is never mutated; callers
// persist the returned one. The only blocking points inside a turn are
// calls to the LLM collaborator, which are timeout-bounded and retried
// a fixed number of times.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/palaverhq/palaver/internal/logging"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/ports"
	"github.com/palaverhq/palaver/pkg/registry"
)

// maxHops bounds non-interactive node chaining inside one turn, so a
// misconfigured always-true cycle cannot spin forever.
const maxHops = 64

// Hooks are optional observability callbacks, fired synchronously.
type Hooks struct {
	OnNodeEnter  func(nodeID string, kind flow.Kind)
	OnNodeLeave  func(nodeID string, kind flow.Kind)
	OnEvent      func(event string)
	OnLLMCall    func(op string, attempt int, err error)
	OnPathLocked func(path string)
}

// Engine executes turns. It is stateless across sessions: everything
// per-conversation lives in the FlowContext, so one Engine serves any
// number of concurrent sessions as long as each session's turns are
// serialized by the caller.
type Engine struct {
	guards  *guard.Registry
	actions *registry.Registry
	llm     ports.LLMClient
	logger  *slog.Logger
	hooks   Hooks

	llmRetries int
	llmTimeout time.Duration
	maxDepth   int
}

// Option configures the engine.
type Option func(*Engine)

// WithLLM injects the LLM collaborator. Without one the engine routes
// strictly by guards.
func WithLLM(client ports.LLMClient) Option {
	return func(e *Engine) { e.llm = client }
}

// WithActions sets the action-handler registry.
func WithActions(r *registry.Registry) Option {
	return func(e *Engine) { e.actions = r }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHooks registers lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLLMRetryPolicy bounds LLM calls: retries beyond the first attempt
// and a per-call timeout.
func WithLLMRetryPolicy(retries int, timeout time.Duration) Option {
	return func(e *Engine) {
		e.llmRetries = retries
		e.llmTimeout = timeout
	}
}

// New creates an engine around a guard registry.
func New(guards *guard.Registry, opts ...Option) *Engine {
	e := &Engine{
		guards:     guards,
		actions:    registry.New(),
		logger:     logging.NewNop(),
		llmRetries: 2,
		llmTimeout: 15 * time.Second,
		maxDepth:   8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Step executes one turn against the compiled flow. A nil fc starts a
// fresh session at the entry node. The returned context is a mutated
// clone; fc itself is untouched.
func (e *Engine) Step(ctx context.Context, cf *compiler.CompiledFlow, fc *flow.FlowContext, ev Event) (*flow.FlowContext, *Output, error) {
	if cf == nil {
		return nil, nil, fmt.Errorf("nil compiled flow")
	}
	if fc == nil {
		fc = flow.NewContext(cf.ID, cf.Entry)
	}
	next := fc.Clone()

	if e.hooks.OnEvent != nil {
		e.hooks.OnEvent(ev.Name())
	}

	// Terminal is absorbing: once completed, every further event yields
	// the completion record again.
	if next.Status == flow.StatusCompleted {
		return next, e.absorbedOutput(cf, next), nil
	}

	t := &turn{e: e, root: cf, fc: next}

	var out *Output
	var err error
	switch ev := ev.(type) {
	case Begin:
		out, err = t.advance(ctx)
	case Answer:
		out, err = t.handleAnswer(ctx, ev)
	case UnknownAnswer:
		out, err = t.handleUnknown(ctx)
	case SkipQuestion:
		out, err = t.handleSkip(ctx, ev)
	case RevisitQuestion:
		out, err = t.handleRevisit(ctx, ev)
	case PathCorrection:
		out, err = t.handlePathCorrection(ctx, ev)
	case RequestHumanHandoff:
		out, err = t.handleHandoff(ev.Reason)
	case ProvideInformation:
		t.fc.Record(t.fc.CurrentNodeID, ev.Name(), ev.Text, "")
		out, err = t.advance(ctx)
	case ConfirmCompletion:
		out, err = t.handleConfirmCompletion()
	case NavigateFlow:
		out, err = t.handleNavigate(ctx, ev)
	case UpdateAnswers:
		out, err = t.handleUpdateAnswers(ctx, ev)
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}
	if err != nil {
		return nil, nil, err
	}
	return next, out, nil
}

func (e *Engine) absorbedOutput(cf *compiler.CompiledFlow, fc *flow.FlowContext) *Output {
	out := &Output{
		NodeID:    fc.CurrentNodeID,
		Completed: true,
		Success:   true,
		Reason:    "session_completed",
		Answers:   fc.Answers,
	}
	if node := cf.Node(fc.CurrentNodeID); node != nil && node.Kind == flow.KindTerminal {
		out.Reason = node.Reason
		out.Success = node.Success
		out.NextFlow = node.NextFlow
	}
	return out
}

// turn holds the state of one Step invocation.
type turn struct {
	e    *Engine
	root *compiler.CompiledFlow
	fc   *flow.FlowContext
}

// active resolves the compiled flow the session currently executes in,
// descending through suspended subflow frames.
func (t *turn) active() (*compiler.CompiledFlow, error) {
	cur := t.root
	for _, frame := range t.fc.Frames {
		sub, ok := cur.Subflows[frame.FlowRef]
		if !ok {
			return nil, fmt.Errorf("internal: unknown subflow %q in frame stack", frame.FlowRef)
		}
		cur = sub
	}
	return cur, nil
}

// advance walks non-interactive nodes from the current position until
// the turn needs user input or the session completes.
func (t *turn) advance(ctx context.Context) (*Output, error) {
	for hops := 0; hops < maxHops; hops++ {
		acf, err := t.active()
		if err != nil {
			return nil, err
		}
		node := acf.Node(t.fc.CurrentNodeID)
		if node == nil {
			return nil, fmt.Errorf("internal: current node %q not in compiled flow %q", t.fc.CurrentNodeID, acf.ID)
		}

		switch node.Kind {
		case flow.KindQuestion:
			if !t.fc.HasAnswer(node.Key) {
				return t.askQuestion(node), nil
			}
			target, err := t.routeQuestion(ctx, acf, node)
			if err != nil {
				return nil, err
			}
			if target == "" {
				out, err := t.completeLevel("all_questions_answered", true, "")
				if err != nil || out != nil {
					return out, err
				}
				continue
			}
			t.move(acf, node, target)

		case flow.KindDecision:
			if node.DecisionType == flow.DecisionUserChoice {
				return t.offerChoice(acf, node), nil
			}
			target, err := t.routeDecision(ctx, acf, node)
			if err != nil {
				return nil, err
			}
			if target == "" {
				return nil, fmt.Errorf("decision node %q has no matching edge (flow configuration error)", node.ID)
			}
			t.move(acf, node, target)

		case flow.KindTerminal:
			out, err := t.completeLevel(node.Reason, node.Success, node.NextFlow)
			if err != nil || out != nil {
				return out, err
			}

		case flow.KindAction:
			out, err := t.runAction(ctx, acf, node)
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}

		case flow.KindSubflow:
			if err := t.pushFrame(acf, node); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("internal: node %q has unknown kind %q", node.ID, node.Kind)
		}
	}
	return nil, fmt.Errorf("turn exceeded %d transitions at node %q (cycle without input?)", maxHops, t.fc.CurrentNodeID)
}

// askQuestion parks the session on an unanswered question.
func (t *turn) askQuestion(node *flow.Node) *Output {
	t.fc.PendingField = node.Key
	t.fc.State(node.ID).Visits++
	return &Output{NodeID: node.ID, Prompt: node.Prompt}
}

// offerChoice parks the session on a user_choice decision.
func (t *turn) offerChoice(acf *compiler.CompiledFlow, node *flow.Node) *Output {
	t.fc.State(node.ID).Visits++
	out := &Output{NodeID: node.ID, Prompt: node.DecisionPrompt}
	for _, e := range acf.Outgoing(node.ID) {
		label := e.Label
		if label == "" {
			label = e.Target
		}
		out.Choices = append(out.Choices, label)
	}
	return out
}

// move transitions to target within the active flow.
func (t *turn) move(acf *compiler.CompiledFlow, from *flow.Node, target string) {
	if t.e.hooks.OnNodeLeave != nil {
		t.e.hooks.OnNodeLeave(from.ID, from.Kind)
	}
	t.fc.CurrentNodeID = target
	if next := acf.Node(target); next != nil && t.e.hooks.OnNodeEnter != nil {
		t.e.hooks.OnNodeEnter(next.ID, next.Kind)
	}
}

// completeLevel finishes the current execution level. In a subflow it
// pops the frame and returns a nil output so the caller's loop resumes
// in the parent; at the root it marks the session completed and returns
// the final output.
func (t *turn) completeLevel(reason string, success bool, nextFlow string) (*Output, error) {
	if len(t.fc.Frames) > 0 {
		return t.popFrame()
	}
	t.fc.Status = flow.StatusCompleted
	t.fc.PendingField = ""
	t.fc.Record(t.fc.CurrentNodeID, "completed", "", reason)
	return &Output{
		NodeID:    t.fc.CurrentNodeID,
		Completed: true,
		Reason:    reason,
		Success:   success,
		NextFlow:  nextFlow,
		Answers:   t.fc.Answers,
	}, nil
}

// firstGuardTrue returns the target of the first edge (in priority
// order) whose guard evaluates true.
func (t *turn) firstGuardTrue(acf *compiler.CompiledFlow, nodeID string) (string, error) {
	for _, e := range acf.Outgoing(nodeID) {
		ok, err := t.e.guards.Evaluate(e.Guard, t.fc)
		if err != nil {
			return "", err
		}
		if ok {
			return e.Target, nil
		}
	}
	return "", nil
}

func (t *turn) handleHandoff(reason string) (*Output, error) {
	t.fc.Status = flow.StatusEscalated
	t.fc.Record(t.fc.CurrentNodeID, "handoff", "", reason)
	return &Output{NodeID: t.fc.CurrentNodeID, Handoff: true, Reason: reason}, nil
}

func (t *turn) handleConfirmCompletion() (*Output, error) {
	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	reason, success := "confirmed_by_user", true
	nextFlow := ""
	if node := acf.Node(t.fc.CurrentNodeID); node != nil && node.Kind == flow.KindTerminal {
		reason, success, nextFlow = node.Reason, node.Success, node.NextFlow
	}
	// Forced completion collapses any pending subflow frames.
	t.fc.Answers = rootAnswers(t.fc)
	t.fc.Frames = nil
	return t.completeLevel(reason, success, nextFlow)
}

func (t *turn) handleNavigate(ctx context.Context, ev NavigateFlow) (*Output, error) {
	target := ev.Target
	if target == "" {
		return nil, fmt.Errorf("navigate_flow requires a target node id")
	}
	// Explicit navigation bypasses guards. Prefer the active flow;
	// a root-level target unwinds any subflow frames.
	acf, err := t.active()
	if err != nil {
		return nil, err
	}
	switch {
	case acf.Node(target) != nil:
	case t.root.Node(target) != nil:
		t.fc.Frames = nil
		t.fc.Answers = rootAnswers(t.fc)
	default:
		return nil, fmt.Errorf("navigate_flow: unknown node %q", target)
	}
	t.fc.PendingField = ""
	t.fc.Record(t.fc.CurrentNodeID, "navigate_flow", "", target)
	t.fc.CurrentNodeID = target
	return t.advance(ctx)
}

func (t *turn) handleUpdateAnswers(ctx context.Context, ev UpdateAnswers) (*Output, error) {
	for k, v := range ev.Answers {
		t.fc.Answers[k] = v
		if k == flow.SelectedPathKey {
			t.renormalizePath(fmt.Sprint(v))
		}
	}
	t.fc.Record(t.fc.CurrentNodeID, "update_answers", "", "")
	return t.advance(ctx)
}

// rootAnswers returns the outermost answers map, unwinding any frames.
func rootAnswers(fc *flow.FlowContext) map[string]any {
	if len(fc.Frames) == 0 {
		return fc.Answers
	}
	return fc.Frames[0].ParentAnswers
}

// lastUserText returns the most recent recorded user input.
func lastUserText(fc *flow.FlowContext) string {
	for i := len(fc.History) - 1; i >= 0; i-- {
		if fc.History[i].Input != "" {
			return fc.History[i].Input
		}
	}
	return ""
}
