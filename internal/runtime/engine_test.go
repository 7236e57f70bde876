package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/ports"
	"github.com/palaverhq/palaver/pkg/registry"
)

// scriptedLLM replays canned classifications in order and answers
// extraction requests from a fixed table.
type scriptedLLM struct {
	mu              sync.Mutex
	classifications []ports.Classification
	classifyErr     error
	calls           int
	lastClassify    ports.ClassifyRequest
	extractions     map[string]ports.Extraction
}

func (s *scriptedLLM) Classify(_ context.Context, req ports.ClassifyRequest) (ports.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClassify = req
	if s.classifyErr != nil {
		return ports.Classification{}, s.classifyErr
	}
	i := s.calls
	s.calls++
	if i >= len(s.classifications) {
		i = len(s.classifications) - 1
	}
	if i < 0 {
		return ports.Classification{}, errors.New("no scripted classification")
	}
	return s.classifications[i], nil
}

func (s *scriptedLLM) ExtractAnswer(_ context.Context, req ports.ExtractRequest) (ports.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ext, ok := s.extractions[req.Key]; ok {
		return ext, nil
	}
	return ports.Extraction{Unknown: true}, nil
}

func mustCompile(t *testing.T, f *flow.Flow) (*compiler.CompiledFlow, *guard.Registry) {
	t.Helper()
	reg := guard.NewRegistry()
	cf, _, err := compiler.Compile(f, reg)
	require.NoError(t, err)
	return cf, reg
}

func intakeFlow() *flow.Flow {
	return flow.NewBuilder("intake").
		Entry("ask_name").
		Question("ask_name", "name", "What is your name?").
		Question("ask_age", "age", "How old are you?", flow.DataType("int")).
		Terminal("done", "intake_complete", true).
		Edge("ask_name", "ask_age").
		Edge("ask_age", "done").
		Build()
}

func TestBeginAsksEntryQuestion(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)

	fc, out, err := eng.Step(context.Background(), cf, nil, Begin{})
	require.NoError(t, err)
	assert.Equal(t, "ask_name", out.NodeID)
	assert.Equal(t, "What is your name?", out.Prompt)
	assert.Equal(t, "name", fc.PendingField)
	assert.Equal(t, flow.StatusActive, fc.Status)
	assert.Equal(t, 1, fc.State("ask_name").Visits)
}

func TestAnswersAdvanceToCompletion(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ask_age", out.NodeID)
	assert.Equal(t, "Ada", fc.Answers["name"])

	fc, out, err = eng.Step(ctx, cf, fc, Answer{Value: "36"})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.True(t, out.Success)
	assert.Equal(t, "intake_complete", out.Reason)
	assert.Equal(t, flow.StatusCompleted, fc.Status)
}

func TestStepDoesNotMutateInputContext(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	before, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)

	after, _, err := eng.Step(ctx, cf, before, Answer{Value: "Ada"})
	require.NoError(t, err)

	assert.Empty(t, before.Answers)
	assert.Equal(t, "ask_name", before.CurrentNodeID)
	assert.Equal(t, "Ada", after.Answers["name"])
	assert.NotSame(t, before, after)
}

func TestInvalidAnswerRepromptsWithMessage(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, _, err = eng.Step(ctx, cf, fc, Answer{Value: "Ada"})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "banana"})
	require.NoError(t, err)
	assert.Equal(t, "ask_age", out.NodeID)
	assert.NotEmpty(t, out.ValidationMessage)
	assert.NotContains(t, fc.Answers, "age")
	assert.Equal(t, 1, fc.State("ask_age").Attempts)
}

func TestExhaustedAttemptsEscalateRequiredQuestion(t *testing.T) {
	f := flow.NewBuilder("strict-age").
		Entry("ask_age").
		Question("ask_age", "age", "Age?", flow.DataType("int"), flow.Required(), flow.MaxAttempts(2)).
		Terminal("done", "ok", true).
		Edge("ask_age", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "nope"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ValidationMessage)
	assert.False(t, out.Handoff)

	fc, out, err = eng.Step(ctx, cf, fc, Answer{Value: "still nope"})
	require.NoError(t, err)
	assert.True(t, out.Handoff)
	assert.Equal(t, flow.StatusEscalated, fc.Status)
}

func TestExhaustedAttemptsSkipSkippableQuestion(t *testing.T) {
	f := flow.NewBuilder("soft-age").
		Entry("ask_age").
		Question("ask_age", "age", "Age?", flow.DataType("int"), flow.Skippable(), flow.MaxAttempts(1)).
		Terminal("done", "ok", true).
		Edge("ask_age", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "dunno"})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, flow.SkippedValue, fc.Answers["age"])
	assert.True(t, fc.State("ask_age").Skipped)
}

func TestUnknownAnswerSkipsOrEscalates(t *testing.T) {
	t.Run("skippable", func(t *testing.T) {
		f := flow.NewBuilder("u1").
			Entry("q").
			Question("q", "color", "Favorite color?", flow.Skippable()).
			Terminal("done", "ok", true).
			Edge("q", "done").
			Build()
		cf, reg := mustCompile(t, f)
		eng := New(reg)
		ctx := context.Background()

		fc, _, err := eng.Step(ctx, cf, nil, Begin{})
		require.NoError(t, err)
		fc, out, err := eng.Step(ctx, cf, fc, UnknownAnswer{})
		require.NoError(t, err)
		assert.True(t, out.Completed)
		assert.Equal(t, flow.SkippedValue, fc.Answers["color"])
	})

	t.Run("required", func(t *testing.T) {
		f := flow.NewBuilder("u2").
			Entry("q").
			Question("q", "account", "Account number?", flow.Required()).
			Terminal("done", "ok", true).
			Edge("q", "done").
			Build()
		cf, reg := mustCompile(t, f)
		eng := New(reg)
		ctx := context.Background()

		fc, _, err := eng.Step(ctx, cf, nil, Begin{})
		require.NoError(t, err)
		fc, out, err := eng.Step(ctx, cf, fc, UnknownAnswer{})
		require.NoError(t, err)
		assert.True(t, out.Handoff)
		assert.Equal(t, flow.StatusEscalated, fc.Status)
	})

	t.Run("meta escalate_on_unknown", func(t *testing.T) {
		f := flow.NewBuilder("u3").
			Entry("q").
			Question("q", "ssn", "Social security number?",
				flow.Meta("escalate_on_unknown", true)).
			Terminal("done", "ok", true).
			Edge("q", "done").
			Build()
		cf, reg := mustCompile(t, f)
		eng := New(reg)
		ctx := context.Background()

		fc, _, err := eng.Step(ctx, cf, nil, Begin{})
		require.NoError(t, err)
		fc, out, err := eng.Step(ctx, cf, fc, UnknownAnswer{})
		require.NoError(t, err)
		assert.True(t, out.Handoff)
		assert.Equal(t, flow.StatusEscalated, fc.Status)
	})
}

func TestAllowedValuesCanonicalizeFreeText(t *testing.T) {
	f := flow.NewBuilder("channel").
		Entry("q").
		Question("q", "channel", "How should we contact you?", flow.Allowed("email", "phone")).
		Terminal("done", "ok", true).
		Edge("q", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "send me an EMAIL please"})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "email", fc.Answers["channel"])
}

func TestLLMExtractionRescuesFreeFormAnswer(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	llm := &scriptedLLM{extractions: map[string]ports.Extraction{
		"age": {Value: "42"},
	}}
	eng := New(reg, WithLLM(llm))
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, _, err = eng.Step(ctx, cf, fc, Answer{Value: "Ada"})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "I just turned forty-two"})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "42", fc.Answers["age"])
}

func TestSkipEventHonorsTarget(t *testing.T) {
	f := flow.NewBuilder("skippy").
		Entry("q1").
		Question("q1", "a", "A?", flow.Skippable()).
		Question("q2", "b", "B?").
		Question("q3", "c", "C?").
		Terminal("done", "ok", true).
		Edge("q1", "q2").
		Edge("q2", "q3").
		Edge("q3", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, out, err := eng.Step(ctx, cf, fc, SkipQuestion{To: "q3"})
	require.NoError(t, err)
	assert.Equal(t, "q3", out.NodeID)
	assert.Equal(t, flow.SkippedValue, fc.Answers["a"])
}

func TestSkipRejectedForRequiredQuestion(t *testing.T) {
	f := flow.NewBuilder("noskip").
		Entry("q").
		Question("q", "id", "ID?", flow.Required()).
		Terminal("done", "ok", true).
		Edge("q", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, out, err := eng.Step(ctx, cf, fc, SkipQuestion{})
	require.NoError(t, err)
	assert.Equal(t, "q", out.NodeID)
	assert.NotEmpty(t, out.ValidationMessage)
	assert.NotContains(t, fc.Answers, "id")
}

func TestRevisitOverwritesByKey(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, _, err = eng.Step(ctx, cf, fc, Answer{Value: "Ada"})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, RevisitQuestion{Key: "name", Value: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", fc.Answers["name"])
	assert.Equal(t, "ask_age", out.NodeID)
}

func TestRevisitTargetReasksQuestion(t *testing.T) {
	f := flow.NewBuilder("revisit").
		Entry("q1").
		Question("q1", "email", "Email?", flow.Revisitable()).
		Question("q2", "plan", "Plan?").
		Terminal("done", "ok", true).
		Edge("q1", "q2").
		Edge("q2", "done").
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, _, err = eng.Step(ctx, cf, fc, Answer{Value: "a@b.c"})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, RevisitQuestion{Target: "q1"})
	require.NoError(t, err)
	assert.Equal(t, "q1", out.NodeID)
	assert.NotContains(t, fc.Answers, "email")
}

func TestRevisitRejectedForNonRevisitableQuestion(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, _, err = eng.Step(ctx, cf, fc, Answer{Value: "Ada"})
	require.NoError(t, err)

	fc, out, err := eng.Step(ctx, cf, fc, RevisitQuestion{Target: "ask_name"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ValidationMessage)
	assert.Equal(t, "Ada", fc.Answers["name"])
}

func TestConfirmCompletionFinishesEarly(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, out, err := eng.Step(ctx, cf, fc, ConfirmCompletion{})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "confirmed_by_user", out.Reason)
	assert.Equal(t, flow.StatusCompleted, fc.Status)

	// Completed sessions absorb further events.
	fc2, out2, err := eng.Step(ctx, cf, fc, Answer{Value: "late"})
	require.NoError(t, err)
	assert.True(t, out2.Completed)
	assert.Equal(t, flow.StatusCompleted, fc2.Status)
}

func TestHandoffEvent(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	fc, out, err := eng.Step(ctx, cf, fc, RequestHumanHandoff{Reason: "user asked for an agent"})
	require.NoError(t, err)
	assert.True(t, out.Handoff)
	assert.Equal(t, "user asked for an agent", out.Reason)
	assert.Equal(t, flow.StatusEscalated, fc.Status)
}

func TestNavigateFlowJumpsWithoutGuards(t *testing.T) {
	cf, reg := mustCompile(t, intakeFlow())
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	_, out, err := eng.Step(ctx, cf, fc, NavigateFlow{Target: "ask_age"})
	require.NoError(t, err)
	assert.Equal(t, "ask_age", out.NodeID)

	_, _, err = eng.Step(ctx, cf, fc, NavigateFlow{Target: "nope"})
	assert.Error(t, err)
}

func TestActionFailureIsRetryable(t *testing.T) {
	f := flow.NewBuilder("lookup").
		Entry("fetch").
		Action("fetch", "crm_lookup", map[string]any{"table": "accounts"}, flow.Outputs("account_tier")).
		Terminal("done", "ok", true).
		Edge("fetch", "done").
		Build()
	cf, reg := mustCompile(t, f)

	attempts := 0
	actions := registry.New()
	actions.Register("crm_lookup", func(_ context.Context, _ *flow.FlowContext, _ map[string]any) (map[string]any, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("crm timeout")
		}
		return map[string]any{"account_tier": "gold"}, nil
	})
	eng := New(reg, WithActions(actions))
	ctx := context.Background()

	fc, out, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)
	assert.Equal(t, "fetch", out.NodeID)
	assert.Contains(t, out.ActionError, "crm timeout")
	assert.Equal(t, flow.StatusActive, fc.Status)

	fc, out, err = eng.Step(ctx, cf, fc, Begin{})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "gold", fc.Answers["account_tier"])
	assert.Equal(t, 2, attempts)
}

func TestNextUnansweredByPriorityAndDependencies(t *testing.T) {
	f := flow.NewBuilder("prio").
		Entry("q_low").
		Question("q_low", "low", "Low?", flow.AskPriority(5)).
		Question("q_high", "high", "High?", flow.AskPriority(1)).
		Question("q_dep", "dep", "Dep?", flow.AskPriority(0), flow.DependsOn("high")).
		Build()
	cf, reg := mustCompile(t, f)
	eng := New(reg)
	ctx := context.Background()

	fc, _, err := eng.Step(ctx, cf, nil, Begin{})
	require.NoError(t, err)

	// q_low has no edges: the dependency-blocked q_dep is passed over in
	// favor of q_high despite its higher ask priority number.
	fc, out, err := eng.Step(ctx, cf, fc, Answer{Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, "q_high", out.NodeID)

	fc, out, err = eng.Step(ctx, cf, fc, Answer{Value: "y"})
	require.NoError(t, err)
	assert.Equal(t, "q_dep", out.NodeID)

	// Once nothing is left to ask the session completes.
	fc, out, err = eng.Step(ctx, cf, fc, Answer{Value: "z"})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, "all_questions_answered", out.Reason)
	assert.Equal(t, flow.StatusCompleted, fc.Status)
}
