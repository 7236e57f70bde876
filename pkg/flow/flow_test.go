package flow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver/pkg/flow"
)

func bookingFlow() *flow.Flow {
	return flow.NewBuilder("booking").
		Entry("ask_activity").
		Question("ask_activity", "activity", "What would you like to book?",
			flow.Allowed("tennis", "swimming"), flow.Required()).
		Decision("route", flow.DecisionLLMAssisted, "Route by activity").
		Question("ask_court", "court", "Which court?",
			flow.DataType("int"), flow.Skippable(), flow.DependsOn("activity")).
		Action("create", "create_booking", map[string]any{"system": "crm"},
			flow.Outputs("booking_id")).
		Terminal("done", "booked", true).
		Edge("ask_activity", "route").
		Edge("route", "ask_court",
			flow.Guarded("answers_equals", map[string]any{"key": "activity", "value": "tennis"}),
			flow.Priority(1), flow.Hint("user wants a tennis court")).
		Edge("route", "create", flow.Priority(2), flow.EdgeLabel("fallback")).
		Edge("ask_court", "create").
		Edge("create", "done").
		Build()
}

func TestBuilderAssemblesFlow(t *testing.T) {
	f := bookingFlow()

	assert.Equal(t, "booking", f.ID)
	assert.Equal(t, flow.SchemaVersion, f.SchemaVersion)
	assert.Equal(t, "ask_activity", f.Entry)
	require.Len(t, f.Nodes, 5)
	require.Len(t, f.Edges, 5)

	q := f.Node("ask_activity")
	require.NotNil(t, q)
	assert.Equal(t, flow.KindQuestion, q.Kind)
	assert.Equal(t, "activity", q.Key)
	assert.True(t, q.Required)
	assert.Equal(t, []string{"tennis", "swimming"}, q.AllowedValues)

	court := f.Node("ask_court")
	require.NotNil(t, court)
	assert.True(t, court.Skippable)
	assert.Equal(t, "int", court.DataType)
	assert.Equal(t, []string{"activity"}, court.Dependencies)

	guarded := f.Edges[1]
	require.NotNil(t, guarded.Guard)
	assert.Equal(t, "answers_equals", guarded.Guard.Fn)
	assert.Equal(t, 1, guarded.Priority)
	assert.Equal(t, "user wants a tennis court", guarded.ConditionDescription)

	assert.Nil(t, f.Node("no_such_node"))
}

func TestBuilderBuildReturnsIndependentCopies(t *testing.T) {
	b := flow.NewBuilder("f").
		Entry("q").
		Question("q", "k", "?")

	first := b.Build()
	second := b.Build()

	first.Nodes[0].Prompt = "mutated"
	assert.Equal(t, "?", second.Nodes[0].Prompt)
}

func TestCloneIsDeep(t *testing.T) {
	f := bookingFlow()
	f.Validations = map[string]flow.ValidationRule{
		"zip": {Pattern: `^\d{5}$`, AllowedValues: []string{"12345"}},
	}
	f.Subflows = map[string]*flow.Flow{
		"address": flow.NewBuilder("address").Entry("s").Question("s", "street", "Street?").Build(),
	}

	c := f.Clone()
	c.Nodes[0].AllowedValues[0] = "golf"
	c.Edges[1].Guard.Args["value"] = "swimming"
	c.Validations["zip"] = flow.ValidationRule{Pattern: "changed"}
	c.Subflows["address"].Entry = "other"

	assert.Equal(t, "tennis", f.Nodes[0].AllowedValues[0])
	assert.Equal(t, "tennis", f.Edges[1].Guard.Args["value"])
	assert.Equal(t, `^\d{5}$`, f.Validations["zip"].Pattern)
	assert.Equal(t, "s", f.Subflows["address"].Entry)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	f := bookingFlow()

	data, err := flow.Encode(f)
	require.NoError(t, err)

	parsed, err := flow.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f.ID, parsed.ID)
	assert.Equal(t, f.Entry, parsed.Entry)
	require.Len(t, parsed.Nodes, len(f.Nodes))
	assert.Equal(t, "answers_equals", parsed.Edges[1].Guard.Fn)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	_, err := flow.Parse([]byte(`{`))
	assert.Error(t, err)

	_, err = flow.Parse([]byte(`{"entry":"a","nodes":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")

	_, err = flow.Parse([]byte(`{"id":"f","schema_version":"v99","entry":"a"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema_version")
}

func TestParseFileChoosesCodecByExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "flow.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"id":"j","entry":"q","nodes":[{"id":"q","kind":"question","key":"k","prompt":"?"}],"edges":[]}`), 0o644))

	yamlPath := filepath.Join(dir, "flow.yaml")
	yamlDoc := "id: y\nentry: q\nnodes:\n  - id: q\n    kind: question\n    key: k\n    prompt: '?'\nedges: []\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o644))

	jf, err := flow.ParseFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "j", jf.ID)

	yf, err := flow.ParseFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "y", yf.ID)
	assert.Equal(t, flow.KindQuestion, yf.Nodes[0].Kind)

	_, err = flow.ParseFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPolicyDefaults(t *testing.T) {
	f := flow.NewBuilder("f").Entry("q").Question("q", "k", "?").Build()

	assert.Equal(t, flow.ModeFlexible, f.Mode())
	p := f.PathPolicy()
	assert.Equal(t, 2, p.LockThreshold)
	assert.True(t, p.SwitchBeforeLock())

	off := false
	f.Policies = &flow.Policies{
		Conversation:  &flow.ConversationPolicy{Mode: flow.ModeStrict},
		PathSelection: &flow.PathSelectionPolicy{LockThreshold: 3, AllowSwitchBeforeLock: &off, MinConfidence: 0.7},
	}
	assert.Equal(t, flow.ModeStrict, f.Mode())
	p = f.PathPolicy()
	assert.Equal(t, 3, p.LockThreshold)
	assert.False(t, p.SwitchBeforeLock())
	assert.Equal(t, 0.7, p.MinConfidence)
}
