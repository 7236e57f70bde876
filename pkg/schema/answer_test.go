package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/schema"
)

func TestParseTypeAcceptsAliases(t *testing.T) {
	cases := map[string]string{
		"":         "string",
		"string":   "string",
		"text":     "string",
		"int":      "int",
		"integer":  "int",
		"float":    "float",
		"number":   "float",
		"bool":     "bool",
		"boolean":  "bool",
		"email":    "email",
		"[string]": "[string]",
		"[int]":    "[int]",
	}
	for in, want := range cases {
		typ, err := schema.ParseType(in)
		require.NoError(t, err, "ParseType(%q)", in)
		assert.Equal(t, want, typ.Name(), "ParseType(%q)", in)
	}

	_, err := schema.ParseType("quaternion")
	assert.Error(t, err)
}

func TestIntTypeAcceptsTextAndWholeFloats(t *testing.T) {
	typ := schema.Int()

	assert.NoError(t, typ.Validate(7))
	assert.NoError(t, typ.Validate(" 42 "))
	// JSON numbers decode as float64.
	assert.NoError(t, typ.Validate(float64(3)))

	assert.Error(t, typ.Validate(3.5))
	assert.Error(t, typ.Validate("seven"))
	assert.Error(t, typ.Validate(true))
}

func TestBoolTypeAcceptsYesNoText(t *testing.T) {
	typ := schema.Bool()

	for _, ok := range []string{"y", "Yes", "TRUE", "1", "n", "No", "false", "0"} {
		assert.NoError(t, typ.Validate(ok), ok)
	}
	assert.NoError(t, typ.Validate(true))
	assert.Error(t, typ.Validate("maybe"))
	assert.Error(t, typ.Validate(3))
}

func TestEmailType(t *testing.T) {
	typ := schema.Email()

	assert.NoError(t, typ.Validate("ada@example.com"))
	assert.NoError(t, typ.Validate("  ada@example.com  "))
	assert.Error(t, typ.Validate("not-an-email"))
	assert.Error(t, typ.Validate(42))
}

func TestSliceType(t *testing.T) {
	typ := schema.Slice(schema.Int())

	assert.Equal(t, "[int]", typ.Name())
	assert.NoError(t, typ.Validate([]any{1, "2", float64(3)}))
	assert.Error(t, typ.Validate([]any{1, "two"}))
	assert.Error(t, typ.Validate("not a slice"))
}

func TestCustomType(t *testing.T) {
	typ := schema.Custom("even", func(v any) error {
		if n, ok := v.(int); ok && n%2 == 0 {
			return nil
		}
		return assert.AnError
	})

	assert.Equal(t, "even", typ.Name())
	assert.NoError(t, typ.Validate(4))
	assert.Error(t, typ.Validate(3))
}

func TestValidateAnswerCollectsAllFailures(t *testing.T) {
	node := &flow.Node{
		ID:            "ask_lane",
		Kind:          flow.KindQuestion,
		Key:           "lane",
		DataType:      "int",
		AllowedValues: []string{"1", "2", "3"},
	}

	err := schema.ValidateAnswer(node, nil, "nine")
	require.Error(t, err)

	errs := schema.ValidationErrors(err)
	// Both the data type and the allowed-values check fail.
	require.Len(t, errs, 2)
	for _, e := range errs {
		var verr *schema.ValidationError
		require.ErrorAs(t, e, &verr)
		assert.Equal(t, "lane", verr.Key)
	}
}

func TestValidateAnswerAllowedValuesFoldCase(t *testing.T) {
	node := &flow.Node{
		ID:            "ask_activity",
		Kind:          flow.KindQuestion,
		Key:           "activity",
		AllowedValues: []string{"tennis", "swimming"},
	}

	assert.NoError(t, schema.ValidateAnswer(node, nil, "Tennis"))
	assert.NoError(t, schema.ValidateAnswer(node, nil, "  swimming "))
	assert.Error(t, schema.ValidateAnswer(node, nil, "golf"))
}

func TestValidateAnswerNamedRule(t *testing.T) {
	rules := map[string]flow.ValidationRule{
		"zip": {Pattern: `^\d{5}$`, Message: "postal codes have five digits"},
	}
	node := &flow.Node{
		ID:        "ask_zip",
		Kind:      flow.KindQuestion,
		Key:       "zip",
		Validator: "zip",
	}

	assert.NoError(t, schema.ValidateAnswer(node, rules, "12345"))

	err := schema.ValidateAnswer(node, rules, "1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postal codes have five digits")
}

func TestCheckRule(t *testing.T) {
	assert.NoError(t, schema.CheckRule(flow.ValidationRule{Type: "email"}))
	assert.NoError(t, schema.CheckRule(flow.ValidationRule{Pattern: `^\d+$`}))
	assert.Error(t, schema.CheckRule(flow.ValidationRule{Type: "quaternion"}))
	assert.Error(t, schema.CheckRule(flow.ValidationRule{Pattern: `([`}))
}
