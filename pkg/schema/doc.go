// Package schema validates conversational answers against declared
// types and rules.
//
// Question nodes declare a data_type ("string", "int", "float",
// "bool", "[string]"...), an optional allowed_values set, and an
// optional named validator resolved through the flow's validations map.
// The runtime applies all three before an answer is recorded; failures
// aggregate so the user sees every problem at once.
//
//	err := schema.ValidateAnswer(node, flowRules, value)
//	for _, e := range schema.ValidationErrors(err) { ... }
//
// The type system is deliberately closed: a flow naming an unsupported
// data_type fails at compile time, not mid-conversation.
package schema
