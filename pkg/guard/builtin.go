package guard

import (
	"fmt"
	"strings"

	"github.com/palaverhq/palaver/pkg/flow"
)

// Built-in guard names. The compiler resolves edges without a guard to
// Always.
const (
	Always        = "always"
	AnswersHas    = "answers_has"
	AnswersEquals = "answers_equals"
	PathLocked    = "path_locked"
	DepsMissing   = "deps_missing"
)

func registerBuiltins(r *Registry) {
	r.Register(Always, func(*flow.FlowContext, map[string]any) (bool, error) {
		return true, nil
	})

	r.Register(AnswersHas, func(ctx *flow.FlowContext, args map[string]any) (bool, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return false, err
		}
		return ctx.HasAnswer(key), nil
	})

	r.Register(AnswersEquals, evalAnswersEquals)

	r.Register(PathLocked, func(ctx *flow.FlowContext, _ map[string]any) (bool, error) {
		return ctx.PathLocked && ctx.ActivePath != "", nil
	})

	// deps_missing drives "ask next unanswered" chooser nodes: true when
	// every listed dependency is answered but the target key still isn't.
	r.Register(DepsMissing, func(ctx *flow.FlowContext, args map[string]any) (bool, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return false, err
		}
		for _, dep := range stringSliceArg(args, "dependencies") {
			if !ctx.HasAnswer(dep) {
				return false, nil
			}
		}
		return !ctx.HasAnswer(key), nil
	})
}

func evalAnswersEquals(ctx *flow.FlowContext, args map[string]any) (bool, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return false, err
	}
	want, ok := args["value"]
	if !ok {
		return false, fmt.Errorf("answers_equals: missing value arg")
	}
	got, present := ctx.Answers[key]
	if !present {
		return false, nil
	}
	if got == want {
		return true, nil
	}

	// Fuzzy comparison only applies to text operands with a declared
	// candidate set.
	wantStr, wok := want.(string)
	gotStr, gok := got.(string)
	allowed := stringSliceArg(args, "allowed_values")
	if !wok || !gok || len(allowed) == 0 {
		return false, nil
	}

	wantCanon := ResolveCandidate(wantStr, allowed)
	gotCanon := ResolveCandidate(gotStr, allowed)
	return wantCanon != "" && wantCanon == gotCanon, nil
}

// ResolveCandidate maps free text onto one of the canonical candidates,
// or returns "" when nothing matches. A candidate matches when every
// token of its head segment (the part before any '/') appears in the
// text; ties resolve to the first candidate in declaration order.
func ResolveCandidate(text string, candidates []string) string {
	tokens := canonTokens(text)
	if len(tokens) == 0 {
		return ""
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	for _, cand := range candidates {
		head := cand
		if i := strings.IndexByte(head, '/'); i >= 0 {
			head = head[:i]
		}
		headTokens := canonTokens(head)
		if len(headTokens) == 0 {
			continue
		}
		all := true
		for _, ht := range headTokens {
			if !set[ht] {
				all = false
				break
			}
		}
		if all {
			return cand
		}
	}
	return ""
}

// canonTokens lowercases and splits on anything that is not a letter or
// digit.
func canonTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing %s arg", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s arg must be a non-empty string, got %T", name, v)
	}
	return s, nil
}

// stringSliceArg tolerates both []string and []any (JSON decoding
// produces the latter).
func stringSliceArg(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
