package middleware

import (
	"context"
	"regexp"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks answer values whose
// keys match any of the patterns before they reach the backing store.
// Masking covers the live answer map, parked parent answers of
// suspended subflow frames, and recorded turn inputs for matching
// pending fields.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

// maskedValue replaces matched answers in the persisted copy.
const maskedValue = "***"

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, fc *flow.FlowContext) error {
	// Clone so the engine's in-memory state is untouched.
	cloned := fc.Clone()

	maskMap(cloned.Answers, m.patterns)
	for _, frame := range cloned.Frames {
		maskMap(frame.ParentAnswers, m.patterns)
	}
	for i := range cloned.History {
		rec := &cloned.History[i]
		if rec.Input != "" && m.matchesNode(rec.NodeID) {
			rec.Input = maskedValue
		}
	}

	return m.next.Save(ctx, sessionID, cloned)
}

// matchesNode reports whether the node id itself looks sensitive. Turn
// inputs carry raw user text, so the node id is the only signal
// available at persistence time.
func (m *piiMiddleware) matchesNode(nodeID string) bool {
	for _, p := range m.patterns {
		if p.MatchString(nodeID) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*flow.FlowContext, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = maskedValue
				break
			}
		}

		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
