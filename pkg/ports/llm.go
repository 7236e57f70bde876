package ports

import "context"

// Candidate is one option presented to the LLM for classification:
// an edge target (or path key) plus the natural-language hints the flow
// author attached to it.
type Candidate struct {
	Key         string  `json:"key"`
	Label       string  `json:"label,omitempty"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// ClassifyRequest asks the LLM to choose among candidates given the
// conversation so far.
type ClassifyRequest struct {
	Prompt     string         `json:"prompt"`
	UserText   string         `json:"user_text"`
	Candidates []Candidate    `json:"candidates"`
	Context    map[string]any `json:"context,omitempty"`
}

// Classification is the LLM's choice. Choice must be one of the
// candidate keys; the engine rejects anything else and falls back to
// guard routing.
type Classification struct {
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"`
}

// ExtractRequest asks the LLM to pull a typed answer out of free text.
type ExtractRequest struct {
	Prompt        string   `json:"prompt"`
	UserText      string   `json:"user_text"`
	Key           string   `json:"key"`
	DataType      string   `json:"data_type,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// Extraction is the extracted value; Unknown is set when the text does
// not answer the question.
type Extraction struct {
	Value   any  `json:"value,omitempty"`
	Unknown bool `json:"unknown,omitempty"`
}

// LLMClient is the narrow interface the engine uses for ambiguous
// branching and answer interpretation. Engine control flow never
// depends on a concrete SDK type; tests inject a scripted double.
type LLMClient interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
	ExtractAnswer(ctx context.Context, req ExtractRequest) (Extraction, error)
}
