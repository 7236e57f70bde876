// Package ollama implements the LLM collaborator on a local Ollama
// server's chat API. Responses are requested in JSON format and decoded
// strictly; anything unparseable is an error, which the engine treats
// as a failed attempt and retries or falls back deterministically.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/palaverhq/palaver/pkg/ports"
)

// Client calls an Ollama server.
type Client struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	temperature float64
}

var _ ports.LLMClient = &Client{}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTemperature sets the sampling temperature. Classification wants
// it low; the default is 0.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// New creates a client for the given server and model.
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Format:  "json",
		Options: &chatOptions{Temperature: c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Message.Content, nil
}

const classifySystem = `You route a conversation by picking exactly one candidate.
Answer with a JSON object: {"choice": "<candidate key>", "confidence": <0..1>}.
The choice MUST be one of the listed keys. Use the descriptions to match the user's intent.`

// Classify asks the model to pick one candidate key.
func (c *Client) Classify(ctx context.Context, req ports.ClassifyRequest) (ports.Classification, error) {
	var sb strings.Builder
	if req.Prompt != "" {
		fmt.Fprintf(&sb, "Question: %s\n", req.Prompt)
	}
	fmt.Fprintf(&sb, "User said: %q\n\nCandidates:\n", req.UserText)
	for _, cand := range req.Candidates {
		fmt.Fprintf(&sb, "- key: %s", cand.Key)
		if cand.Label != "" && cand.Label != cand.Key {
			fmt.Fprintf(&sb, " (label: %s)", cand.Label)
		}
		if cand.Description != "" {
			fmt.Fprintf(&sb, " — %s", cand.Description)
		}
		if cand.Weight != 0 {
			fmt.Fprintf(&sb, " [weight %.2f]", cand.Weight)
		}
		sb.WriteString("\n")
	}
	if len(req.Context) > 0 {
		answers, _ := json.Marshal(req.Context)
		fmt.Fprintf(&sb, "\nKnown answers: %s\n", answers)
	}

	content, err := c.chat(ctx, classifySystem, sb.String())
	if err != nil {
		return ports.Classification{}, err
	}

	var cls ports.Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return ports.Classification{}, fmt.Errorf("model returned non-JSON classification: %w", err)
	}
	if cls.Choice == "" {
		return ports.Classification{}, fmt.Errorf("model returned empty choice")
	}
	return cls, nil
}

const extractSystem = `You extract a single answer value from the user's message.
Answer with a JSON object: {"value": <extracted value>, "unknown": <true if the message does not answer the question>}.
Return the bare value, not a sentence.`

// ExtractAnswer asks the model to pull a typed value out of free text.
func (c *Client) ExtractAnswer(ctx context.Context, req ports.ExtractRequest) (ports.Extraction, error) {
	var sb strings.Builder
	if req.Prompt != "" {
		fmt.Fprintf(&sb, "Question: %s\n", req.Prompt)
	}
	fmt.Fprintf(&sb, "Field: %s\n", req.Key)
	if req.DataType != "" {
		fmt.Fprintf(&sb, "Expected type: %s\n", req.DataType)
	}
	if len(req.AllowedValues) > 0 {
		fmt.Fprintf(&sb, "Allowed values: %s\n", strings.Join(req.AllowedValues, ", "))
	}
	fmt.Fprintf(&sb, "User said: %q\n", req.UserText)

	content, err := c.chat(ctx, extractSystem, sb.String())
	if err != nil {
		return ports.Extraction{}, err
	}

	var ext ports.Extraction
	if err := json.Unmarshal([]byte(content), &ext); err != nil {
		return ports.Extraction{}, fmt.Errorf("model returned non-JSON extraction: %w", err)
	}
	if ext.Value == nil {
		ext.Unknown = true
	}
	return ext, nil
}
