package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaverhq/palaver"
	httpapi "github.com/palaverhq/palaver/pkg/adapters/http"
	"github.com/palaverhq/palaver/pkg/adapters/memory"
	"github.com/palaverhq/palaver/pkg/flow"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	f := flow.NewBuilder("intake").
		Entry("ask_name").
		Question("ask_name", "name", "What is your name?").
		Question("ask_topic", "topic", "What do you need help with?").
		Terminal("done", "intake_complete", true).
		Edge("ask_name", "ask_topic").
		Edge("ask_topic", "done").
		Build()

	repo := memory.NewRepository()
	repo.Put(f)

	eng, err := palaver.New(repo)
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewHandler(eng))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeTurn(t *testing.T, resp *http.Response) httpapi.TurnResponse {
	t.Helper()
	defer resp.Body.Close()
	var tr httpapi.TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	return tr
}

func TestTurnEndpointRunsConversation(t *testing.T) {
	srv := newTestServer(t)
	turnURL := srv.URL + "/sessions/s1/turn"

	resp := postJSON(t, turnURL, httpapi.TurnRequest{FlowID: "intake", Event: "begin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeTurn(t, resp)
	assert.Equal(t, "What is your name?", tr.Output.Prompt)
	assert.Equal(t, flow.StatusActive, tr.Status)

	resp = postJSON(t, turnURL, httpapi.TurnRequest{FlowID: "intake", Event: "answer", Value: "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr = decodeTurn(t, resp)
	assert.Equal(t, "What do you need help with?", tr.Output.Prompt)

	resp = postJSON(t, turnURL, httpapi.TurnRequest{FlowID: "intake", Event: "answer", Value: "billing"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr = decodeTurn(t, resp)
	assert.True(t, tr.Output.Completed)
	assert.Equal(t, "intake_complete", tr.Output.Reason)
	assert.Equal(t, flow.StatusCompleted, tr.Status)
}

func TestTurnEndpointRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t)
	turnURL := srv.URL + "/sessions/s1/turn"

	resp := postJSON(t, turnURL, map[string]string{"event": "begin"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, turnURL, httpapi.TurnRequest{FlowID: "intake", Event: "teleport"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, turnURL, httpapi.TurnRequest{FlowID: "nope", Event: "begin"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions/s1/turn", httpapi.TurnRequest{FlowID: "intake", Event: "begin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/sessions/s1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fc flow.FlowContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
	resp.Body.Close()
	assert.Equal(t, "ask_name", fc.CurrentNodeID)
	assert.Equal(t, "name", fc.PendingField)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/s1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/sessions/s1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestFlowEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/flows/intake")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fr httpapi.FlowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fr))
	resp.Body.Close()
	assert.Equal(t, int64(1), fr.Version)
	assert.Equal(t, "intake", fr.Flow.ID)

	resp, err = http.Get(srv.URL + "/flows/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGraphEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/flows/intake/graph")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "flowchart TD")
	assert.Contains(t, string(body), "ask_name")

	resp, err = http.Get(srv.URL + "/flows/missing/graph")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	batchURL := srv.URL + "/flows/intake/batch"

	body := map[string]any{
		"actions": []map[string]any{
			{
				"type": "add_node",
				"params": map[string]any{
					"id":     "ask_email",
					"kind":   "question",
					"key":    "email",
					"prompt": "What is your email?",
				},
			},
			{
				"type":   "add_edge",
				"params": map[string]any{"source": "ask_email", "target": "done"},
			},
			{
				"type":   "delete_edge",
				"params": map[string]any{"source": "ask_topic", "target": "done"},
			},
			{
				"type":   "add_edge",
				"params": map[string]any{"source": "ask_topic", "target": "ask_email"},
			},
		},
		"change_description": "collect email before closing",
	}
	resp := postJSON(t, batchURL, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		NewVersion int64 `json:"new_version"`
		Applied    int   `json:"applied"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, int64(2), result.NewVersion)
	assert.Equal(t, 4, result.Applied)

	// Invalid batch reports the failing action, nothing is committed.
	bad := map[string]any{
		"actions": []map[string]any{
			{"type": "delete_node", "params": map[string]any{"id": "no_such_node"}},
		},
	}
	resp = postJSON(t, batchURL, bad)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var batchErr struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batchErr))
	resp.Body.Close()
	assert.Equal(t, 0, batchErr.Index)
	assert.NotEmpty(t, batchErr.Reason)

	// Stale base version conflicts.
	stale := map[string]any{
		"actions": []map[string]any{
			{"type": "delete_edge", "params": map[string]any{"source": "ask_email", "target": "done"}},
		},
		"base_version": 1,
	}
	resp = postJSON(t, batchURL, stale)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	versions := srv.URL + "/flows/intake/versions"
	resp, err := http.Get(versions)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []struct {
		Version int64 `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[1].Version)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
