// Package mcp exposes flow inspection and modification as MCP tools,
// so an agent can read, validate, and edit flow definitions over the
// Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/palaverhq/palaver"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/modify"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Engine is the slice of the facade the MCP layer needs.
type Engine interface {
	Validate(ctx context.Context, flowID string) ([]compiler.Diagnostic, error)
	Modifier() *modify.Service
	Repository() ports.FlowRepository
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server over the engine.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("palaver-mcp", strings.TrimSpace(palaver.Version)),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE, shutting
// down gracefully when ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

// ValidationResult is the structured output of validate_flow.
type ValidationResult struct {
	Valid       bool                  `json:"valid" jsonschema_description:"Whether the flow compiles"`
	Diagnostics []compiler.Diagnostic `json:"diagnostics,omitempty" jsonschema_description:"Errors and warnings found"`
}

func (s *Server) registerTools() {
	// TOOL: get_flow
	getTool := mcp.NewTool("get_flow",
		mcp.WithDescription("Get the current definition and version of a flow."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
	)
	s.mcpServer.AddTool(getTool, s.handleGetFlow)

	// TOOL: validate_flow
	validateTool := mcp.NewTool("validate_flow",
		mcp.WithDescription("Compile a flow and report diagnostics without changing anything."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
		mcp.WithOutputSchema[ValidationResult](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidateFlow))

	// TOOL: apply_batch
	batchTool := mcp.NewTool("apply_batch",
		mcp.WithDescription("Apply a batch of modification actions to a flow. The batch is atomic: any invalid action or compile failure discards all of it."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow to modify")),
		mcp.WithString("actions", mcp.Required(), mcp.Description("JSON array of actions, e.g. [{\"type\":\"add_node\",\"params\":{...}}]")),
		mcp.WithString("change_description", mcp.Description("Audit description stored with the new version")),
		mcp.WithNumber("base_version", mcp.Description("Version the edit was authored against; a stale base is rejected")),
		mcp.WithBoolean("dry_run", mcp.Description("Validate the batch without committing")),
	)
	s.mcpServer.AddTool(batchTool, s.handleApplyBatch)

	// TOOL: list_versions
	versionsTool := mcp.NewTool("list_versions",
		mcp.WithDescription("List the version history of a flow."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("The ID of the flow")),
	)
	s.mcpServer.AddTool(versionsTool, s.handleListVersions)
}

func (s *Server) handleGetFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := request.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	def, version, err := s.engine.Repository().Load(ctx, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}

	payload, err := json.Marshal(map[string]any{"version": version, "flow": def})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleValidateFlow(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (ValidationResult, error) {
	flowID, _ := args["flow_id"].(string)
	if flowID == "" {
		return ValidationResult{}, fmt.Errorf("flow_id is required")
	}

	diags, err := s.engine.Validate(ctx, flowID)
	if err != nil {
		// Compile failures come back with their diagnostics attached;
		// anything else (unknown flow) is a hard error.
		if len(diags) == 0 {
			return ValidationResult{}, err
		}
		return ValidationResult{Valid: false, Diagnostics: diags}, nil
	}
	return ValidationResult{Valid: true, Diagnostics: diags}, nil
}

func (s *Server) handleApplyBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := request.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actionsJSON, err := request.RequireString("actions")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var actions []modify.Action
	if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid actions JSON: %v", err)), nil
	}

	opts := modify.BatchOptions{
		ChangeDescription: request.GetString("change_description", ""),
		CreatedBy:         "mcp",
		BaseVersion:       int64(request.GetFloat("base_version", 0)),
		DryRun:            request.GetBool("dry_run", false),
	}

	result, err := s.engine.Modifier().ApplyBatch(ctx, flowID, actions, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("batch rejected: %v", err)), nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleListVersions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := request.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lister, ok := s.engine.Repository().(ports.VersionLister)
	if !ok {
		return mcp.NewToolResultError("repository does not support version listing"), nil
	}
	versions, err := lister.ListVersions(ctx, flowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	payload, err := json.Marshal(versions)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
