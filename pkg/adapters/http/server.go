// Package http exposes the engine over a JSON REST API.
//
// Routes:
//
//	POST   /sessions/{sessionID}/turn   process one conversational event
//	GET    /sessions/{sessionID}        inspect session state
//	DELETE /sessions/{sessionID}        end a session
//	GET    /flows/{flowID}              current flow definition and version
//	GET    /flows/{flowID}/graph        mermaid rendering of the compiled flow
//	POST   /flows/{flowID}/batch        apply a modification batch
//	GET    /flows/{flowID}/versions     version history (if supported)
//	GET    /health
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/palaverhq/palaver"
	"github.com/palaverhq/palaver/internal/logging"
	"github.com/palaverhq/palaver/internal/presentation/graph"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/modify"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Engine is the slice of the facade the HTTP layer needs.
type Engine interface {
	Turn(ctx context.Context, sessionID, flowID string, ev palaver.Event) (*palaver.Output, error)
	Session(ctx context.Context, sessionID string) (*flow.FlowContext, error)
	EndSession(ctx context.Context, sessionID string) error
	Flow(ctx context.Context, flowID string) (*compiler.CompiledFlow, int64, error)
	Modifier() *modify.Service
	Repository() ports.FlowRepository
}

// Server routes HTTP requests onto the engine.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler builds the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/sessions/{sessionID}/turn", s.handleTurn)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Delete("/sessions/{sessionID}", s.handleEndSession)
	r.Get("/flows/{flowID}", s.handleGetFlow)
	r.Get("/flows/{flowID}/graph", s.handleGraph)
	r.Post("/flows/{flowID}/batch", s.handleBatch)
	r.Get("/flows/{flowID}/versions", s.handleListVersions)
	r.Get("/health", s.handleHealth)
	return r
}

// TurnRequest is the POST /sessions/{id}/turn body. Event selects the
// variant; the remaining fields apply to the variants that use them.
type TurnRequest struct {
	FlowID string `json:"flow_id"`
	Event  string `json:"event"`

	Value   any            `json:"value,omitempty"`
	Text    string         `json:"text,omitempty"`
	Target  string         `json:"target,omitempty"`
	Key     string         `json:"key,omitempty"`
	Hint    string         `json:"hint,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	To      string         `json:"to,omitempty"`
	Answers map[string]any `json:"answers,omitempty"`
}

// TurnResponse pairs the engine output with the resulting session
// status.
type TurnResponse struct {
	Output *palaver.Output `json:"output"`
	Status flow.Status     `json:"status"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.FlowID == "" {
		s.error(w, http.StatusBadRequest, errors.New("flow_id is required"))
		return
	}

	ev, err := eventFromRequest(req)
	if err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.engine.Turn(r.Context(), sessionID, req.FlowID, ev)
	if err != nil {
		if errors.Is(err, ports.ErrFlowNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.logger.Error("turn failed", "session_id", sessionID, "error", err)
		s.error(w, http.StatusInternalServerError, err)
		return
	}

	fc, err := s.engine.Session(r.Context(), sessionID)
	status := flow.StatusActive
	if err == nil {
		status = fc.Status
	}
	s.respond(w, http.StatusOK, TurnResponse{Output: out, Status: status})
}

// eventFromRequest maps the wire event name onto a typed engine event.
func eventFromRequest(req TurnRequest) (palaver.Event, error) {
	switch req.Event {
	case "", "begin":
		return palaver.Begin{}, nil
	case "answer":
		return palaver.Answer{Value: req.Value}, nil
	case "unknown_answer":
		return palaver.UnknownAnswer{}, nil
	case "skip_question":
		return palaver.SkipQuestion{To: req.To}, nil
	case "revisit_question":
		return palaver.RevisitQuestion{Target: req.Target, Key: req.Key, Value: req.Value}, nil
	case "path_correction":
		return palaver.PathCorrection{Hint: req.Hint}, nil
	case "request_human_handoff":
		return palaver.RequestHumanHandoff{Reason: req.Reason}, nil
	case "provide_information":
		return palaver.ProvideInformation{Text: req.Text}, nil
	case "confirm_completion":
		return palaver.ConfirmCompletion{}, nil
	case "navigate_flow":
		return palaver.NavigateFlow{Target: req.Target}, nil
	case "update_answers":
		return palaver.UpdateAnswers{Answers: req.Answers}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", req.Event)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fc, err := s.engine.Session(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, fc)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.engine.EndSession(r.Context(), sessionID); err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FlowResponse is the GET /flows/{id} body.
type FlowResponse struct {
	Version int64      `json:"version"`
	Flow    *flow.Flow `json:"flow"`
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	def, version, err := s.engine.Repository().Load(r.Context(), flowID)
	if err != nil {
		if errors.Is(err, ports.ErrFlowNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, FlowResponse{Version: version, Flow: def})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	cf, _, err := s.engine.Flow(r.Context(), flowID)
	if err != nil {
		if errors.Is(err, ports.ErrFlowNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(graph.GenerateMermaid(cf, nil))); err != nil {
		s.logger.Error("response write failed", "error", err)
	}
}

// BatchRequest is the POST /flows/{id}/batch body.
type BatchRequest struct {
	Actions           []modify.Action `json:"actions"`
	BaseVersion       int64           `json:"base_version,omitempty"`
	ChangeDescription string          `json:"change_description,omitempty"`
	CreatedBy         string          `json:"created_by,omitempty"`
	DryRun            bool            `json:"dry_run,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	result, err := s.engine.Modifier().ApplyBatch(r.Context(), flowID, req.Actions, modify.BatchOptions{
		BaseVersion:       req.BaseVersion,
		ChangeDescription: req.ChangeDescription,
		CreatedBy:         req.CreatedBy,
		DryRun:            req.DryRun,
	})
	if err != nil {
		var batchErr *modify.BatchError
		switch {
		case errors.As(err, &batchErr):
			s.respond(w, http.StatusUnprocessableEntity, batchErr)
		case errors.Is(err, ports.ErrVersionConflict):
			s.error(w, http.StatusConflict, err)
		case errors.Is(err, ports.ErrFlowNotFound):
			s.error(w, http.StatusNotFound, err)
		default:
			s.error(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	lister, ok := s.engine.Repository().(ports.VersionLister)
	if !ok {
		s.error(w, http.StatusNotImplemented, errors.New("repository does not support version listing"))
		return
	}
	versions, err := lister.ListVersions(r.Context(), flowID)
	if err != nil {
		if errors.Is(err, ports.ErrFlowNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, versions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) error(w http.ResponseWriter, code int, err error) {
	s.respond(w, code, map[string]string{"error": err.Error()})
}
