package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/audit"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MaxBodyBytes bounds the size of a turn request body.
const MaxBodyBytes = 1 << 20

// Engine is the engine surface the HTTP API exposes.
type Engine interface {
	ports.TurnProcessor
	Describe() []ports.StepInfo
	Stats() audit.Stats
}

// rulesStream is the Reloads key shared by every GET /v1/events client.
const rulesStream = "rules"

// Server serves the turn API.
type Server struct {
	Engine Engine
	// Streams carries turn results, keyed by conversation ID.
	Streams *StreamManager
	// Reloads carries rule table reloads under a single key.
	Reloads *StreamManager

	watcher ports.Watchable
	metrics http.Handler
	version string
	logger  *slog.Logger

	// watchMu guards watching. One watch on the rule source serves all
	// /v1/events clients; it starts with the first one.
	watchMu   sync.Mutex
	watching  bool
	watchCtx  context.Context
	stopWatch context.CancelFunc
}

// Option configures the handler built by NewHandler.
type Option func(*Server)

// WithRuleWatcher exposes rule reloads on GET /v1/events.
func WithRuleWatcher(w ports.Watchable) Option {
	return func(s *Server) { s.watcher = w }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// NewServer creates a Server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	s.Reloads = NewStreamManager(s.logger)
	s.watchCtx, s.stopWatch = context.WithCancel(context.Background())
	return s
}

// Close stops the shared rule watch and disconnects its subscribers.
func (s *Server) Close() {
	s.stopWatch()
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Handler()
}

// Handler builds the chi router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.PostTurn)
		r.Post("/conversations/{id}/turns", s.PostConversationTurn)
		r.Get("/conversations/{id}/events", s.SubscribeConversation)
		r.Get("/events", s.SubscribeRules)
		r.Get("/pipeline", s.GetPipeline)
		r.Get("/audit/stats", s.GetAuditStats)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TurnRequest is the body of POST /v1/conversations/{id}/turns.
type TurnRequest struct {
	Text        string         `json:"text"`
	InputParams map[string]any `json:"input_params,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// PostTurn handles POST /v1/turns. A blank conversation_id starts a new conversation.
func (s *Server) PostTurn(w http.ResponseWriter, r *http.Request) {
	var turn ports.Turn
	if !s.decode(w, r, &turn) {
		return
	}
	s.process(w, r, turn)
}

// PostConversationTurn handles POST /v1/conversations/{id}/turns.
func (s *Server) PostConversationTurn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if !s.decode(w, r, &body) {
		return
	}
	s.process(w, r, ports.Turn{
		ConversationID: chi.URLParam(r, "id"),
		Text:           body.Text,
		InputParams:    body.InputParams,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, turn ports.Turn) {
	if strings.TrimSpace(turn.Text) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: "text is required"})
		return
	}

	res, err := s.Engine.Process(r.Context(), turn)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("turn failed", "conversation_id", turn.ConversationID, "error", err)
		}
		writeJSON(w, status, body)
		return
	}

	if b, err := json.Marshal(res); err == nil {
		s.Streams.Broadcast(res.ConversationID, string(b))
	}
	writeJSON(w, http.StatusOK, res)
}

// errorResponse maps a turn error to a status code. Known engine errors are
// client-visible; anything else is reported as an internal error.
func errorResponse(err error) (int, ErrorResponse) {
	var engErr *domain.EngineError
	switch {
	case errors.As(err, &engErr):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Code:    string(engErr.Code),
			Message: engErr.Error(),
			Meta:    engErr.Meta,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: "TIMEOUT", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return 499, ErrorResponse{Code: "CANCELED", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "turn failed"}
	}
}

// GetPipeline handles GET /v1/pipeline.
func (s *Server) GetPipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"order": s.Engine.Order(),
		"steps": s.Engine.Describe(),
	})
}

// GetAuditStats handles GET /v1/audit/stats.
func (s *Server) GetAuditStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Stats())
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "convengine-http",
		"version": strings.TrimSpace(s.version),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are out; an encode failure means the client went away.
	_ = json.NewEncoder(w).Encode(v)
}

// SubscribeConversation handles GET /v1/conversations/{id}/events (SSE).
// Each turn result of the conversation is pushed as one data frame.
func (s *Server) SubscribeConversation(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("sse subscribe", "conversation_id", id)

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: turn\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// SubscribeRules handles GET /v1/events (SSE), signaling rule table reloads.
func (s *Server) SubscribeRules(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "rule source is not watchable"})
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}
	ch, cancel, err := s.subscribeRules()
	if err != nil {
		s.logger.Error("rule watch failed", "error", err)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err)
		flusher.Flush()
		return
	}
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: reload\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// subscribeRules joins the shared rule watch, starting it if needed. When
// the watch ends every subscriber is disconnected and the next one restarts it.
func (s *Server) subscribeRules() (<-chan string, func(), error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if !s.watching {
		events, err := s.watcher.Watch(s.watchCtx)
		if err != nil {
			return nil, nil, err
		}
		s.watching = true
		s.logger.Debug("rule watch started")
		go s.forwardReloads(events)
	}
	ch, cancel := s.Reloads.Subscribe(rulesStream)
	return ch, cancel, nil
}

func (s *Server) forwardReloads(events <-chan struct{}) {
	for range events {
		s.Reloads.Broadcast(rulesStream, "rules")
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watching = false
	s.Reloads.CloseAll(rulesStream)
	s.logger.Debug("rule watch stopped")
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}
