package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/audit"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// PipelineURI is the resource describing the step pipeline.
const PipelineURI = "convengine://pipeline"

// Engine is the engine surface exposed as MCP tools.
type Engine interface {
	ports.TurnProcessor
	Describe() []ports.StepInfo
	Stats() audit.Stats
}

// TurnResponse is the structured result of process_turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id" jsonschema_description:"Conversation to pass on the next turn"`
	Intent         string `json:"intent,omitempty" jsonschema_description:"Intent after the turn"`
	State          string `json:"state,omitempty" jsonschema_description:"Dialogue state after the turn"`
	Payload        any    `json:"payload,omitempty" jsonschema_description:"Reply produced by the rules"`
}

// Server exposes an engine as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// NewServer creates an MCP server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("convengine-mcp", strings.TrimSpace(convengine.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves JSON-RPC over in and out until ctx is done or in is closed.
// Nothing else may write to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// SSEHandler serves the SSE transport on /sse and /message. baseURL is the
// address clients reach the handler on.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	return mux
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("process_turn",
		mcp.WithDescription("Send one user message to a conversation and return the reply. Omit conversation_id to start a new conversation."),
		mcp.WithString("text", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("conversation_id", mcp.Description("Conversation to continue (optional)")),
		mcp.WithString("input_params", mcp.Description("JSON object of input parameters (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleProcessTurn))

	s.mcpServer.AddTool(mcp.NewTool("describe_pipeline",
		mcp.WithDescription("List the pipeline steps in execution order with their ordering constraints."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(s.engine.Describe())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("describe failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("audit_stats",
		mcp.WithDescription("Report audit counters: dispatched, dropped and rate limited events."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(s.engine.Stats())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})
}

func (s *Server) handleProcessTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return TurnResponse{}, fmt.Errorf("text is required")
	}
	turn := ports.Turn{Text: text}
	turn.ConversationID, _ = args["conversation_id"].(string)

	if raw, ok := args["input_params"].(string); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &turn.InputParams); err != nil {
			return TurnResponse{}, fmt.Errorf("input_params must be a JSON object: %w", err)
		}
	}

	res, err := s.engine.Process(ctx, turn)
	if err != nil {
		s.logger.Warn("mcp turn failed", "conversation_id", turn.ConversationID, "error", err)
		return TurnResponse{}, err
	}
	return TurnResponse{
		ConversationID: res.ConversationID,
		Intent:         res.Intent,
		State:          res.State,
		Payload:        res.Payload,
	}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(PipelineURI, "Step pipeline",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(s.engine.Describe())
		if err != nil {
			return nil, fmt.Errorf("failed to describe pipeline: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      PipelineURI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	})
}
