package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/claude/njktraining/internal/access"
	"github.com/claude/njktraining/internal/catalog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("NJK Training", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("NJK Training workout server. Read workout programs, time estimates, mentor students and session history. All data is scoped to the authenticated user; student programs require a mentor relationship."),
	)

	h := newHandlers(ds, log)

	s.AddTools(
		server.ServerTool{Tool: toolGetProgram, Handler: h.getProgram},
		server.ServerTool{Tool: toolEstimateProgram, Handler: h.estimateProgram},
		server.ServerTool{Tool: toolListStudents, Handler: h.listStudents},
		server.ServerTool{Tool: toolGetStudentProgram, Handler: h.getStudentProgram},
		server.ServerTool{Tool: toolGetHistory, Handler: h.getHistory},
	)

	s.AddResources(
		server.ServerResource{Resource: resCatalog, Handler: h.catalogResource},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds   DataSource
	gate *access.Gate
	log  *slog.Logger
}

func newHandlers(ds DataSource, log *slog.Logger) *handlers {
	return &handlers{ds: ds, gate: access.NewGate(ds), log: log}
}

var resCatalog = mcp.NewResource(
	"njktraining://catalog",
	"Built-in Catalogs",
	mcp.WithResourceDescription("The built-in workout catalogs with a time estimate for every workout"),
	mcp.WithMIMEType("application/json"),
)

func (h *handlers) catalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out := map[string]any{}
	for _, name := range catalog.Names() {
		c, err := catalog.Load(name)
		if err != nil {
			return nil, err
		}
		out[name] = summarize(c)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
