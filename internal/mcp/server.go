package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

type contextKey string

const (
	ctxKeyUserID     contextKey = "userId"
	ctxKeyClientName contextKey = "clientName"
)

// Server wires the orchestrator tools into an MCP server with an SSE
// transport. Connection identity (userId, clientName) comes from the
// connect URL and rides on the request context.
type Server struct {
	orchestrator *Orchestrator
	mcpServer    *server.MCPServer
	sse          *server.SSEServer
	logger       *zap.Logger
}

func NewServer(o *Orchestrator, version string, logger *zap.Logger) *Server {
	s := &Server{orchestrator: o, logger: logger}

	s.mcpServer = server.NewMCPServer("memforge", version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()

	s.sse = server.NewSSEServer(s.mcpServer,
		server.WithSSEContextFunc(connectionContext),
	)
	return s
}

// Handler returns the SSE transport for mounting on an HTTP router.
func (s *Server) Handler() http.Handler {
	return s.sse
}

// Shutdown stops the SSE transport.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.sse.Shutdown(ctx)
}

// connectionContext lifts userId and clientName off the connect URL so tool
// handlers are user-scoped for the lifetime of the connection.
func connectionContext(ctx context.Context, r *http.Request) context.Context {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = r.Header.Get("x-user-id")
	}
	client := q.Get("client")
	if client == "" {
		client = q.Get("client_name")
	}
	ctx = context.WithValue(ctx, ctxKeyUserID, userID)
	return context.WithValue(ctx, ctxKeyClientName, client)
}

func userFromContext(ctx context.Context) (userID, clientName string) {
	userID, _ = ctx.Value(ctxKeyUserID).(string)
	clientName, _ = ctx.Value(ctxKeyClientName).(string)
	return userID, clientName
}

func (s *Server) registerTools() {
	addTool := mcp.NewTool("add_memories",
		mcp.WithDescription("Store one or more statements as long-term memories. "+
			"Commands like 'forget X' or 'X is resolved' are routed to the matching mutation."),
		mcp.WithString("content",
			mcp.Description("A statement to remember, or a JSON array of statements."),
			mcp.Required(),
		),
		mcp.WithString("categories",
			mcp.Description("Comma-separated category names to attach explicitly."),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags to attach to stored memories."),
		),
		mcp.WithBoolean("suppress_auto_categories",
			mcp.Description("Skip automatic categorization. Defaults to true when categories are given."),
		),
	)
	s.mcpServer.AddTool(addTool, s.handleAddMemories)

	searchTool := mcp.NewTool("search_memory",
		mcp.WithDescription("Search memories by relevance, or browse them chronologically when no query is given."),
		mcp.WithString("query",
			mcp.Description("Free-text query. Omit to browse."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results. Defaults to 10 for search, 50 for browse (cap 200)."),
		),
		mcp.WithNumber("offset",
			mcp.Description("Browse-mode pagination offset."),
		),
		mcp.WithString("category",
			mcp.Description("Only return memories in this category."),
		),
		mcp.WithString("created_after",
			mcp.Description("Only return memories created after this ISO timestamp."),
		),
		mcp.WithString("tag",
			mcp.Description("Only return memories carrying this tag."),
		),
		mcp.WithBoolean("include_entities",
			mcp.Description("Enrich search results with matching entities and their relationships."),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearchMemory)
}

func (s *Server) handleAddMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, clientName := userFromContext(ctx)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required on the connection URL"), nil
	}

	args := req.GetArguments()
	items, err := parseContent(args["content"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	addReq := AddMemoriesRequest{
		Items:      items,
		Categories: splitCSV(req.GetString("categories", "")),
		Tags:       splitCSV(req.GetString("tags", "")),
	}
	if v, ok := args["suppress_auto_categories"].(bool); ok {
		addReq.SuppressAutoCategories = &v
	}

	out := s.orchestrator.AddMemories(ctx, userID, clientName, addReq)
	return jsonResult(out)
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, clientName := userFromContext(ctx)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required on the connection URL"), nil
	}

	searchReq := SearchMemoryRequest{
		Query:           strings.TrimSpace(req.GetString("query", "")),
		Limit:           req.GetInt("limit", 0),
		Offset:          req.GetInt("offset", 0),
		Category:        req.GetString("category", ""),
		Tag:             req.GetString("tag", ""),
		IncludeEntities: req.GetBool("include_entities", false),
	}
	if raw := req.GetString("created_after", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("created_after must be an ISO timestamp"), nil
		}
		searchReq.CreatedAfter = &t
	}

	out, err := s.orchestrator.SearchMemory(ctx, userID, clientName, searchReq)
	if err != nil {
		s.logger.Error("search_memory failed", zap.Error(err))
		return mcp.NewToolResultError("search failed: " + err.Error()), nil
	}
	return jsonResult(out)
}

// parseContent accepts a plain string, a JSON array literal, or a
// structured array argument.
func parseContent(v any) ([]string, error) {
	switch c := v.(type) {
	case string:
		trimmed := strings.TrimSpace(c)
		if strings.HasPrefix(trimmed, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
				return arr, nil
			}
		}
		if trimmed == "" {
			return nil, errContentRequired
		}
		return []string{c}, nil
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			s, ok := item.(string)
			if !ok {
				return nil, errContentRequired
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, errContentRequired
		}
		return out, nil
	default:
		return nil, errContentRequired
	}
}

var errContentRequired = &toolError{"content must be a string or an array of strings"}

type toolError struct{ msg string }

func (e *toolError) Error() string { return e.msg }

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
