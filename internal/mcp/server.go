// Package mcp exposes the memory service over the Model Context Protocol.
// Tools are consolidated by concern, each taking an operation enum plus an
// options object, so MCP clients see a small stable tool surface.
package mcp

import (
	"context"
	"errors"

	"contextvault/internal/di"
	"contextvault/internal/logging"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/server"
	"github.com/fredcamaral/gomcp-sdk/transport"
)

const (
	serverName    = "contextvault"
	serverVersion = "1.0.0"
)

// Server wires the memory service into an MCP server over stdio.
type Server struct {
	container *di.Container
	mcpServer *server.Server
	logger    logging.Logger
}

// NewServer builds the MCP server and registers every tool.
func NewServer(container *di.Container) (*Server, error) {
	mcpServer := mcp.NewServer(serverName, serverVersion)
	if mcpServer == nil {
		return nil, errors.New("failed to create MCP server instance")
	}
	s := &Server{
		container: container,
		mcpServer: mcpServer,
		logger:    container.Logger.WithComponent("mcp"),
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.Server {
	return s.mcpServer
}

// Serve attaches the stdio transport and blocks until the context ends.
// Stdout carries JSON-RPC only; all logging goes to stderr.
func (s *Server) Serve(ctx context.Context) error {
	s.mcpServer.SetTransport(transport.NewStdioTransport())
	s.logger.InfoContext(ctx, "mcp server starting", "transport", "stdio")
	return s.mcpServer.Start(ctx)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"memory_process",
		"Run a developer-AI conversation exchange through the auto-storage pipeline: analyze it, check for duplicates, and either store it, raise a suggestion, or drop it. Use 'check_duplicate' for a dry run that only reports similar stored memories.",
		mcp.ObjectSchema("Processing parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"process_conversation", "suggest", "analyze", "check_duplicate"},
				"description": "'process_conversation' runs the full pipeline; 'suggest' does the same but can auto-approve a raised suggestion; 'analyze' returns the analysis without writing; 'check_duplicate' only reports similar memories",
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"user_message": map[string]interface{}{"type": "string", "description": "The developer's message"},
					"ai_response":  map[string]interface{}{"type": "string", "description": "The assistant's reply"},
					"tool_name":    map[string]interface{}{"type": "string", "description": "Client tool identifier, e.g. 'cursor' or 'claude'"},
					"content":      map[string]interface{}{"type": "string", "description": "Content to check (check_duplicate only)"},
					"category":     map[string]interface{}{"type": "string", "description": "Category hint (check_duplicate only)"},
					"auto_approve": map[string]interface{}{"type": "boolean", "description": "Resolve a raised suggestion immediately (suggest only)"},
				},
			},
		}, []string{"operation", "options"}),
	), mcp.ToolHandlerFunc(s.handleProcess))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_store",
		"Store content explicitly, bypassing analysis. The content is always kept, indexed for search, and enriched with project detection and tags.",
		mcp.ObjectSchema("Store parameters", map[string]interface{}{
			"content":    map[string]interface{}{"type": "string", "description": "The content to remember"},
			"tool_name":  map[string]interface{}{"type": "string", "description": "Client tool identifier"},
			"tags":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"project_id": map[string]interface{}{"type": "string", "description": "Optional project to attach the memory to"},
			"metadata":   map[string]interface{}{"type": "object", "additionalProperties": true},
		}, []string{"content"}),
	), mcp.ToolHandlerFunc(s.handleStore))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_search",
		"Retrieve stored memories: ranked hybrid search, recent history per tool, a single memory by id, linked memories, or a context block grouped by category ready for prompt injection.",
		mcp.ObjectSchema("Search parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"search", "get", "get_history", "browse_recent", "browse_category", "find_related", "enhanced_context"},
				"description": "'search' = ranked query; 'get' = one memory by id; 'get_history' = newest per tool; 'browse_recent' = chronological window; 'browse_category' = all memories of one category; 'find_related' = linked memories; 'enhanced_context' = grouped context block",
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"query":     map[string]interface{}{"type": "string"},
					"mode":      map[string]interface{}{"type": "string", "enum": []string{"semantic", "keyword", "hybrid"}},
					"limit":     map[string]interface{}{"type": "integer"},
					"id":        map[string]interface{}{"type": "string"},
					"tool_name": map[string]interface{}{"type": "string"},
					"category":  map[string]interface{}{"type": "string"},
					"project":   map[string]interface{}{"type": "string"},
					"since":     map[string]interface{}{"type": "string", "description": "RFC3339 lower bound on timestamp"},
					"hours":     map[string]interface{}{"type": "integer", "description": "Trailing window in hours (browse_recent only, default 24)"},
					"auto_stored_only": map[string]interface{}{"type": "boolean", "description": "Only memories stored automatically by the analyzer"},
					"min_confidence":   map[string]interface{}{"type": "number", "description": "Lower bound on analysis confidence"},
				},
			},
		}, []string{"operation", "options"}),
	), mcp.ToolHandlerFunc(s.handleSearch))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_update",
		"Modify stored memories: edit content, change the category, or run a bulk operation (delete, add_tags, remove_tags, update_category, export) over a list of ids.",
		mcp.ObjectSchema("Update parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"edit", "update_category", "bulk"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"id":       map[string]interface{}{"type": "string"},
					"content":  map[string]interface{}{"type": "string"},
					"category": map[string]interface{}{"type": "string"},
					"bulk_operation": map[string]interface{}{
						"type": "string",
						"enum": []string{"delete", "add_tags", "remove_tags", "update_category", "export"},
					},
					"ids":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"tags": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
			},
		}, []string{"operation", "options"}),
	), mcp.ToolHandlerFunc(s.handleUpdate))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_delete",
		"Delete one stored memory by id. Deleting an absent or already-deleted id returns a not-found error.",
		mcp.ObjectSchema("Delete parameters", map[string]interface{}{
			"id": map[string]interface{}{"type": "string"},
		}, []string{"id"}),
	), mcp.ToolHandlerFunc(s.handleDelete))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_suggestions",
		"Work with pending storage suggestions: list them, approve one (optionally with edited content), or reject one. Approval and rejection feed the learning engine.",
		mcp.ObjectSchema("Suggestion parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"list", "approve", "reject"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"id":               map[string]interface{}{"type": "string"},
					"status":           map[string]interface{}{"type": "string", "enum": []string{"pending", "approved", "rejected"}},
					"modified_content": map[string]interface{}{"type": "string", "description": "Edited content to store instead of the suggested text"},
					"tags":             map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Extra tags to attach on approval"},
					"reason":           map[string]interface{}{"type": "string", "description": "Why the suggestion was rejected"},
				},
			},
		}, []string{"operation"}),
	), mcp.ToolHandlerFunc(s.handleSuggestions))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_feedback",
		"Submit feedback about a stored memory or suggestion. Feedback adjusts the per-category auto-store thresholds over time.",
		mcp.ObjectSchema("Feedback parameters", map[string]interface{}{
			"type": map[string]interface{}{
				"type": "string",
				"enum": []string{"approval", "rejection", "modification", "preference_update", "positive", "negative"},
			},
			"target_id": map[string]interface{}{"type": "string"},
			"original":  map[string]interface{}{"type": "string"},
			"corrected": map[string]interface{}{"type": "string"},
			"category":  map[string]interface{}{"type": "string"},
			"context":   map[string]interface{}{"type": "object", "additionalProperties": true},
		}, []string{"type", "target_id"}),
	), mcp.ToolHandlerFunc(s.handleFeedback))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_projects",
		"Manage projects: create, get by id or name, list, or delete. Deleting a project detaches its memories instead of removing them.",
		mcp.ObjectSchema("Project parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"create", "get", "list", "delete"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"id":          map[string]interface{}{"type": "string"},
					"name":        map[string]interface{}{"type": "string"},
					"path":        map[string]interface{}{"type": "string"},
					"description": map[string]interface{}{"type": "string"},
				},
			},
		}, []string{"operation"}),
	), mcp.ToolHandlerFunc(s.handleProjects))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_preferences",
		"Manage user preferences: set, get, list, or delete. Keys prefixed 'config.' override runtime settings such as the auto-store threshold on the next request.",
		mcp.ObjectSchema("Preference parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"set", "get", "list", "delete"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"key":      map[string]interface{}{"type": "string"},
					"value":    map[string]interface{}{"description": "Any JSON value"},
					"category": map[string]interface{}{"type": "string", "description": "Preference namespace, defaults to 'general'"},
				},
			},
		}, []string{"operation"}),
	), mcp.ToolHandlerFunc(s.handlePreferences))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_sessions",
		"Analyze work sessions: cluster conversations in a time range into sessions with themes and problem-solution pairs, or persist a session summary memory linked to its members.",
		mcp.ObjectSchema("Session parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"analyze", "create_summary"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"from":      map[string]interface{}{"type": "string", "description": "RFC3339 range start"},
					"to":        map[string]interface{}{"type": "string", "description": "RFC3339 range end"},
					"tool_name": map[string]interface{}{"type": "string"},
				},
			},
		}, []string{"operation", "options"}),
	), mcp.ToolHandlerFunc(s.handleSessions))

	s.mcpServer.AddTool(mcp.NewTool(
		"memory_system",
		"Operate the service itself: statistics, health, integrity check, retention cleanup, storage compaction, and runtime config reload.",
		mcp.ObjectSchema("System parameters", map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"statistics", "health", "check_integrity", "apply_retention", "vacuum", "reload_config"},
			},
			"options": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]interface{}{
					"auto_fix": map[string]interface{}{"type": "boolean", "description": "Fix safe integrity issues in place (check_integrity only)"},
				},
			},
		}, []string{"operation"}),
	), mcp.ToolHandlerFunc(s.handleSystem))
}
