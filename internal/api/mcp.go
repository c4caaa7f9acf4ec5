package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/signals"
	"github.com/kalambet/pachai/internal/state"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	// Governance evaluates checks. Build it without an audit log unless
	// MCP checks should appear in the violation history.
	Governance *governance.Engine
}

// NewMCPServer creates an MCP server exposing the governance engine and the
// lexical detectors as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"pachai",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pachai checks prompts and responses against foundational veredicts and classifies product-discovery conversations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("check_prompt",
			mcp.WithDescription("Run the pre_prompt governance checkpoint on a system prompt and return the result with the injected rule section."),
			mcp.WithString("prompt", mcp.Description("System prompt to check"), mcp.Required()),
			mcp.WithString("last_user_message", mcp.Description("Most recent user message")),
		),
		mcpCheckPrompt(deps),
	)

	s.AddTool(
		mcp.NewTool("check_response",
			mcp.WithDescription("Run the advisory post_response checkpoint on a model response."),
			mcp.WithString("response", mcp.Description("Model response to check"), mcp.Required()),
			mcp.WithString("last_user_message", mcp.Description("Most recent user message")),
		),
		mcpCheckResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("infer_state",
			mcp.WithDescription("Infer the conversation tendency (exploration, clarification, convergence or pause) from its history."),
			mcp.WithString("messages", mcp.Description("JSON array of {role, content} message objects, oldest first"), mcp.Required()),
		),
		mcpInferState(),
	)

	s.AddTool(
		mcp.NewTool("detect_signals",
			mcp.WithDescription("Scan a user message for veredict, pause, closure and search signals."),
			mcp.WithString("message", mcp.Description("User message to scan"), mcp.Required()),
			mcp.WithString("messages", mcp.Description("Optional JSON array of earlier {role, content} messages")),
		),
		mcpDetectSignals(),
	)

	s.AddResource(
		mcp.NewResource(
			"governance://rules",
			"Foundational Veredicts",
			mcp.WithResourceDescription("Active foundational veredicts ordered by phase and priority"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRules(deps),
	)

	return s
}

func mcpCheckPrompt(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil || strings.TrimSpace(prompt) == "" {
			return mcpError("prompt is required"), nil
		}
		res := deps.Governance.Apply(ctx, governance.PhasePrePrompt, governance.Input{
			Prompt:          prompt,
			LastUserMessage: req.GetString("last_user_message", ""),
		})
		return mcpJSON(res), nil
	}
}

func mcpCheckResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		response, err := req.RequireString("response")
		if err != nil || strings.TrimSpace(response) == "" {
			return mcpError("response is required"), nil
		}
		res := deps.Governance.Apply(ctx, governance.PhasePostResponse, governance.Input{
			Response:        response,
			LastUserMessage: req.GetString("last_user_message", ""),
		})
		return mcpJSON(res), nil
	}
}

func mcpInferState() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("messages")
		if err != nil {
			return mcpError("messages is required"), nil
		}
		history, err := parseMessages(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(state.Infer(history, nil)), nil
	}
}

type signalReport struct {
	Veredict            signals.VeredictSignal `json:"veredict"`
	SearchIntent        *signals.SearchIntent  `json:"search_intent,omitempty"`
	ShouldPause         bool                   `json:"should_pause"`
	Closure             bool                   `json:"closure"`
	ShouldSuggestSearch bool                   `json:"should_suggest_search"`
	State               state.Tendency         `json:"state"`
}

func mcpDetectSignals() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}
		var history []domain.Message
		if raw := req.GetString("messages", ""); raw != "" {
			if history, err = parseMessages(raw); err != nil {
				return mcpError(err.Error()), nil
			}
		}
		history = append(history, domain.Message{Role: domain.RoleUser, Content: message})

		tendency := state.Infer(history, nil)
		users := domain.UserContents(history)
		return mcpJSON(signalReport{
			Veredict:            signals.DetectVeredictSignal(users),
			SearchIntent:        signals.DetectExplicitSearchIntent(message),
			ShouldPause:         signals.ShouldPauseConversation(message),
			Closure:             signals.IsClosureSignal(message),
			ShouldSuggestSearch: signals.ShouldSuggestSearch(tendency.Primary, strings.Join(users, " "), message),
			State:               tendency,
		}), nil
	}
}

func mcpResourceRules(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Governance.Rules(ctx))
		if err != nil {
			return nil, fmt.Errorf("marshalling rules: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// parseMessages decodes a JSON array of {role, content}. "assistant" is
// accepted as an alias for the agent role.
func parseMessages(raw string) ([]domain.Message, error) {
	var in []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("invalid messages JSON: %v", err)
	}
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		role := domain.Role(strings.ToLower(m.Role))
		if role == "assistant" {
			role = domain.RoleAgent
		}
		if role != domain.RoleUser && role != domain.RoleAgent {
			return nil, fmt.Errorf("invalid role %q", m.Role)
		}
		out = append(out, domain.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
