// Package engine abstracts the language model that writes agent replies.
// Backends: a local Ollama server, OpenRouter and Google Gemini.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Role values used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call. System carries the composed,
// governance-finalized prompt.
type Request struct {
	Model    string
	System   string
	Messages []Message
}

// Completer produces the agent reply for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Prober reports whether a backend is reachable. Used by `pachai status`.
type Prober interface {
	IsRunning(ctx context.Context) bool
}

// Backend names accepted by New.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
	BackendGemini     = "gemini"
)

// Config selects and configures a backend.
type Config struct {
	Backend          string
	OllamaBaseURL    string
	OpenRouterAPIKey string
	OpenRouterURL    string
	GeminiAPIKey     string
}

// New returns the Completer named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendOllama:
		return NewOllama(cfg.OllamaBaseURL), nil
	case BackendOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter backend requires openrouter.api_key")
		}
		if cfg.OpenRouterURL != "" {
			return NewOpenRouterWithBaseURL(cfg.OpenRouterAPIKey, cfg.OpenRouterURL), nil
		}
		return NewOpenRouter(cfg.OpenRouterAPIKey), nil
	case BackendGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini backend requires gemini.api_key")
		}
		return NewGemini(ctx, cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// withSystem prepends the system prompt as a message for chat-style APIs.
func withSystem(req Request) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	return append(msgs, req.Messages...)
}
