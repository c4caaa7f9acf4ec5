// Package search provides the optional external search capability and the
// confirmed-only Context that carries its results into a turn.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/kalambet/pachai/internal/domain"
)

// Result is a single external reference.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	URL     string `json:"url"`
}

// Capability performs a search. Implementations return an empty slice on
// failure rather than an error the turn must handle.
type Capability interface {
	Search(ctx context.Context, query string) []Result
}

// Context holds search results for a single turn. It is never cached or
// persisted. A Context built outside Confirm is treated as unconfirmed by
// governance and removed from the turn.
type Context struct {
	Query      string    `json:"query"`
	Results    []Result  `json:"results"`
	ExecutedAt time.Time `json:"executed_at"`

	conversationID string
	confirmed      bool
}

// Confirmation is the user's explicit go-ahead for a search.
type Confirmation struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	UserConfirmed  bool   `json:"user_confirmed"`
}

// Validate checks the confirmation without running the search.
func (c Confirmation) Validate() error {
	if !c.UserConfirmed {
		return domain.Invalid("user_confirmed", "search requires explicit user confirmation")
	}
	if strings.TrimSpace(c.Query) == "" {
		return domain.Invalid("query", "must not be empty")
	}
	if c.ConversationID == "" {
		return domain.Invalid("conversation_id", "must not be empty")
	}
	return nil
}

// Confirm runs the search and returns a confirmed Context bound to the
// conversation. It is the only constructor of a confirmed Context.
func Confirm(ctx context.Context, capability Capability, c Confirmation) (*Context, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(c.Query)

	results := capability.Search(ctx, query)
	if results == nil {
		results = []Result{}
	}
	return &Context{
		Query:          query,
		Results:        results,
		ExecutedAt:     time.Now().UTC(),
		conversationID: c.ConversationID,
		confirmed:      true,
	}, nil
}

// Confirmed reports whether the Context came from an explicit confirmation.
func (c *Context) Confirmed() bool {
	return c != nil && c.confirmed
}

// ConversationID returns the conversation the confirmation was bound to.
func (c *Context) ConversationID() string {
	if c == nil {
		return ""
	}
	return c.conversationID
}

// Disabled is a Capability that never returns results.
type Disabled struct{}

func (Disabled) Search(context.Context, string) []Result { return []Result{} }
