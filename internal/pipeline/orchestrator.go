// Package pipeline runs a single conversational turn end to end: lifecycle,
// signal detection, state inference, the four governance checkpoints, prompt
// composition and the model call.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pachai/internal/composer"
	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/engine"
	"github.com/kalambet/pachai/internal/governance"
	"github.com/kalambet/pachai/internal/lifecycle"
	"github.com/kalambet/pachai/internal/search"
	"github.com/kalambet/pachai/internal/signals"
	"github.com/kalambet/pachai/internal/state"
)

const defaultHistoryLimit = 50

// Store is the read side a turn needs. Implemented by storage.Store.
type Store interface {
	CheckConversationAccess(ctx context.Context, actorID, conversationID string) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	ListVeredicts(ctx context.Context, productID string) ([]domain.Veredict, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

// Options tunes the orchestrator.
type Options struct {
	Model         string
	HistoryLimit  int
	SearchEnabled bool
}

// Orchestrator wires the per-turn components together.
type Orchestrator struct {
	store     Store
	lifecycle *lifecycle.Manager
	gov       *governance.Engine
	composer  *composer.Composer
	model     engine.Completer
	search    search.Capability
	opts      Options
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. A nil capability disables search.
func NewOrchestrator(
	store Store,
	lc *lifecycle.Manager,
	gov *governance.Engine,
	comp *composer.Composer,
	model engine.Completer,
	capability search.Capability,
	opts Options,
) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if capability == nil {
		capability = search.Disabled{}
		opts.SearchEnabled = false
	}
	return &Orchestrator{
		store:     store,
		lifecycle: lc,
		gov:       gov,
		composer:  comp,
		model:     model,
		search:    capability,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TurnRequest is one user message. SearchConfirmation, when set, runs the
// confirmed search for this turn.
type TurnRequest struct {
	ActorID            string               `json:"-"`
	ConversationID     string               `json:"conversation_id"`
	Content            string               `json:"content"`
	SearchConfirmation *search.Confirmation `json:"search_confirmation,omitempty"`
}

// SearchOffer is returned when the agent may propose a search. The search
// itself only runs after the user confirms it in a later turn.
type SearchOffer struct {
	Query    string `json:"query,omitempty"`
	Explicit bool   `json:"explicit"`
}

// TurnResult is everything a caller may surface after a turn.
type TurnResult struct {
	Response       string                    `json:"response"`
	Tendency       state.Tendency            `json:"tendency"`
	Mode           composer.Mode             `json:"mode"`
	Status         domain.ConversationStatus `json:"status"`
	Violations     []governance.Violation    `json:"violations"`
	VeredictSignal signals.VeredictSignal    `json:"veredict_signal"`
	SearchOffer    *SearchOffer              `json:"search_offer,omitempty"`
	SearchResults  []search.Result           `json:"search_results,omitempty"`
	UserMessage    domain.Message            `json:"user_message"`
	AgentMessage   domain.Message            `json:"agent_message"`
	DurationMs     int64                     `json:"duration_ms"`
}

// HandleTurn runs one turn. Governance blocks never fail the turn: the
// remediated input is used and the violations are returned. A model failure
// aborts the turn with an error wrapping domain.ErrUpstream; the user message
// is already saved at that point.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (out TurnResult, err error) {
	start := time.Now()
	defer func() {
		out.DurationMs = time.Since(start).Milliseconds()
	}()

	if strings.TrimSpace(req.Content) == "" {
		return TurnResult{}, domain.Invalid("content", "must not be empty")
	}
	if conf := req.SearchConfirmation; conf != nil {
		if err := conf.Validate(); err != nil {
			return TurnResult{}, err
		}
		if conf.ConversationID != req.ConversationID {
			return TurnResult{}, domain.Invalid("search_confirmation", "belongs to another conversation")
		}
	}

	if err := o.store.CheckConversationAccess(ctx, req.ActorID, req.ConversationID); err != nil {
		return TurnResult{}, err
	}
	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading conversation: %w", err)
	}

	// 1. Lifecycle: a Paused conversation that receives anything but a pause
	// request is reopening. Its status stays Paused until the exchange completes.
	pauseIntent := signals.ShouldPauseConversation(req.Content)
	reopening := conv.Status == domain.StatusPaused && !pauseIntent
	pausedAt := conv.PausedAt
	saveOpts := lifecycle.SaveOptions{SuppressReopen: reopening}

	userMsg, _, err := o.lifecycle.SaveMessage(ctx, req.ActorID, req.ConversationID, domain.RoleUser, req.Content, saveOpts)
	if err != nil {
		return TurnResult{}, err
	}
	out.UserMessage = userMsg

	// 2. Load history, prior veredicts and product context concurrently.
	var (
		history   []domain.Message
		veredicts []domain.Veredict
		product   domain.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = o.store.ListMessages(gctx, req.ConversationID, o.opts.HistoryLimit)
		return err
	})
	g.Go(func() error {
		var err error
		veredicts, err = o.store.ListVeredicts(gctx, conv.ProductID)
		return err
	})
	g.Go(func() error {
		var err error
		product, err = o.store.GetProduct(gctx, conv.ProductID)
		return err
	})
	if err := g.Wait(); err != nil {
		return TurnResult{}, fmt.Errorf("loading turn context: %w", err)
	}

	// 3. Detectors.
	out.VeredictSignal = signals.DetectVeredictSignal(domain.UserContents(history))
	searchIntent := signals.DetectExplicitSearchIntent(req.Content)

	gin := governance.Input{
		ConversationID:  req.ConversationID,
		LastUserMessage: req.Content,
		History:         history,
		ProductContext:  product.Context,
	}

	// 4. pre_state, then inference.
	o.check(ctx, governance.PhasePreState, &gin, &out)
	out.Tendency = state.Infer(gin.History, veredicts)
	turnState := out.Tendency.Primary
	if reopening {
		turnState = domain.StateReopening
	}
	gin.State = turnState

	// 5. Confirmed search, then pre_context over everything the prompt will see.
	if conf := req.SearchConfirmation; conf != nil && o.opts.SearchEnabled {
		sc, err := search.Confirm(ctx, o.search, *conf)
		if err != nil {
			return TurnResult{}, err
		}
		gin.SearchContext = sc
	}
	o.check(ctx, governance.PhasePreContext, &gin, &out)

	if gin.SearchContext != nil {
		out.SearchResults = gin.SearchContext.Results
	} else if o.opts.SearchEnabled {
		out.SearchOffer = offer(turnState, gin.History, req.Content, searchIntent)
	}
	out.Mode = selectMode(reopening, pauseIntent, gin.SearchContext, out.VeredictSignal, out.SearchOffer)

	// 6. Compose and run pre_prompt.
	cin := composer.Input{
		Mode:           out.Mode,
		State:          turnState,
		ProductName:    product.Name,
		ProductContext: gin.ProductContext,
		Veredicts:      veredicts,
		SuggestedTitle: out.VeredictSignal.SuggestedTitle,
		PausedAt:       pausedAt,
		Now:            o.now(),
	}
	if gin.SearchContext != nil {
		cin.SearchQuery = gin.SearchContext.Query
		cin.SearchResults = gin.SearchContext.Results
	} else if out.SearchOffer != nil {
		cin.SearchQuery = out.SearchOffer.Query
	}
	gin.Prompt = o.composer.Compose(cin)
	prompt := o.check(ctx, governance.PhasePrePrompt, &gin, &out)
	system := composer.Finalize(gin.Prompt, prompt.InjectedPromptSection)

	// 7. Model call.
	response, err := o.model.Complete(ctx, engine.Request{
		Model:    o.opts.Model,
		System:   system,
		Messages: toModelMessages(gin.History),
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: model completion: %w", domain.ErrUpstream, err)
	}
	if strings.TrimSpace(response) == "" {
		return TurnResult{}, fmt.Errorf("%w: model returned an empty completion", domain.ErrUpstream)
	}

	// 8. post_response is advisory; the response is kept as returned.
	gin.Response = response
	o.check(ctx, governance.PhasePostResponse, &gin, &out)
	out.Response = response

	agentMsg, conv, err := o.lifecycle.SaveMessage(ctx, req.ActorID, req.ConversationID, domain.RoleAgent, response, saveOpts)
	if err != nil {
		return TurnResult{}, err
	}
	out.AgentMessage = agentMsg

	// 9. Explicit lifecycle transitions.
	switch {
	case pauseIntent:
		conv, err = o.lifecycle.Pause(ctx, req.ActorID, req.ConversationID)
	case reopening:
		conv, err = o.lifecycle.MarkReopened(ctx, req.ActorID, req.ConversationID)
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("updating conversation status: %w", err)
	}
	out.Status = conv.Status

	slog.Debug("turn complete",
		"conversation_id", req.ConversationID,
		"mode", out.Mode,
		"state", turnState,
		"violations", len(out.Violations),
	)
	return out, nil
}

// check runs one governance phase, replaces in with the remediated input when
// a rule blocked, and collects the violations into out.
func (o *Orchestrator) check(ctx context.Context, phase governance.Phase, in *governance.Input, out *TurnResult) governance.Result {
	res := o.gov.Apply(ctx, phase, *in)
	if res.Modified != nil {
		*in = *res.Modified
	}
	if err := res.Err(); err != nil {
		slog.Info("governance remediated turn input", "phase", phase, "conversation_id", in.ConversationID, "error", err)
	}
	out.Violations = append(out.Violations, res.Violations...)
	return res
}

func offer(st domain.ConversationState, history []domain.Message, message string, intent *signals.SearchIntent) *SearchOffer {
	if intent != nil {
		return &SearchOffer{Query: intent.Query, Explicit: true}
	}
	contextText := strings.Join(domain.UserContents(history), "\n")
	if signals.ShouldSuggestSearch(st, contextText, message) {
		return &SearchOffer{}
	}
	return nil
}

// selectMode picks the template. Lifecycle modes win over content modes.
func selectMode(reopening, pauseIntent bool, sc *search.Context, sig signals.VeredictSignal, so *SearchOffer) composer.Mode {
	switch {
	case reopening:
		return composer.ModeReopening
	case pauseIntent:
		return composer.ModePause
	case sc != nil:
		return composer.ModeSearchResults
	case sig.Detected:
		return composer.ModeVeredictConfirmation
	case so != nil:
		return composer.ModeSearchOffer
	default:
		return composer.ModeState
	}
}

func toModelMessages(history []domain.Message) []engine.Message {
	msgs := make([]engine.Message, 0, len(history))
	for _, m := range history {
		role := engine.RoleUser
		if m.Role == domain.RoleAgent {
			role = engine.RoleAssistant
		}
		msgs = append(msgs, engine.Message{Role: role, Content: m.Content})
	}
	return msgs
}
