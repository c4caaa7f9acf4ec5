// Package composer assembles the candidate system prompt for a turn from the
// persona, a state or mode template, and the turn's context.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/search"
)

const defaultMaxContextTokens = 4000

// Composer builds system prompts within a token budget for injected context.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Input is what a turn contributes to the prompt.
type Input struct {
	Mode           Mode
	State          domain.ConversationState
	ProductName    string
	ProductContext string
	Veredicts      []domain.Veredict
	SearchResults  []search.Result
	SearchQuery    string
	SuggestedTitle string
	PausedAt       *time.Time
	Now            time.Time
}

// Compose returns the candidate system prompt. Sections are emitted in a
// fixed order; prior veredicts are dropped oldest-first and search results
// lowest-ranked-first when the context budget is exceeded.
func (c *Composer) Compose(in Input) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	sb.WriteString(Template(in.Mode, in.State))

	if in.Mode == ModeReopening && in.PausedAt != nil && !in.Now.IsZero() {
		fmt.Fprintf(&sb, "\nA conversa estava pausada havia %s.", describeGap(in.Now.Sub(*in.PausedAt)))
	}
	if in.Mode == ModeVeredictConfirmation && in.SuggestedTitle != "" {
		fmt.Fprintf(&sb, "\nTítulo sugerido para o veredicto: %s.", in.SuggestedTitle)
	}
	if in.Mode == ModeSearchOffer && in.SearchQuery != "" {
		fmt.Fprintf(&sb, "\nTema da pesquisa a oferecer: %s.", in.SearchQuery)
	}

	remaining := c.MaxContextTokens
	if ctx := c.productSection(in); ctx != "" {
		remaining -= EstimateTokens(ctx)
		sb.WriteString(ctx)
	}
	if v := veredictSection(in.Veredicts, &remaining); v != "" {
		sb.WriteString(v)
	}
	if in.Mode == ModeSearchResults {
		sb.WriteString(searchSection(in.SearchResults, &remaining))
	}
	return sb.String()
}

func (c *Composer) productSection(in Input) string {
	text := strings.TrimSpace(in.ProductContext)
	if text == "" && in.ProductName == "" {
		return ""
	}
	budget := c.MaxContextTokens / 2
	if EstimateTokens(text) > budget {
		text = truncateRunes(text, budget*4)
	}
	var sb strings.Builder
	sb.WriteString("\n\n[Contexto do Produto]\n")
	if in.ProductName != "" {
		fmt.Fprintf(&sb, "Produto: %s\n", in.ProductName)
	}
	if text != "" {
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func veredictSection(veredicts []domain.Veredict, remaining *int) string {
	if len(veredicts) == 0 {
		return ""
	}
	header := "\n[Veredictos Anteriores]\n"
	budget := *remaining - EstimateTokens(header)

	// Newest first so older entries are the ones dropped.
	var entries []string
	for i := len(veredicts) - 1; i >= 0; i-- {
		entry := formatVeredict(veredicts[i])
		tokens := EstimateTokens(entry)
		if tokens > budget {
			break
		}
		entries = append(entries, entry)
		budget -= tokens
	}
	if len(entries) == 0 {
		return ""
	}
	*remaining = budget

	var sb strings.Builder
	sb.WriteString(header)
	for i := len(entries) - 1; i >= 0; i-- {
		sb.WriteString(entries[i])
	}
	return sb.String()
}

func formatVeredict(v domain.Veredict) string {
	s := fmt.Sprintf("v%d. Dor: %s | Valor: %s", v.Version, v.Pain, v.Value)
	if v.Notes != "" {
		s += " | Notas: " + v.Notes
	}
	return s + "\n"
}

func searchSection(results []search.Result, remaining *int) string {
	header := "\n[Resultados de Pesquisa]\n"
	if len(results) == 0 {
		return header + "A pesquisa não retornou resultados. Diga isso ao usuário com naturalidade.\n"
	}
	budget := *remaining - EstimateTokens(header)
	var sb strings.Builder
	sb.WriteString(header)
	for i, r := range results {
		entry := fmt.Sprintf("%d. %s (%s)\n%s\n%s\n", i+1, r.Title, r.Source, r.Snippet, r.URL)
		tokens := EstimateTokens(entry)
		if tokens > budget {
			break
		}
		sb.WriteString(entry)
		budget -= tokens
	}
	*remaining = budget
	return sb.String()
}

// Finalize appends the governance section to a cleared prompt.
func Finalize(prompt, injected string) string {
	if strings.TrimSpace(injected) == "" {
		return prompt
	}
	return strings.TrimRight(prompt, "\n") + "\n\n---\n\n" + injected
}

func describeGap(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d dias", int(d.Hours()/24))
	case d >= 24*time.Hour:
		return "1 dia"
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d horas", int(d.Hours()))
	case d >= time.Hour:
		return "1 hora"
	default:
		return "menos de uma hora"
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
