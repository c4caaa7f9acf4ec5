package governance

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/pachai/internal/domain"
	"github.com/kalambet/pachai/internal/signals"
)

// reactivePatterns match reflexive-reformulation phrasing that pushes the
// work of clarifying back onto the user.
var reactivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)voc[êe] pode reformular`),
	regexp.MustCompile(`(?i)pode reformular`),
	regexp.MustCompile(`(?i)pode confirmar`),
	regexp.MustCompile(`(?i)poderia confirmar`),
	regexp.MustCompile(`(?i)poderia esclarecer`),
	regexp.MustCompile(`(?i)o que voc[êe] quer dizer com`),
	regexp.MustCompile(`(?i)pode explicar melhor`),
}

// reopeningPatterns match phrasing that reopens a topic the user closed.
// Short phrases are anchored on letter boundaries so "e se" never matches
// inside "e sempre".
var reopeningPatterns = []*regexp.Regexp{
	bounded(`mas e se`),
	bounded(`mas e`),
	bounded(`e se`),
	bounded(`e quanto a`),
	bounded(`explore mais`),
	bounded(`aprofunde`),
	bounded(`vamos explorar`),
	bounded(`reconsidere`),
}

// acknowledgmentKeywords mark a response that accepts the user's closure.
var acknowledgmentKeywords = []string{
	"entendido",
	"assumido",
	"registrado",
	"anotado",
	"combinado",
	"perfeito",
	"certo",
	"fechado",
	"compreendido",
}

func bounded(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}])` + regexp.QuoteMeta(phrase) + `([^\p{L}]|$)`)
}

var multiSpace = regexp.MustCompile(`[ \t]{2,}`)

// evaluator inspects the working copy and returns a violation or nil. When
// the violation blocks, the evaluator has already applied its remediation to
// in.
type evaluator func(in *Input) *Violation

var evaluators = map[string]evaluator{
	CodeReactiveBehavior:           evalReactiveBehavior,
	CodeClosureRecognition:         evalClosureRecognition,
	CodeClosureRecognitionResponse: evalClosureRecognitionResponse,
	CodeExternalSearchConscious:    evalUnconfirmedSearch,
	CodeExternalSearchPrompt:       evalUnconfirmedSearch,
	CodeMemorySharing:              evalMemorySharing,
	CodeExplicitContextEvolution:   evalNever,
	CodeVeredictMeta:               evalNever,
}

// KnownCode reports whether code has an evaluator.
func KnownCode(code string) bool {
	_, ok := evaluators[code]
	return ok
}

func evalReactiveBehavior(in *Input) *Violation {
	stripped, matched := stripAll(in.Prompt, reactivePatterns)
	if len(matched) == 0 {
		return nil
	}
	in.Prompt = stripped
	return &Violation{
		WasBlocked: true,
		Reason:     "prompt asks the user to reformulate or confirm",
		Details:    map[string]string{"matched": strings.Join(matched, "; ")},
	}
}

func evalClosureRecognition(in *Input) *Violation {
	if !signals.IsClosureSignal(in.LastUserMessage) {
		return nil
	}
	stripped, matched := stripAll(in.Prompt, reopeningPatterns)
	if len(matched) == 0 {
		return nil
	}
	in.Prompt = stripped
	return &Violation{
		WasBlocked: true,
		Reason:     "prompt reopens a topic the user closed",
		Details:    map[string]string{"matched": strings.Join(matched, "; ")},
	}
}

func evalClosureRecognitionResponse(in *Input) *Violation {
	if !signals.IsClosureSignal(in.LastUserMessage) {
		return nil
	}
	text := domain.Normalize(in.Response)
	acknowledged := false
	for _, k := range acknowledgmentKeywords {
		if signals.ContainsTerm(text, k) {
			acknowledged = true
			break
		}
	}
	_, reopened := stripAll(text, reopeningPatterns)

	switch {
	case !acknowledged && len(reopened) > 0:
		return &Violation{
			Reason:  "response reopens the topic without acknowledging closure",
			Details: map[string]string{"matched": strings.Join(reopened, "; ")},
		}
	case !acknowledged:
		return &Violation{Reason: "response does not acknowledge closure"}
	case len(reopened) > 0:
		return &Violation{
			Reason:  "response reopens a closed topic",
			Details: map[string]string{"matched": strings.Join(reopened, "; ")},
		}
	}
	return nil
}

func evalUnconfirmedSearch(in *Input) *Violation {
	sc := in.SearchContext
	if sc == nil {
		return nil
	}
	reason := ""
	switch {
	case !sc.Confirmed():
		reason = "search context present without explicit user confirmation"
	case sc.ConversationID() != in.ConversationID:
		reason = "search context confirmed for a different conversation"
	default:
		return nil
	}
	in.SearchContext = nil
	return &Violation{
		WasBlocked: true,
		Reason:     reason,
		Details:    map[string]string{"query": sc.Query},
	}
}

func evalMemorySharing(in *Input) *Violation {
	var kept []domain.Message
	foreign := 0
	for _, m := range in.History {
		if m.ConversationID != "" && m.ConversationID != in.ConversationID {
			foreign++
			continue
		}
		kept = append(kept, m)
	}
	if foreign == 0 {
		return nil
	}
	in.History = kept
	return &Violation{
		WasBlocked: true,
		Reason:     "history carries messages from another conversation",
		Details:    map[string]string{"removed": strconv.Itoa(foreign)},
	}
}

func evalNever(*Input) *Violation { return nil }

// stripAll removes every match of patterns from text and returns the cleaned
// text and the distinct phrases removed, in pattern order.
func stripAll(text string, patterns []*regexp.Regexp) (string, []string) {
	var matched []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		for {
			loc := p.FindStringSubmatchIndex(text)
			if loc == nil {
				break
			}
			phrase, keep := text[loc[0]:loc[1]], ""
			// Bounded patterns keep the boundary characters around the phrase.
			if p.NumSubexp() >= 2 {
				phrase = text[loc[3]:loc[4]]
				keep = text[loc[2]:loc[3]] + text[loc[4]:loc[5]]
			}
			if key := strings.ToLower(phrase); !seen[key] {
				seen[key] = true
				matched = append(matched, phrase)
			}
			text = text[:loc[0]] + keep + text[loc[1]:]
		}
	}
	if len(matched) == 0 {
		return text, nil
	}
	return tidy(text), matched
}

func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(multiSpace.ReplaceAllString(l, " "), " \t")
	}
	return strings.Join(lines, "\n")
}
