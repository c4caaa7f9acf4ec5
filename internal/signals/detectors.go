// Package signals holds the lexical detectors that scan user text for
// explicit intent. Detectors are pure and never consult the model.
package signals

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/pachai/internal/domain"
)

const (
	titleWindow       = 3
	titleWords        = 3
	minTitleWordLen   = 4
	minSearchQueryLen = 3
)

// VeredictSignal is the result of scanning for a closure phrase that invites
// the user to record a veredict.
type VeredictSignal struct {
	Detected       bool   `json:"detected"`
	SuggestedTitle string `json:"suggested_title,omitempty"`
}

// SearchIntent is an explicit request from the user to search externally.
type SearchIntent struct {
	Query      string  `json:"query"`
	Confidence float64 `json:"confidence"`
}

// DetectVeredictSignal checks the most recent user message against the
// closure lexicon. On a match it derives a title from the most frequent
// longer words across the last three user messages.
func DetectVeredictSignal(userMessages []string) VeredictSignal {
	if len(userMessages) == 0 {
		return VeredictSignal{}
	}
	last := domain.Normalize(userMessages[len(userMessages)-1])
	if !containsAnyPhrase(last, closurePhrases) {
		return VeredictSignal{}
	}

	start := len(userMessages) - titleWindow
	if start < 0 {
		start = 0
	}
	return VeredictSignal{
		Detected:       true,
		SuggestedTitle: suggestTitle(userMessages[start:]),
	}
}

func suggestTitle(messages []string) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	pos := 0
	for _, m := range messages {
		for _, w := range tokenize(domain.Normalize(m)) {
			if utf8.RuneCountInString(w) < minTitleWordLen {
				continue
			}
			if _, ok := firstSeen[w]; !ok {
				firstSeen[w] = pos
			}
			counts[w]++
			pos++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return firstSeen[words[i]] < firstSeen[words[j]]
	})
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return capitalize(strings.Join(words, " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// DetectExplicitSearchIntent returns the query of the first matching
// imperative search pattern, or nil. Ambiguous input yields nil.
func DetectExplicitSearchIntent(message string) *SearchIntent {
	text := domain.Normalize(message)
	if text == "" {
		return nil
	}
	for _, p := range searchPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		query := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), ".?!;:"))
		if utf8.RuneCountInString(query) < minSearchQueryLen {
			return nil
		}
		return &SearchIntent{Query: query, Confidence: p.confidence}
	}
	return nil
}

// ShouldPauseConversation reports whether the message contains a literal
// pause phrase.
func ShouldPauseConversation(message string) bool {
	return containsAnyPhrase(domain.Normalize(message), pausePhrases)
}

// IsClosureSignal reports whether the message contains a closure phrase.
func IsClosureSignal(message string) bool {
	return containsAnyPhrase(domain.Normalize(message), closurePhrases)
}

// ShouldSuggestSearch decides whether the agent may offer an external search.
// All conditions must hold; it prefers false negatives.
func ShouldSuggestSearch(state domain.ConversationState, contextText, message string) bool {
	if state != domain.StateExploration && state != domain.StateClarification {
		return false
	}
	if DetectExplicitSearchIntent(message) != nil {
		return false
	}
	ctx := domain.Normalize(contextText)
	if HasConvergenceCue(ctx) || containsAnyPhrase(ctx, closurePhrases) {
		return false
	}
	return containsAnyPhrase(domain.Normalize(message), externalReferenceCues)
}
