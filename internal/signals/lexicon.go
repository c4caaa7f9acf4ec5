package signals

import (
	"regexp"
	"strings"
	"unicode"
)

// closurePhrases mark a user considering the topic settled.
var closurePhrases = []string{
	"é isso",
	"fechado",
	"chegamos a uma conclusão",
	"esse é o conceito",
	"este é o conceito",
	"está decidido",
	"tá decidido",
	"podemos registrar",
	"pode registrar",
	"vamos registrar",
	"concluímos",
	"assim está bom",
}

var pausePhrases = []string{
	"vamos pausar",
	"pausar por aqui",
	"vamos parar por aqui",
	"preciso parar agora",
	"continuamos depois",
	"depois a gente continua",
	"retomamos depois",
}

var convergenceKeywords = []string{
	"entendi",
	"resumir",
	"resumindo",
	"em resumo",
	"concordo",
	"faz sentido",
	"consolidar",
}

var clarificationKeywords = []string{
	"dor",
	"impacto",
	"necessidade",
	"problema",
	"frequência",
	"custo",
	"quem sofre",
	"consequência",
}

// externalReferenceCues mark messages that could benefit from outside data.
var externalReferenceCues = []string{
	"como outras empresas",
	"existe algum estudo",
	"existem dados",
	"dados de mercado",
	"benchmark",
	"o que o mercado",
	"concorrentes",
	"pesquisas mostram",
	"tendência do mercado",
}

type searchPattern struct {
	re         *regexp.Regexp
	confidence float64
}

// imperative anchors a search verb at the start of the message or of a
// clause, optionally after a courtesy filler. A negator before the verb
// ("não pesquise", "eu nunca pesquise") therefore never matches.
func imperative(verb string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[.;:!?,]\s*)(?:(?:por favor|agora|então|e)\s+)*` + verb + `\s+(.+)`)
}

// searchPatterns are evaluated in order; the first match wins. Specific
// phrasings come before the generic imperative so the capture stays clean.
var searchPatterns = []searchPattern{
	{imperative(`busque refer[êe]ncias sobre`), 0.95},
	{imperative(`procure refer[êe]ncias sobre`), 0.9},
	{imperative(`pesquise sobre`), 0.9},
	{imperative(`fa[çc]a uma pesquisa sobre`), 0.9},
	{imperative(`pesquise`), 0.8},
}

// ContainsTerm reports whether text contains term. Multi-word terms match as
// substrings; single words must match a whole token.
func ContainsTerm(text, term string) bool {
	if strings.ContainsAny(term, " ") {
		return strings.Contains(text, term)
	}
	for _, tok := range tokenize(text) {
		if tok == term {
			return true
		}
	}
	return false
}

func containsAnyTerm(text string, terms []string) bool {
	for _, t := range terms {
		if ContainsTerm(text, t) {
			return true
		}
	}
	return false
}

func containsAnyPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HasConvergenceCue reports a convergence keyword in normalized text.
func HasConvergenceCue(text string) bool {
	return containsAnyTerm(text, convergenceKeywords)
}

// HasClarificationCue reports a clarification keyword in normalized text.
func HasClarificationCue(text string) bool {
	return containsAnyTerm(text, clarificationKeywords)
}
