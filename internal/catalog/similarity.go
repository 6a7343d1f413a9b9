package catalog

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from overlap scoring; they carry no table signal.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
	"for": true, "by": true, "to": true, "and": true, "or": true, "is": true,
	"are": true, "was": true, "were": true, "what": true, "which": true,
	"who": true, "how": true, "many": true, "much": true, "with": true,
	"top": true, "most": true, "per": true, "all": true, "that": true,
	"this": true, "did": true, "does": true, "do": true, "has": true,
	"have": true, "had": true, "show": true, "me": true, "list": true,
}

func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// similarity scores a table against the question by token overlap across
// the table's name, description, and column list. Name tokens count
// double; a question naming a table is the strongest signal we have
// without an embedding service.
func similarity(questionTokens map[string]bool, td TableDescriptor) int {
	score := 0
	for tok := range tokenize(td.Name) {
		if questionTokens[tok] {
			score += 2
		}
	}
	body := td.Description + " " + strings.Join(td.Columns, " ")
	for tok := range tokenize(body) {
		if questionTokens[tok] {
			score++
		}
	}
	return score
}

// prefilter ranks tables by similarity and keeps at most limit candidates
// scoring above zero. The bound keeps the oracle's input small regardless
// of catalog size. An empty result means no table is plausibly relevant.
func prefilter(question string, tables []TableDescriptor, limit int) []TableDescriptor {
	qTokens := tokenize(question)
	type scored struct {
		td    TableDescriptor
		score int
	}
	var ranked []scored
	for _, td := range tables {
		if s := similarity(qTokens, td); s > 0 {
			ranked = append(ranked, scored{td, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].td.Name < ranked[j].td.Name
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]TableDescriptor, len(ranked))
	for i, r := range ranked {
		out[i] = r.td
	}
	return out
}
