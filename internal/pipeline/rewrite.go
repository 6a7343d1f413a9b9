package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"statline/internal/llm"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

const rewritePrompt = `Rewrite the user's question as a fully standalone question, resolving pronouns and references using the conversation history. If it is already standalone, return it unchanged.

Conversation history:
%s

Question: %s

Return STRICT JSON ONLY:
{"rewritten": "string"}`

// resolve expands pronouns and elliptical references against the last
// HistoryWindow turns. With no history the question passes through with no
// oracle call, and any oracle trouble falls back to the raw question.
func (e *Engine) resolve(ctx context.Context, question string, history []Turn) string {
	if len(history) == 0 {
		return question
	}
	if n := len(history); n > e.cfg.HistoryWindow {
		history = history[n-e.cfg.HistoryWindow:]
	}
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	raw, err := e.llm.GenerateJSON(llm.WithPhase(ctx, "rewrite"),
		fmt.Sprintf(rewritePrompt, b.String(), question), nil)
	if err != nil {
		e.logger.Warn("question rewrite failed, using raw question", "err", err)
		return question
	}
	var resp struct {
		Rewritten string `json:"rewritten"`
	}
	if json.Unmarshal(raw, &resp) != nil || strings.TrimSpace(resp.Rewritten) == "" {
		return question
	}
	return strings.TrimSpace(resp.Rewritten)
}

// Consecutive capitalized words, allowing initials like "P.J." and
// apostrophes. Sentence-leading words are caught too; the feed simply
// misses on non-entities and the run degrades to single-source.
var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z'.]+(?: [A-Z][a-zA-Z'.]+)*`)

var entityStopwords = map[string]bool{
	"who": true, "what": true, "when": true, "which": true, "how": true,
	"top": true, "list": true, "show": true, "compare": true, "the": true,
	"nba": true, "did": true, "is": true, "was": true, "does": true,
}

// detectEntity returns the first multi-word capitalized phrase as a feed
// lookup key in slug form ("Nikola Jokic" -> "nikola-jokic"), or "".
func detectEntity(question string) string {
	for _, m := range entityPattern.FindAllString(question, -1) {
		words := strings.Fields(m)
		for len(words) > 0 && entityStopwords[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) < 2 {
			continue
		}
		return slug(strings.Join(words, " "))
	}
	return ""
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-':
			return '-'
		}
		return -1
	}, s)
	return strings.Trim(s, "-")
}
