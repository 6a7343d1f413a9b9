// Package analyze turns reconciled query results into a prose answer and
// grades that answer against the question before it reaches the user.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"statline/internal/llm"
	"statline/internal/store"
)

// Draft is the analyzer's output: an answer grounded in the result rows,
// plus a short description of how it was derived.
type Draft struct {
	Answer      string `json:"answer"`
	Methodology string `json:"methodology"`
}

// Evidence is everything the analyzer may cite. Results hold executed
// query output; Reconciled holds cross-validated values; Warnings carry
// source disagreements that must be surfaced verbatim.
type Evidence struct {
	Question   string
	SQL        string
	Results    []*store.TabularResult
	Reconciled map[string]any
	Warnings   []string
}

// Analyzer drafts answers from evidence. It never invents numbers: the
// prompt restricts it to values present in the evidence block.
type Analyzer struct {
	LLM    llm.Client
	Logger *slog.Logger
}

const draftPrompt = `You are a sports statistics analyst. Answer the user's question using ONLY the data provided below. Do not invent or estimate any number that is not present in the data.

Question: %s

Query used:
%s

Data:
%s
%s
Return STRICT JSON ONLY:
{"answer": "string", "methodology": "string"}
methodology is one or two sentences on how the data answers the question.`

// Draft produces an answer from the evidence. An oracle transport error
// propagates; a malformed JSON body is an error too, because an answer we
// cannot parse is an answer we cannot grade.
func (a *Analyzer) Draft(ctx context.Context, ev Evidence) (*Draft, error) {
	ctx = llm.WithPhase(ctx, "draft")
	prompt := fmt.Sprintf(draftPrompt, ev.Question, ev.SQL, renderEvidence(ev), warningBlock(ev.Warnings))
	raw, err := a.LLM.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("analyze: malformed draft response: %w", err)
	}
	if strings.TrimSpace(d.Answer) == "" {
		return nil, fmt.Errorf("analyze: draft response had no answer")
	}
	// Disagreement warnings ride along even if the oracle dropped them.
	for _, w := range ev.Warnings {
		if !strings.Contains(d.Answer, w) {
			d.Answer = d.Answer + "\n\nNote: " + w
		}
	}
	return &d, nil
}

func renderEvidence(ev Evidence) string {
	var b strings.Builder
	for i, res := range ev.Results {
		if res == nil {
			continue
		}
		if len(ev.Results) > 1 {
			fmt.Fprintf(&b, "Result set %d:\n", i+1)
		}
		b.WriteString(res.Preview(20))
		if res.Truncated {
			b.WriteString("(result truncated)\n")
		}
	}
	if len(ev.Reconciled) > 0 {
		b.WriteString("\nCross-validated values:\n")
		rec, _ := json.Marshal(ev.Reconciled)
		b.Write(rec)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "(no rows returned)"
	}
	return b.String()
}

func warningBlock(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nSource disagreements that MUST be mentioned in the answer:\n")
	for _, w := range warnings {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	return b.String()
}
