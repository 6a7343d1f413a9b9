// Package generate produces validated SQL through a reflective loop:
// draft with the oracle, validate locally, and on failure regenerate with
// the specific errors replayed into the next prompt. No query leaves this
// package without passing validation.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"statline/internal/llm"
	"statline/internal/sqlcheck"
)

// ErrFallback signals that the retry budget is exhausted without a valid
// query. The run must not execute anything on this path.
var ErrFallback = errors.New("generate: retry budget exhausted without a valid query")

// Attempt is one entry of the append-only generation log. Attempts are
// never rewritten, so every repair stays auditable.
type Attempt struct {
	Number         int              `json:"attempt_number"`
	SQL            string           `json:"sql"`
	Validation     sqlcheck.Outcome `json:"validation"`
	ExecutionError string           `json:"execution_error,omitempty"`
}

// GraderNotes is the slice of grader feedback the generator consumes on a
// regeneration pass.
type GraderNotes struct {
	Issues      []string
	Suggestions []string
}

// Request carries everything one generation round needs. PriorAttempts is
// the full log so far: numbering continues from it and its tail feeds the
// feedback prompt. BudgetSpent says how many of those attempts belong to
// the current repair round — validation and execution failures within a
// round share one budget, while attempts from earlier rounds (before a
// grading verdict forced a new round) are context only.
type Request struct {
	Question          string
	SchemaText        string
	PriorAttempts     []Attempt
	BudgetSpent       int
	ExecError         string
	Grader            *GraderNotes
	DependencyContext string
}

// Result is a validated query plus the attempts appended this round.
type Result struct {
	SQL      string
	Thinking string
	Attempts []Attempt
}

// Generator drives the reflective loop. MaxRetries bounds repairs; the
// total attempt count per subquery never exceeds MaxRetries+1.
type Generator struct {
	LLM        llm.Client
	MaxRetries int
	Logger     *slog.Logger
}

const generatePrompt = `You are a SQL expert. Generate a query to answer the user's question.

Question: %s

Available Schema:
%s
%s%s
Rules:
- Use only tables and columns that exist in the schema above
- Standard SQL, single SELECT (or WITH) statement only
- Include JOINs based on shared key columns
- Limit results to 100 rows unless aggregating
- Always include ORDER BY for consistent results

Return STRICT JSON ONLY:
{"thinking": "string", "sql": "string", "alternatives": ["string"]}
alternatives is optional and may list backup queries.`

type generateResponse struct {
	Thinking     string   `json:"thinking"`
	SQL          string   `json:"sql"`
	Alternatives []string `json:"alternatives"`
}

// Generate runs the loop until a candidate validates or the budget is
// gone. The returned error is ErrFallback (wrapped) on exhaustion; the
// Result always carries the attempts made, valid or not.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	budget := g.MaxRetries + 1
	if g.MaxRetries <= 0 {
		budget = 4
	}
	used := req.BudgetSpent
	logged := len(req.PriorAttempts)
	res := &Result{}
	ctx = llm.WithPhase(ctx, "generate_sql")

	lastErrors := lastAttemptErrors(req.PriorAttempts)
	execErr := req.ExecError
	for used+len(res.Attempts) < budget {
		num := logged + len(res.Attempts) + 1
		prompt := fmt.Sprintf(generatePrompt,
			req.Question, req.SchemaText,
			feedbackBlock(prevSQL(req.PriorAttempts, res.Attempts), lastErrors, execErr, req.Grader),
			dependencyBlock(req.DependencyContext))

		raw, err := g.LLM.GenerateJSON(ctx, prompt, nil)
		if err != nil {
			return res, err
		}

		sql, thinking, parseErr := pickCandidate(raw)
		if parseErr != nil {
			// A malformed structured response is a validation failure
			// of this attempt, not a pipeline crash.
			lastErrors = []string{parseErr.Error()}
			execErr = ""
			res.Attempts = append(res.Attempts, Attempt{
				Number:     num,
				Validation: sqlcheck.Outcome{Valid: false, Errors: lastErrors},
			})
			continue
		}

		outcome := sqlcheck.Validate(sql, req.SchemaText)
		res.Attempts = append(res.Attempts, Attempt{Number: num, SQL: sql, Validation: outcome})
		if outcome.Valid {
			res.SQL = sql
			res.Thinking = thinking
			return res, nil
		}
		if g.Logger != nil {
			g.Logger.Warn("query validation failed",
				"attempt", num, "errors", strings.Join(outcome.Errors, "; "))
		}
		lastErrors = outcome.Errors
		execErr = ""
	}
	return res, fmt.Errorf("%w after %d attempts", ErrFallback, logged+len(res.Attempts))
}

// pickCandidate parses the oracle response and returns the first
// syntactically parseable candidate, primary first. Remaining candidates
// are discarded; there is no voting.
func pickCandidate(raw json.RawMessage) (sql, thinking string, err error) {
	var resp generateResponse
	if uerr := json.Unmarshal(raw, &resp); uerr != nil {
		return "", "", fmt.Errorf("failed to parse query from oracle response: %v", uerr)
	}
	candidates := append([]string{resp.SQL}, resp.Alternatives...)
	first := ""
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if first == "" {
			first = c
		}
		if len(sqlcheck.CheckSyntax(c)) == 0 {
			return c, resp.Thinking, nil
		}
	}
	if first == "" {
		return "", "", errors.New("oracle response contained no query")
	}
	// Nothing parseable; surface the primary so its errors drive repair.
	return first, resp.Thinking, nil
}

func prevSQL(prior, current []Attempt) string {
	if n := len(current); n > 0 {
		return current[n-1].SQL
	}
	if n := len(prior); n > 0 {
		return prior[n-1].SQL
	}
	return ""
}

func lastAttemptErrors(attempts []Attempt) []string {
	if len(attempts) == 0 {
		return nil
	}
	return attempts[len(attempts)-1].Validation.Errors
}

func feedbackBlock(prevSQL string, valErrors []string, execErr string, grader *GraderNotes) string {
	if prevSQL == "" && len(valErrors) == 0 && execErr == "" && grader == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nYour previous attempt had issues:\n")
	if prevSQL != "" {
		if len(prevSQL) > 500 {
			prevSQL = prevSQL[:500]
		}
		fmt.Fprintf(&b, "- SQL: %s\n", prevSQL)
	}
	for _, e := range valErrors {
		fmt.Fprintf(&b, "- Error: %s\n", e)
	}
	if execErr != "" {
		fmt.Fprintf(&b, "- Execution error: %s\n", execErr)
	}
	if grader != nil {
		for _, issue := range grader.Issues {
			fmt.Fprintf(&b, "- Quality issue: %s\n", issue)
		}
		for _, sug := range grader.Suggestions {
			fmt.Fprintf(&b, "- Suggestion: %s\n", sug)
		}
	}
	b.WriteString("Fix these issues in your new attempt.\n")
	return b.String()
}

func dependencyBlock(depCtx string) string {
	if depCtx == "" {
		return ""
	}
	return "\nResults from prerequisite sub-queries:\n" + depCtx + "\n"
}
