package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"statline/internal/llm"
)

// Status is the grader's verdict.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Feedback is the grader's structured assessment of a draft. On FAIL the
// Issues and Suggestions flow back into regeneration.
type Feedback struct {
	Status      Status   `json:"status"`
	Confidence  float64  `json:"confidence"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Grader checks a drafted answer against the question and evidence. The
// grader is advisory: when its own response is unusable the draft passes
// with reduced confidence rather than blocking the run.
type Grader struct {
	LLM    llm.Client
	Logger *slog.Logger
}

const gradePrompt = `You are a strict evaluator. Grade whether the answer below correctly and completely addresses the question, using only the provided data.

Question: %s

Answer:
%s

Methodology:
%s

Data the answer must be grounded in:
%s

Fail the answer if it cites numbers absent from the data, ignores part of the question, or contradicts the data.

Return STRICT JSON ONLY:
{"status": "PASS" or "FAIL", "confidence": 0.0-1.0, "issues": ["string"], "suggestions": ["string"]}`

// DefaultConfidence is assigned when the grader response is malformed.
const DefaultConfidence = 0.7

// Grade evaluates a draft. Oracle transport errors propagate; a malformed
// verdict degrades to PASS at DefaultConfidence, logged, never fatal.
func (g *Grader) Grade(ctx context.Context, question string, d *Draft, ev Evidence) (*Feedback, error) {
	ctx = llm.WithPhase(ctx, "grade")
	prompt := fmt.Sprintf(gradePrompt, question, d.Answer, d.Methodology, renderEvidence(ev))
	raw, err := g.LLM.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}
	var fb Feedback
	if uerr := json.Unmarshal(raw, &fb); uerr != nil || !validStatus(fb.Status) {
		if g.Logger != nil {
			g.Logger.Warn("grader returned malformed verdict, passing by default",
				"raw", truncate(string(raw), 200))
		}
		return &Feedback{Status: StatusPass, Confidence: DefaultConfidence}, nil
	}
	fb.Status = Status(strings.ToUpper(string(fb.Status)))
	if fb.Confidence < 0 || fb.Confidence > 1 {
		fb.Confidence = DefaultConfidence
	}
	return &fb, nil
}

func validStatus(s Status) bool {
	switch Status(strings.ToUpper(string(s))) {
	case StatusPass, StatusFail:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
