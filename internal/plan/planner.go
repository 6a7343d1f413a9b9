package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"statline/internal/llm"
)

// Planner asks the oracle whether a question needs decomposition and, for
// COMPLEX questions, produces the subquery DAG.
type Planner struct {
	LLM llm.Client
}

const planPrompt = `Decide whether the question can be answered with a single SQL query (simple)
or must be decomposed into dependent sub-queries (complex).

Question: %s

Available tables:
%s

Questions are complex only when one query's result is needed to formulate
another (e.g. "compare X's best season to Y's best season" needs each best
season first). Prefer simple.

Return STRICT JSON ONLY:
{
  "complexity": "simple" | "complex",
  "sub_queries": [{"id": "string", "description": "string", "depends_on": ["string"]}],
  "combination_strategy": "synthesize" | "chain" | "merge"
}
For simple questions, sub_queries must be empty.`

// Plan classifies the question. A malformed oracle response or an invalid
// DAG degrades to a SIMPLE plan: decomposition is an optimization, never a
// reason to fail a run.
func (p *Planner) Plan(ctx context.Context, question, tableList string) (*QueryPlan, error) {
	prompt := fmt.Sprintf(planPrompt, question, tableList)
	raw, err := p.LLM.GenerateJSON(llm.WithPhase(ctx, "plan"), prompt, nil)
	if err != nil {
		return nil, err
	}
	var qp QueryPlan
	if err := json.Unmarshal(raw, &qp); err != nil {
		return &QueryPlan{Complexity: Simple}, nil
	}
	if qp.CombinationStrategy == "" {
		qp.CombinationStrategy = "synthesize"
	}
	if err := qp.Validate(); err != nil {
		return &QueryPlan{Complexity: Simple}, nil
	}
	return &qp, nil
}
