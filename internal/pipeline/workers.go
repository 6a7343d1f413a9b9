package pipeline

import (
	"context"
	"fmt"

	"statline/internal/plan"
)

// runPlan executes the query phase. Simple plans are one subquery under
// the id "main". Complex plans run their DAG on a bounded worker pool:
// ready subqueries dispatch concurrently, dependents wait for their
// dependency results, and the first failure ends the run.
func (e *Engine) runPlan(ctx context.Context, rs *runState) *RunError {
	if rs.plan == nil || rs.plan.Complexity != plan.Complex || len(rs.plan.SubQueries) == 0 {
		return e.generateAndExecute(ctx, rs, mainQueryID, rs.resolved, "", nil)
	}

	type outcome struct {
		id  string
		err *RunError
	}
	total := len(rs.plan.SubQueries)
	// Buffered so stragglers can finish after an early failure return.
	results := make(chan outcome, total)
	sem := make(chan struct{}, e.cfg.Workers)
	done := make(map[string]bool, total)
	inflight := make(map[string]bool)

	for len(done) < total {
		for _, sq := range rs.plan.Ready(done, inflight) {
			inflight[sq.ID] = true
			sq := sq
			go func() {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					results <- outcome{sq.ID, runErr(KindTimeout, ctx.Err())}
					return
				}
				defer func() { <-sem }()
				depCtx := rs.dependencyContext(sq.DependsOn)
				err := e.generateAndExecute(ctx, rs, sq.ID, subQuestion(rs.resolved, sq), depCtx, nil)
				results <- outcome{sq.ID, err}
			}()
		}
		if len(inflight) == 0 {
			// Nothing running and nothing ready: Validate should have
			// caught this, but never spin.
			return runErr(KindGenerationInvalid,
				fmt.Errorf("plan stalled with %d of %d subqueries done", len(done), total))
		}
		out := <-results
		delete(inflight, out.id)
		if out.err != nil {
			return out.err
		}
		done[out.id] = true
		e.logger.Debug("subquery complete", "id", out.id, "done", len(done), "total", total)
	}
	return nil
}

func subQuestion(resolved string, sq plan.SubQuery) string {
	return fmt.Sprintf("%s\n\nThis sub-query answers one part of the question: %s", resolved, sq.Description)
}
