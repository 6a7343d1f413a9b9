package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"statline/internal/analyze"
	"statline/internal/catalog"
	"statline/internal/generate"
	"statline/internal/plan"
	"statline/internal/store"
	"statline/internal/xval"
)

// runState is the per-call arena: every mutable artifact of one Answer
// run lives here and nowhere else, so the engine stays safe under
// concurrent calls and the worker pool only races through the mutex.
type runState struct {
	question string
	resolved string

	selection *catalog.Selection
	plan      *plan.QueryPlan

	mu       sync.Mutex
	order    []string
	attempts map[string][]generate.Attempt
	sqls     map[string]string
	results  map[string]*store.TabularResult

	report      *xval.Report
	graderNotes *generate.GraderNotes
}

func newRunState(question string) *runState {
	return &runState{
		question: question,
		attempts: make(map[string][]generate.Attempt),
		sqls:     make(map[string]string),
		results:  make(map[string]*store.TabularResult),
	}
}

func (rs *runState) setAttempts(id string, attempts []generate.Attempt) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.attempts[id] = attempts
}

func (rs *runState) attemptsFor(id string) []generate.Attempt {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.attempts[id]
}

func (rs *runState) setResult(id, sql string, res *store.TabularResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, seen := rs.sqls[id]; !seen {
		rs.order = append(rs.order, id)
	}
	rs.sqls[id] = sql
	rs.results[id] = res
}

func (rs *runState) resultFor(id string) *store.TabularResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.results[id]
}

// dependencyContext renders completed dependency results for a dependent
// subquery's prompt. Deterministic ordering keeps the merge
// order-independent.
func (rs *runState) dependencyContext(deps []string) string {
	if len(deps) == 0 {
		return ""
	}
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var b strings.Builder
	for _, id := range sorted {
		res := rs.results[id]
		if res == nil {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n", id, res.Preview(10))
	}
	return b.String()
}

// evidence assembles the analyzer's input from everything executed so far
// plus the cross-validation report.
func (rs *runState) evidence() analyze.Evidence {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ev := analyze.Evidence{Question: rs.resolved}
	queries := make([]string, 0, len(rs.order))
	for _, id := range rs.order {
		queries = append(queries, rs.sqls[id])
		ev.Results = append(ev.Results, rs.results[id])
	}
	ev.SQL = strings.Join(queries, "\n")
	if rs.report != nil {
		ev.Reconciled = rs.report.Reconciled
		ev.Warnings = rs.report.Warnings
	}
	return ev
}

// allAttempts flattens per-subquery logs in execution order for the
// returned Answer.
func (rs *runState) allAttempts() []generate.Attempt {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ids := make([]string, 0, len(rs.attempts))
	for id := range rs.attempts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []generate.Attempt
	for _, id := range ids {
		out = append(out, rs.attempts[id]...)
	}
	return out
}

// terminalID is the subquery whose output answers the question: "main"
// for simple runs, otherwise the last plan entry nothing depends on.
func (rs *runState) terminalID() string {
	if rs.plan == nil || rs.plan.Complexity != plan.Complex || len(rs.plan.SubQueries) == 0 {
		return mainQueryID
	}
	depended := make(map[string]bool)
	for _, sq := range rs.plan.SubQueries {
		for _, d := range sq.DependsOn {
			depended[d] = true
		}
	}
	for i := len(rs.plan.SubQueries) - 1; i >= 0; i-- {
		if !depended[rs.plan.SubQueries[i].ID] {
			return rs.plan.SubQueries[i].ID
		}
	}
	return rs.plan.SubQueries[len(rs.plan.SubQueries)-1].ID
}
