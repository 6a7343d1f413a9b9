// Package plan models query decomposition: a question is either SIMPLE
// (one query) or COMPLEX (a DAG of subqueries whose results feed later
// subqueries' prompts).
package plan

import (
	"fmt"

	"statline/internal/store"
)

// Complexity classifies a question for planning.
type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

// SubQuery is one unit of a decomposed question. DependsOn lists subquery
// ids whose results this one may read; nothing else is visible to it.
type SubQuery struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`

	// Filled in during execution.
	SQL    string               `json:"sql,omitempty"`
	Result *store.TabularResult `json:"-"`
}

// QueryPlan is the planner's output.
type QueryPlan struct {
	Complexity          Complexity `json:"complexity"`
	SubQueries          []SubQuery `json:"sub_queries,omitempty"`
	CombinationStrategy string     `json:"combination_strategy,omitempty"`
}

// Validate rejects malformed plans at construction time: duplicate or
// empty ids, unknown dependencies, and dependency cycles. Cycles are a
// plan validation error here, never a runtime stack failure.
func (p *QueryPlan) Validate() error {
	if p.Complexity != Simple && p.Complexity != Complex {
		return fmt.Errorf("plan: unknown complexity %q", p.Complexity)
	}
	if p.Complexity == Simple {
		return nil
	}
	if len(p.SubQueries) == 0 {
		return fmt.Errorf("plan: complex plan has no subqueries")
	}
	ids := map[string]bool{}
	for _, sq := range p.SubQueries {
		if sq.ID == "" {
			return fmt.Errorf("plan: subquery with empty id")
		}
		if ids[sq.ID] {
			return fmt.Errorf("plan: duplicate subquery id %q", sq.ID)
		}
		ids[sq.ID] = true
	}
	for _, sq := range p.SubQueries {
		for _, dep := range sq.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("plan: subquery %q depends on unknown id %q", sq.ID, dep)
			}
			if dep == sq.ID {
				return fmt.Errorf("plan: subquery %q depends on itself", sq.ID)
			}
		}
	}
	return p.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func (p *QueryPlan) checkAcyclic() error {
	indegree := map[string]int{}
	dependents := map[string][]string{} // dep -> ids that wait on it
	for _, sq := range p.SubQueries {
		indegree[sq.ID] += 0
		for _, dep := range sq.DependsOn {
			indegree[sq.ID]++
			dependents[dep] = append(dependents[dep], sq.ID)
		}
	}
	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	done := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		done++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if done != len(p.SubQueries) {
		return fmt.Errorf("plan: dependency cycle among subqueries")
	}
	return nil
}

// Ready returns subqueries whose dependencies are all in done and which
// are not themselves done or in flight. Order carries no meaning; callers
// must not rely on it.
func (p *QueryPlan) Ready(done map[string]bool, inflight map[string]bool) []SubQuery {
	var out []SubQuery
	for _, sq := range p.SubQueries {
		if done[sq.ID] || inflight[sq.ID] {
			continue
		}
		ok := true
		for _, dep := range sq.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, sq)
		}
	}
	return out
}

// ByID returns the subquery with the given id.
func (p *QueryPlan) ByID(id string) (SubQuery, bool) {
	for _, sq := range p.SubQueries {
		if sq.ID == id {
			return sq, true
		}
	}
	return SubQuery{}, false
}
