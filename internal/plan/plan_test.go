package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"statline/internal/llm"
)

func TestValidateSimple(t *testing.T) {
	p := &QueryPlan{Complexity: Simple}
	require.NoError(t, p.Validate())
}

func TestValidateRejectsCycle(t *testing.T) {
	p := &QueryPlan{Complexity: Complex, SubQueries: []SubQuery{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := &QueryPlan{Complexity: Complex, SubQueries: []SubQuery{
		{ID: "a", DependsOn: []string{"ghost"}},
	}}
	require.Error(t, p.Validate())
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	p := &QueryPlan{Complexity: Complex, SubQueries: []SubQuery{
		{ID: "a"}, {ID: "a"},
	}}
	require.Error(t, p.Validate())
}

func TestReadyRespectsDependencies(t *testing.T) {
	p := &QueryPlan{Complexity: Complex, SubQueries: []SubQuery{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}}
	require.NoError(t, p.Validate())

	ready := p.Ready(map[string]bool{}, map[string]bool{})
	ids := []string{ready[0].ID, ready[1].ID}
	require.ElementsMatch(t, []string{"a", "b"}, ids)

	ready = p.Ready(map[string]bool{"a": true}, map[string]bool{"b": true})
	require.Empty(t, ready)

	ready = p.Ready(map[string]bool{"a": true, "b": true}, map[string]bool{})
	require.Len(t, ready, 1)
	require.Equal(t, "c", ready[0].ID)
}

func TestPlannerSimple(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"plan": {llm.JSON(map[string]any{"complexity": "simple"})},
	})
	p := &Planner{LLM: fake}
	got, err := p.Plan(context.Background(), "top scorers", "players, stats")
	require.NoError(t, err)
	require.Equal(t, Simple, got.Complexity)
}

func TestPlannerComplexDAG(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"plan": {llm.JSON(map[string]any{
			"complexity": "complex",
			"sub_queries": []map[string]any{
				{"id": "best_a", "description": "best season for A"},
				{"id": "best_b", "description": "best season for B"},
				{"id": "compare", "description": "compare the two", "depends_on": []string{"best_a", "best_b"}},
			},
			"combination_strategy": "chain",
		})},
	})
	p := &Planner{LLM: fake}
	got, err := p.Plan(context.Background(), "compare A's and B's best seasons", "stats")
	require.NoError(t, err)
	require.Equal(t, Complex, got.Complexity)
	require.Len(t, got.SubQueries, 3)
	require.Equal(t, "chain", got.CombinationStrategy)
}

func TestPlannerMalformedDegradesToSimple(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"plan": {llm.Text(`[1,2,3]`)},
	})
	p := &Planner{LLM: fake}
	got, err := p.Plan(context.Background(), "q", "t")
	require.NoError(t, err)
	require.Equal(t, Simple, got.Complexity)
}

func TestPlannerCyclicDegradesToSimple(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"plan": {llm.JSON(map[string]any{
			"complexity": "complex",
			"sub_queries": []map[string]any{
				{"id": "a", "description": "x", "depends_on": []string{"b"}},
				{"id": "b", "description": "y", "depends_on": []string{"a"}},
			},
		})},
	})
	p := &Planner{LLM: fake}
	got, err := p.Plan(context.Background(), "q", "t")
	require.NoError(t, err)
	require.Equal(t, Simple, got.Complexity)
}

func TestPlannerOracleErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	fake := llm.NewFake(map[string][]llm.Response{
		"plan": {llm.Fail(boom)},
	})
	p := &Planner{LLM: fake}
	_, err := p.Plan(context.Background(), "q", "t")
	require.ErrorIs(t, err, boom)
}
