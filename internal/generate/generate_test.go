package generate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statline/internal/llm"
)

const testSchema = `CREATE TABLE players (
    player_id INTEGER PRIMARY KEY,
    full_name TEXT,
    team TEXT
);

CREATE TABLE player_season_stats (
    player_id INTEGER,
    season TEXT,
    points_per_game REAL,
    rebounds_per_game REAL
);`

func newGen(fake *llm.Fake) *Generator {
	return &Generator{LLM: fake, MaxRetries: 3}
}

func TestGenerateFirstAttemptValid(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{
				"thinking": "straight lookup",
				"sql":      "SELECT full_name, team FROM players ORDER BY full_name",
			}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "list all players",
		SchemaText: testSchema,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT full_name, team FROM players ORDER BY full_name", res.SQL)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Validation.Valid)
	assert.Equal(t, 1, fake.CallCount("generate_sql"))
}

func TestGenerateRepairsUnknownColumn(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{
				"sql": "SELECT s.ppg FROM player_season_stats s ORDER BY s.ppg DESC",
			}),
			llm.JSON(map[string]string{
				"sql": "SELECT s.points_per_game FROM player_season_stats s ORDER BY s.points_per_game DESC",
			}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "highest scoring average",
		SchemaText: testSchema,
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Validation.Valid)
	assert.True(t, res.Attempts[1].Validation.Valid)

	// The second prompt must replay the first attempt's errors.
	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0].Prompt, "previous attempt")
	assert.Contains(t, calls[1].Prompt, "previous attempt")
	assert.Contains(t, calls[1].Prompt, res.Attempts[0].Validation.Errors[0])
}

func TestGenerateBudgetExhaustion(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{"sql": "SELECT players.nope FROM players"}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "something impossible",
		SchemaText: testSchema,
	})
	require.ErrorIs(t, err, ErrFallback)
	assert.Empty(t, res.SQL)
	// Attempt count is hard-capped at MaxRetries+1.
	assert.Len(t, res.Attempts, g.MaxRetries+1)
	for i, a := range res.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.False(t, a.Validation.Valid)
	}
}

func TestGenerateMalformedResponseConsumesBudget(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.Text(`{"sql": 42}`),
			llm.JSON(map[string]string{
				"sql": "SELECT full_name FROM players ORDER BY full_name",
			}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "list players",
		SchemaText: testSchema,
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Validation.Valid)
	assert.Contains(t, res.Attempts[0].Validation.Errors[0], "failed to parse")
	assert.True(t, res.Attempts[1].Validation.Valid)
}

func TestGenerateAlternativeWinsWhenPrimaryUnparseable(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]any{
				"sql": "SELECT full_name FROM players WHERE (team = 'BOS'",
				"alternatives": []string{
					"SELECT full_name FROM players WHERE team = 'BOS' ORDER BY full_name",
				},
			}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "Boston players",
		SchemaText: testSchema,
	})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "ORDER BY full_name")
	assert.Len(t, res.Attempts, 1)
}

func TestGeneratePriorAttemptsShareBudget(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{"sql": "SELECT players.bogus FROM players"}),
		},
	})
	g := newGen(fake)

	prior := []Attempt{
		{Number: 1, SQL: "SELECT x FROM players"},
		{Number: 2, SQL: "SELECT y FROM players"},
		{Number: 3, SQL: "SELECT z FROM players"},
	}
	res, err := g.Generate(context.Background(), Request{
		Question:      "shared budget",
		SchemaText:    testSchema,
		PriorAttempts: prior,
		BudgetSpent:   3,
	})
	require.ErrorIs(t, err, ErrFallback)
	// Only one slot remained of the four-attempt budget.
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 4, res.Attempts[0].Number)
}

func TestGenerateFreshRoundContinuesNumbering(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{"sql": "SELECT players.bogus FROM players"}),
			llm.JSON(map[string]string{
				"sql": "SELECT full_name FROM players ORDER BY full_name",
			}),
		},
	})
	g := newGen(fake)

	// Attempts from an earlier round are context only: they keep their
	// numbers in the prompt, but the retry budget starts over.
	prior := []Attempt{
		{Number: 1, SQL: "SELECT x FROM players"},
		{Number: 2, SQL: "SELECT y FROM players"},
	}
	res, err := g.Generate(context.Background(), Request{
		Question:      "fresh round",
		SchemaText:    testSchema,
		PriorAttempts: prior,
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 3, res.Attempts[0].Number)
	assert.Equal(t, 4, res.Attempts[1].Number)
}

func TestGenerateExecErrorAndGraderNotesInPrompt(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{
				"sql": "SELECT full_name FROM players ORDER BY full_name",
			}),
		},
	})
	g := newGen(fake)

	_, err := g.Generate(context.Background(), Request{
		Question:   "retry after execution failure",
		SchemaText: testSchema,
		PriorAttempts: []Attempt{
			{Number: 1, SQL: "SELECT full_name FROM players ORDER BY missing"},
		},
		ExecError: "no such column: missing",
		Grader: &GraderNotes{
			Issues:      []string{"answer ignored the season filter"},
			Suggestions: []string{"filter on season = '2023-24'"},
		},
	})
	require.NoError(t, err)

	prompt := fake.Calls()[0].Prompt
	assert.Contains(t, prompt, "Execution error: no such column: missing")
	assert.Contains(t, prompt, "answer ignored the season filter")
	assert.Contains(t, prompt, "filter on season = '2023-24'")
	assert.Contains(t, prompt, "SELECT full_name FROM players ORDER BY missing")
}

func TestGenerateOracleErrorPropagates(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {llm.Fail(assert.AnError)},
	})
	g := newGen(fake)

	_, err := g.Generate(context.Background(), Request{
		Question:   "q",
		SchemaText: testSchema,
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestGenerateNeverReturnsUnvalidatedSQL(t *testing.T) {
	// Even a prompt-injection style response with a write statement must
	// come back as a failed attempt, never as result SQL.
	fake := llm.NewFake(map[string][]llm.Response{
		"generate_sql": {
			llm.JSON(map[string]string{"sql": "DROP TABLE players"}),
		},
	})
	g := newGen(fake)

	res, err := g.Generate(context.Background(), Request{
		Question:   "drop it",
		SchemaText: testSchema,
	})
	require.ErrorIs(t, err, ErrFallback)
	assert.Empty(t, res.SQL)
	for _, a := range res.Attempts {
		assert.False(t, a.Validation.Valid)
	}
	hasForbidden := false
	for _, e := range res.Attempts[0].Validation.Errors {
		if strings.Contains(strings.ToLower(e), "read-only") || strings.Contains(strings.ToLower(e), "forbidden") || strings.Contains(strings.ToLower(e), "select") {
			hasForbidden = true
		}
	}
	assert.True(t, hasForbidden)
}
