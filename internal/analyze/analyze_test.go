package analyze

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statline/internal/llm"
	"statline/internal/store"
)

func testEvidence() Evidence {
	return Evidence{
		Question: "Who led the league in scoring?",
		SQL:      "SELECT full_name, points_per_game FROM player_season_stats ORDER BY points_per_game DESC LIMIT 1",
		Results: []*store.TabularResult{{
			Columns: []string{"full_name", "points_per_game"},
			Rows:    [][]any{{"Luka Doncic", 33.9}},
		}},
	}
}

func TestDraftSuccess(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"draft": {
			llm.JSON(map[string]string{
				"answer":      "Luka Doncic led the league with 33.9 points per game.",
				"methodology": "Ranked players by points per game and took the top row.",
			}),
		},
	})
	a := &Analyzer{LLM: fake}

	d, err := a.Draft(context.Background(), testEvidence())
	require.NoError(t, err)
	assert.Contains(t, d.Answer, "Luka Doncic")
	assert.NotEmpty(t, d.Methodology)

	// The evidence rows must be in the prompt for grounding.
	prompt := fake.Calls()[0].Prompt
	assert.Contains(t, prompt, "Luka Doncic | 33.9")
}

func TestDraftMalformedResponseIsError(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"draft": {llm.Text(`{"answer": 7}`)},
	})
	a := &Analyzer{LLM: fake}

	_, err := a.Draft(context.Background(), testEvidence())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed draft")
}

func TestDraftAppendsDroppedWarnings(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"draft": {
			llm.JSON(map[string]string{
				"answer":      "He has scored 25000 career points.",
				"methodology": "Summed season totals.",
			}),
		},
	})
	a := &Analyzer{LLM: fake}

	ev := testEvidence()
	ev.Warnings = []string{"sources disagree on career_points: governed store reports 25000, live feed reports 30000"}
	d, err := a.Draft(context.Background(), ev)
	require.NoError(t, err)
	assert.Contains(t, d.Answer, "sources disagree on career_points")
}

func TestGradePass(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"grade": {
			llm.JSON(map[string]any{
				"status": "PASS", "confidence": 0.92,
				"issues": []string{}, "suggestions": []string{},
			}),
		},
	})
	g := &Grader{LLM: fake}

	fb, err := g.Grade(context.Background(), "q", &Draft{Answer: "a", Methodology: "m"}, testEvidence())
	require.NoError(t, err)
	assert.Equal(t, StatusPass, fb.Status)
	assert.Equal(t, 0.92, fb.Confidence)
}

func TestGradeFailCarriesIssues(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"grade": {
			llm.JSON(map[string]any{
				"status": "FAIL", "confidence": 0.3,
				"issues":      []string{"cites 40.0 ppg which is not in the data"},
				"suggestions": []string{"use the points_per_game column from the result"},
			}),
		},
	})
	g := &Grader{LLM: fake}

	fb, err := g.Grade(context.Background(), "q", &Draft{Answer: "a"}, testEvidence())
	require.NoError(t, err)
	assert.Equal(t, StatusFail, fb.Status)
	require.Len(t, fb.Issues, 1)
	require.Len(t, fb.Suggestions, 1)
}

func TestGradeMalformedDefaultsToPass(t *testing.T) {
	for _, raw := range []string{`"not an object"`, `{"status":"MAYBE"}`, `{]`} {
		fake := llm.NewFake(map[string][]llm.Response{
			"grade": {llm.Text(raw)},
		})
		g := &Grader{LLM: fake}

		fb, err := g.Grade(context.Background(), "q", &Draft{Answer: "a"}, testEvidence())
		require.NoError(t, err, raw)
		assert.Equal(t, StatusPass, fb.Status, raw)
		assert.Equal(t, DefaultConfidence, fb.Confidence, raw)
	}
}

func TestGradeOracleErrorPropagates(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"grade": {llm.Fail(assert.AnError)},
	})
	g := &Grader{LLM: fake}

	_, err := g.Grade(context.Background(), "q", &Draft{Answer: "a"}, testEvidence())
	require.ErrorIs(t, err, assert.AnError)
}

func TestGradeLowercaseStatusNormalized(t *testing.T) {
	fake := llm.NewFake(map[string][]llm.Response{
		"grade": {llm.JSON(map[string]any{"status": "pass", "confidence": 0.8})},
	})
	g := &Grader{LLM: fake}

	fb, err := g.Grade(context.Background(), "q", &Draft{Answer: "a"}, testEvidence())
	require.NoError(t, err)
	assert.Equal(t, StatusPass, fb.Status)
}
