package sqlcheck

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE player_season_stats (
    player_id INTEGER,
    season TEXT,
    points INTEGER,
    assists INTEGER,
    rebounds INTEGER
);
CREATE TABLE players (
    player_id INTEGER PRIMARY KEY,
    full_name TEXT,
    team TEXT,
    position TEXT
);
`

func TestParseSchema(t *testing.T) {
	s := ParseSchema(testSchema)
	require.Len(t, s, 2)
	require.True(t, s["players"]["full_name"])
	require.True(t, s["player_season_stats"]["points"])
	require.False(t, s["players"]["primary"], "constraint lines are not columns")
}

func TestParseSchemaCompositeTypes(t *testing.T) {
	s := ParseSchema(`CREATE TABLE t (a DECIMAL(10,2), b TEXT);`)
	require.True(t, s["t"]["a"])
	require.True(t, s["t"]["b"])
	require.Len(t, s["t"], 2)
}

func TestValidQuery(t *testing.T) {
	out := Validate(`SELECT p.full_name, s.points
FROM players p
JOIN player_season_stats s ON p.player_id = s.player_id
WHERE s.season = '2023-24'
ORDER BY s.points DESC
LIMIT 5;`, testSchema)
	require.True(t, out.Valid, "errors: %v", out.Errors)
}

func TestUnknownColumn(t *testing.T) {
	out := Validate(`SELECT p.nickname FROM players p`, testSchema)
	require.False(t, out.Valid)
	require.Contains(t, out.Errors[0], `column "nickname" not found in table "players"`)
}

func TestUnknownTable(t *testing.T) {
	out := Validate(`SELECT * FROM coaches`, testSchema)
	require.False(t, out.Valid)
	require.Contains(t, out.Errors[0], `table "coaches" is not in the available schema`)
}

func TestForbiddenStatements(t *testing.T) {
	for _, q := range []string{
		`DROP TABLE players`,
		`DELETE FROM players`,
		`SELECT * FROM players; DROP TABLE players`,
		`INSERT INTO players VALUES (1, 'x', 'y', 'z')`,
		`UPDATE players SET team = 'x'`,
	} {
		out := Validate(q, testSchema)
		require.False(t, out.Valid, "expected invalid: %s", q)
	}
}

func TestSyntaxErrors(t *testing.T) {
	for q, want := range map[string]string{
		``:                                 "query is empty",
		`SELECT count( FROM players`:       "unbalanced parentheses",
		`SELECT * FROM players WHERE team = 'Lakers`: "unbalanced string quote",
	} {
		out := Validate(q, testSchema)
		require.False(t, out.Valid)
		require.Contains(t, out.Errors, want, "query: %s", q)
	}
}

func TestCTENamesAreNotUnknownTables(t *testing.T) {
	out := Validate(`WITH top AS (
  SELECT player_id, points FROM player_season_stats
)
SELECT p.full_name, top.points FROM top JOIN players p ON p.player_id = top.player_id`, testSchema)
	require.True(t, out.Valid, "errors: %v", out.Errors)
}

func TestKeywordInsideStringLiteralIsAllowed(t *testing.T) {
	out := Validate(`SELECT full_name FROM players WHERE team = 'DROP squad'`, testSchema)
	require.True(t, out.Valid, "errors: %v", out.Errors)
}

func TestDeterministic(t *testing.T) {
	q := `SELECT p.bogus FROM players p JOIN ghosts g ON g.id = p.player_id`
	a := Validate(q, testSchema)
	b := Validate(q, testSchema)
	require.Equal(t, a, b)
}
