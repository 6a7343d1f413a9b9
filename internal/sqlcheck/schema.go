package sqlcheck

import (
	"regexp"
	"strings"
)

// Schema maps lower-cased table names to their lower-cased column sets,
// parsed from CREATE TABLE DDL text. The textual form is the contract with
// the catalog service; nothing stronger than name lookup is implied.
type Schema map[string]map[string]bool

var createTable = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["']?([A-Za-z_][\w]*)["']?\s*\((.*?)\)\s*;`)

var constraintPrefix = map[string]bool{
	"primary": true, "foreign": true, "unique": true, "check": true, "constraint": true,
}

// ParseSchema extracts table and column names from schema text.
func ParseSchema(schemaText string) Schema {
	out := Schema{}
	for _, m := range createTable.FindAllStringSubmatch(schemaText, -1) {
		table := strings.ToLower(m[1])
		cols := map[string]bool{}
		for _, line := range splitColumns(m[2]) {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			name := strings.Trim(strings.Fields(line)[0], `"'`)
			if name == "" || constraintPrefix[strings.ToLower(name)] {
				continue
			}
			cols[strings.ToLower(name)] = true
		}
		out[table] = cols
	}
	return out
}

// splitColumns splits a column block on commas at paren depth zero, so
// types like DECIMAL(10,2) survive intact.
func splitColumns(block string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(block); i++ {
		switch block[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, block[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, block[start:])
	return parts
}
