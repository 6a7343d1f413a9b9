// Package sqlcheck validates generated SQL against a textual schema before
// it is ever executed. Validation is a pure function of (query, schema):
// no database handle, no network, fully deterministic.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// Outcome is the result of validating one query candidate.
type Outcome struct {
	Valid  bool     `json:"is_valid"`
	Errors []string `json:"errors,omitempty"`
}

var forbiddenKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|REPLACE|COPY|MERGE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|VACUUM|EXPORT|IMPORT|INSTALL|LOAD|SET|CALL)\b`)

// Validate checks syntactic well-formedness and then every table/column
// reference against the supplied schema text. An invalid Outcome lists one
// message per violation; messages are replayed verbatim into the next
// oracle prompt.
func Validate(query, schemaText string) Outcome {
	errs := CheckSyntax(query)
	if len(errs) == 0 {
		errs = append(errs, checkReferences(query, ParseSchema(schemaText))...)
	}
	return Outcome{Valid: len(errs) == 0, Errors: errs}
}

// CheckSyntax verifies the candidate is a single read statement with
// balanced quoting. It is intentionally shallow: the execution gateway's
// database does the full parse, this gate only has to catch what would
// waste an execution attempt or smuggle in a write.
func CheckSyntax(query string) []string {
	var errs []string
	q := strings.TrimSpace(query)
	if q == "" {
		return []string{"query is empty"}
	}
	stripped := stripStrings(q)
	if i := strings.Index(stripped, ";"); i >= 0 && strings.TrimSpace(stripped[i+1:]) != "" {
		errs = append(errs, "multiple statements are not allowed")
	}
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		errs = append(errs, "statement must begin with SELECT or WITH")
	}
	if m := forbiddenKeywords.FindString(stripped); m != "" {
		errs = append(errs, fmt.Sprintf("forbidden keyword %q: only read-only queries are allowed", strings.ToUpper(m)))
	}
	if d := parenDepth(stripped); d != 0 {
		errs = append(errs, "unbalanced parentheses")
	}
	if strings.Count(q, "'")%2 != 0 {
		errs = append(errs, "unbalanced string quote")
	}
	return errs
}

// stripStrings blanks out single-quoted literals so keyword and statement
// scans do not trip on quoted text.
func stripStrings(q string) string {
	var b strings.Builder
	inStr := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c == '\'' {
			inStr = !inStr
			b.WriteByte(' ')
			continue
		}
		if inStr {
			b.WriteByte(' ')
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func parenDepth(q string) int {
	d := 0
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '(':
			d++
		case ')':
			d--
		}
	}
	return d
}

var (
	fromPattern  = regexp.MustCompile(`(?i)\bFROM\s+["']?([A-Za-z_][\w]*)["']?(?:\s+(?:AS\s+)?([A-Za-z_][\w]*))?`)
	joinPattern  = regexp.MustCompile(`(?i)\bJOIN\s+["']?([A-Za-z_][\w]*)["']?(?:\s+(?:AS\s+)?([A-Za-z_][\w]*))?`)
	columnRef    = regexp.MustCompile(`([A-Za-z_][\w]*)\s*\.\s*([A-Za-z_][\w]*)`)
	withClause   = regexp.MustCompile(`(?i)\b(?:WITH(?:\s+RECURSIVE)?|,)\s+([A-Za-z_][\w]*)\s+AS\s*\(`)
	reservedWord = map[string]bool{
		"where": true, "join": true, "on": true, "group": true, "order": true,
		"limit": true, "having": true, "union": true, "left": true, "right": true,
		"inner": true, "outer": true, "cross": true, "select": true, "as": true,
	}
)

// checkReferences resolves every FROM/JOIN table and every qualified
// column against the schema. CTE names declared in a WITH clause count as
// known tables with unknown columns (their refs are skipped rather than
// false-positived).
func checkReferences(query string, schema Schema) []string {
	var errs []string
	stripped := stripStrings(query)

	ctes := map[string]bool{}
	for _, m := range withClause.FindAllStringSubmatch(stripped, -1) {
		ctes[strings.ToLower(m[1])] = true
	}

	aliases := map[string]string{} // alias -> table
	var referenced []string
	for _, pat := range []*regexp.Regexp{fromPattern, joinPattern} {
		for _, m := range pat.FindAllStringSubmatch(stripped, -1) {
			table, alias := m[1], m[2]
			referenced = append(referenced, table)
			if alias != "" && !reservedWord[strings.ToLower(alias)] {
				aliases[strings.ToLower(alias)] = strings.ToLower(table)
			}
		}
	}

	for _, table := range referenced {
		lt := strings.ToLower(table)
		if ctes[lt] {
			continue
		}
		if _, ok := schema[lt]; !ok {
			errs = append(errs, fmt.Sprintf("table %q is not in the available schema", table))
		}
	}

	for _, m := range columnRef.FindAllStringSubmatch(stripped, -1) {
		qualifier, column := strings.ToLower(m[1]), strings.ToLower(m[2])
		table := qualifier
		if t, ok := aliases[qualifier]; ok {
			table = t
		}
		if ctes[table] {
			continue
		}
		cols, ok := schema[table]
		if !ok {
			// Not a table or alias we know; likely a function call or
			// numeric literal match. Skip rather than guess.
			continue
		}
		if !cols[column] {
			errs = append(errs, fmt.Sprintf("column %q not found in table %q", m[2], table))
		}
	}
	return errs
}
