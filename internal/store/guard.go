package store

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_][\w]*$`)
	writeKeyword   = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|REPLACE|COPY|MERGE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|VACUUM|EXPORT|IMPORT|INSTALL|LOAD|SET|CALL)\b`)
	trailingSemis  = regexp.MustCompile(`;\s*$`)
)

// guard refuses any statement that is not a single SELECT/WITH query.
// This runs on every execution regardless of what validation upstream
// concluded; the refusal is a hard invariant of the gateway.
func guard(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return &ExecutionError{Kind: ErrForbidden, Query: query, Message: "empty statement"}
	}
	scrubbed := scrubLiterals(trailingSemis.ReplaceAllString(q, ""))
	if strings.Contains(scrubbed, ";") {
		return &ExecutionError{Kind: ErrForbidden, Query: query, Message: "multiple statements refused"}
	}
	upper := strings.ToUpper(strings.TrimSpace(scrubbed))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return &ExecutionError{Kind: ErrForbidden, Query: query, Message: "only SELECT statements are executed"}
	}
	if m := writeKeyword.FindString(scrubbed); m != "" {
		return &ExecutionError{Kind: ErrForbidden, Query: query,
			Message: fmt.Sprintf("statement refused: %s is not permitted on a read-only store", strings.ToUpper(m))}
	}
	return nil
}

func scrubLiterals(q string) string {
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
