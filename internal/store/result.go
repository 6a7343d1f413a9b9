package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// TabularResult is the shape every downstream consumer (cross-validator,
// analyzer, grader) works with. Rows are capped at the gateway's MaxRows;
// Truncated records whether the cap was hit.
type TabularResult struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

func (r *TabularResult) RowCount() int    { return len(r.Rows) }
func (r *TabularResult) ColumnCount() int { return len(r.Columns) }

// Empty reports a zero-row result. Valid SQL can legitimately return
// nothing, but an empty result often means a wrong query; callers flag it
// to the grader rather than treating it as an error.
func (r *TabularResult) Empty() bool { return r == nil || len(r.Rows) == 0 }

// Preview renders up to n rows as aligned text for oracle prompts.
func (r *TabularResult) Preview(n int) string {
	if r.Empty() {
		return "Empty result set"
	}
	if n <= 0 || n > len(r.Rows) {
		n = len(r.Rows)
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteByte('\n')
	for _, row := range r.Rows[:n] {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteByte('\n')
	}
	if n < len(r.Rows) {
		fmt.Fprintf(&b, "... (%d more rows)\n", len(r.Rows)-n)
	}
	return b.String()
}

// FirstRowMap returns the first row keyed by column name, the form the
// cross-validator compares entity metrics in.
func (r *TabularResult) FirstRowMap() map[string]any {
	if r.Empty() {
		return nil
	}
	out := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Rows[0]) {
			out[c] = r.Rows[0][i]
		}
	}
	return out
}

func scanRows(rows *sql.Rows, maxRows int) (*TabularResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &TabularResult{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	return res, rows.Err()
}
