// Package catalog exposes the dataset's table descriptors and schema text
// and narrows the full catalog to the small subset relevant to a question.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"statline/internal/sqlcheck"
	"statline/internal/store"
)

// TableDescriptor describes one table of the governed dataset. Descriptors
// are read-only to everything outside this package.
type TableDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RowCount    int64    `json:"row_count,omitempty"`
	Columns     []string `json:"columns,omitempty"`
}

// Service answers schema lookups. Descriptors are loaded once from the
// store and cached; the dataset schema does not change within a process.
type Service struct {
	db           *store.DB
	descriptions map[string]string

	loadOnce sync.Once
	loadErr  error
	tables   []TableDescriptor
	ddl      map[string]string
}

// NewService builds a catalog over the store. descriptions optionally maps
// table names to human descriptions; tables without one fall back to a
// column-derived summary.
func NewService(db *store.DB, descriptions map[string]string) *Service {
	return &Service{db: db, descriptions: descriptions}
}

// ListTables returns descriptors for every user table, ordered by name.
func (s *Service) ListTables(ctx context.Context) ([]TableDescriptor, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]TableDescriptor, len(s.tables))
	copy(out, s.tables)
	return out, nil
}

// SchemaFor returns concatenated CREATE TABLE text for the given subset,
// sufficient for reference checking. Unknown names are an error; the
// selector only passes names it got from ListTables.
func (s *Service) SchemaFor(ctx context.Context, names []string) (string, error) {
	if err := s.load(ctx); err != nil {
		return "", err
	}
	var parts []string
	for _, n := range names {
		ddl, ok := s.ddl[strings.ToLower(n)]
		if !ok {
			return "", fmt.Errorf("catalog: unknown table %q", n)
		}
		parts = append(parts, ddl)
	}
	return strings.Join(parts, "\n"), nil
}

func (s *Service) load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		names, err := s.db.Tables(ctx)
		if err != nil {
			s.loadErr = err
			return
		}
		sort.Strings(names)
		s.ddl = make(map[string]string, len(names))
		for _, name := range names {
			ddl, err := s.db.DDL(ctx, name)
			if err != nil {
				s.loadErr = err
				return
			}
			s.ddl[strings.ToLower(name)] = ddl

			var cols []string
			for c := range sqlcheck.ParseSchema(ddl)[strings.ToLower(name)] {
				cols = append(cols, c)
			}
			sort.Strings(cols)

			desc := s.descriptions[name]
			if desc == "" {
				desc = fmt.Sprintf("columns: %s", strings.Join(cols, ", "))
			}
			rc, err := s.db.RowCount(ctx, name)
			if err != nil {
				rc = 0
			}
			s.tables = append(s.tables, TableDescriptor{
				Name:        name,
				Description: desc,
				RowCount:    rc,
				Columns:     cols,
			})
		}
	})
	return s.loadErr
}
