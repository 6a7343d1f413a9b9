package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"statline/internal/llm"
)

// ErrNoRelevantTables marks a question no catalog table can serve. The
// orchestrator surfaces it as unanswerable; it is never retried.
var ErrNoRelevantTables = errors.New("catalog: no relevant tables for question")

// minSelected is the floor of the selection contract: selections are
// topped up to this size from the ranked candidates when available.
const minSelected = 3

// Selection is the selector's output: the chosen tables in oracle order,
// a one-line justification per table, and the concatenated schema text
// the generator validates against.
type Selection struct {
	Tables     []string
	Reasons    map[string]string
	SchemaText string
	Candidates []string
}

// Selector narrows the catalog for one question: similarity pre-filter to
// a bounded candidate set, then oracle confirmation of the final subset.
type Selector struct {
	Catalog        *Service
	LLM            llm.Client
	CandidateLimit int // pre-filter bound, default 10
	MaxSelected    int // final subset cap, default 5
	Logger         *slog.Logger
}

const selectPrompt = `Given a user question about the dataset, select the most relevant tables.

Question: %s

Candidate tables (pre-filtered by relevance):
%s

Select 3-5 tables that would be needed to answer this question.
Consider:
- Which tables contain the metrics mentioned?
- Which tables would need to be JOINed?
- Are there lookup/dimension tables needed?

Return STRICT JSON ONLY:
{"selected_tables": [{"table_name": "string", "reason": "string"}]}`

type selectResponse struct {
	SelectedTables []struct {
		TableName string `json:"table_name"`
		Reason    string `json:"reason"`
	} `json:"selected_tables"`
}

// Select runs the two-stage selection. An empty candidate set returns
// ErrNoRelevantTables rather than forcing a choice.
func (s *Selector) Select(ctx context.Context, question string) (*Selection, error) {
	limit := s.CandidateLimit
	if limit <= 0 {
		limit = 10
	}
	maxSel := s.MaxSelected
	if maxSel <= 0 {
		maxSel = 5
	}

	all, err := s.Catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	candidates := prefilter(question, all, limit)
	if len(candidates) == 0 {
		return nil, ErrNoRelevantTables
	}

	selected, reasons := s.confirm(ctx, question, candidates, maxSel)
	if len(selected) == 0 {
		// Oracle declined or answered garbage; fall back to the
		// top-scored candidates so the run can proceed.
		for _, c := range candidates {
			selected = append(selected, c.Name)
			if len(selected) == maxSel {
				break
			}
		}
	}
	// The selection contract is 3-5 tables when the catalog allows: a
	// too-narrow confirmation is topped up from the ranked candidates so
	// the generator sees join and dimension tables the oracle skipped.
	floor := minSelected
	if maxSel < floor {
		floor = maxSel
	}
	if len(selected) < floor {
		chosen := make(map[string]bool, len(selected))
		for _, name := range selected {
			chosen[name] = true
		}
		for _, c := range candidates {
			if len(selected) >= floor {
				break
			}
			if chosen[c.Name] {
				continue
			}
			selected = append(selected, c.Name)
			chosen[c.Name] = true
		}
	}

	schema, err := s.Catalog.SchemaFor(ctx, selected)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("tables selected",
			"candidates", len(candidates), "selected", strings.Join(selected, ","))
	}
	candNames := make([]string, len(candidates))
	for i, c := range candidates {
		candNames[i] = c.Name
	}
	return &Selection{Tables: selected, Reasons: reasons, SchemaText: schema, Candidates: candNames}, nil
}

func (s *Selector) confirm(ctx context.Context, question string, candidates []TableDescriptor, maxSel int) ([]string, map[string]string) {
	var lines []string
	valid := map[string]bool{}
	for _, td := range candidates {
		valid[td.Name] = true
		cols := td.Columns
		if len(cols) > 8 {
			cols = cols[:8]
		}
		row := fmt.Sprintf("- %s", td.Name)
		if td.RowCount > 0 {
			row += fmt.Sprintf(" (%d rows)", td.RowCount)
		}
		row += fmt.Sprintf(": %s\n  Columns: %s", td.Description, strings.Join(cols, ", "))
		lines = append(lines, row)
	}

	prompt := fmt.Sprintf(selectPrompt, question, strings.Join(lines, "\n"))
	raw, err := s.LLM.GenerateJSON(llm.WithPhase(ctx, "select_tables"), prompt, nil)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("table confirmation failed, using pre-filter order", "err", err)
		}
		return nil, nil
	}
	var resp selectResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil
	}
	var selected []string
	reasons := map[string]string{}
	for _, item := range resp.SelectedTables {
		if !valid[item.TableName] {
			continue
		}
		selected = append(selected, item.TableName)
		reasons[item.TableName] = item.Reason
		if len(selected) == maxSel {
			break
		}
	}
	return selected, reasons
}
