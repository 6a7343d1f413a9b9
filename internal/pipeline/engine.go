// Package pipeline orchestrates one question's journey through the full
// answering flow: resolve against history, select tables, plan, generate
// and execute validated SQL, cross-validate against the live feed, then
// draft and grade the final answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"statline/internal/analyze"
	"statline/internal/catalog"
	"statline/internal/feed"
	"statline/internal/generate"
	"statline/internal/llm"
	"statline/internal/plan"
	"statline/internal/store"
	"statline/internal/xval"
)

const mainQueryID = "main"

// Answer is the terminal success of one run. Discrepancies and Warnings
// surface cross-source disagreement as data; they are never folded away.
type Answer struct {
	Text          string
	Confidence    float64
	Methodology   string
	Discrepancies []xval.Discrepancy
	Warnings      []string
	Attempts      []generate.Attempt
	Turn          Turn
}

// Engine runs the pipeline. All fields are set at construction and never
// mutated, so one Engine serves concurrent Answer calls; per-run state
// lives in a runState created inside each call.
type Engine struct {
	llm    llm.Client
	store  *store.DB
	feed   *feed.Client // nil = single-source mode
	cfg    Config
	logger *slog.Logger

	selector  *catalog.Selector
	planner   *plan.Planner
	generator *generate.Generator
	analyzer  *analyze.Analyzer
	grader    *analyze.Grader
}

// New wires an engine. fd may be nil to run without a live feed.
func New(client llm.Client, db *store.DB, cat *catalog.Service, fd *feed.Client, cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:    client,
		store:  db,
		feed:   fd,
		cfg:    cfg,
		logger: logger,
		selector: &catalog.Selector{
			Catalog:        cat,
			LLM:            client,
			CandidateLimit: cfg.CandidateLimit,
			MaxSelected:    cfg.MaxSelected,
			Logger:         logger,
		},
		planner:   &plan.Planner{LLM: client},
		generator: &generate.Generator{LLM: client, MaxRetries: cfg.GenRetries, Logger: logger},
		analyzer:  &analyze.Analyzer{LLM: client, Logger: logger},
		grader:    &analyze.Grader{LLM: client, Logger: logger},
	}
}

// Answer runs the full pipeline for one question. history carries prior
// turns for reference resolution; the returned Answer.Turn is what the
// caller appends to its own history, the engine keeps nothing.
func (e *Engine) Answer(ctx context.Context, question string, history []Turn) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	rs := newRunState(question)
	rs.resolved = e.resolve(ctx, question, history)
	e.logger.Debug("question resolved", "raw", question, "resolved", rs.resolved)

	sel, err := e.selector.Select(ctx, rs.resolved)
	if err != nil {
		if errors.Is(err, catalog.ErrNoRelevantTables) {
			return nil, runErr(KindUnanswerable, err)
		}
		return nil, e.classify(err)
	}
	rs.selection = sel
	e.logger.Info("tables selected", "tables", strings.Join(sel.Tables, ","))

	qp, err := e.planner.Plan(ctx, rs.resolved, strings.Join(sel.Tables, ", "))
	if err != nil {
		return nil, e.classify(err)
	}
	rs.plan = qp

	if rerr := e.runPlan(ctx, rs); rerr != nil {
		return nil, rerr
	}

	e.crossValidate(ctx, rs)

	return e.draftAndGrade(ctx, rs)
}

// generateAndExecute runs the reflective loop for one subquery: generate
// until validation passes, execute, and on execution failure regenerate
// with the error replayed. Validation and execution failures share one
// budget. seed carries earlier rounds' attempts: they stay in the log and
// keep their numbering, but a new round's budget starts fresh past them.
func (e *Engine) generateAndExecute(ctx context.Context, rs *runState, id, question, depCtx string, seed []generate.Attempt) *RunError {
	prior := seed
	base := len(seed)
	execErr := ""
	var lastExec *store.ExecutionError
	for {
		res, err := e.generator.Generate(ctx, generate.Request{
			Question:          question,
			SchemaText:        rs.selection.SchemaText,
			PriorAttempts:     prior,
			BudgetSpent:       len(prior) - base,
			ExecError:         execErr,
			Grader:            rs.graderNotes,
			DependencyContext: depCtx,
		})
		prior = append(prior, res.Attempts...)
		rs.setAttempts(id, prior)
		if err != nil {
			if errors.Is(err, generate.ErrFallback) {
				return runErr(exhaustKind(lastExec), err)
			}
			return e.classify(err)
		}

		result, xerr := e.store.ExecuteReadOnly(ctx, res.SQL, e.cfg.ExecTimeout)
		if xerr == nil {
			rs.setResult(id, res.SQL, result)
			return nil
		}
		var ee *store.ExecutionError
		if !errors.As(xerr, &ee) {
			return runErr(KindExecutionFailed, xerr)
		}
		if ctx.Err() != nil {
			// The run deadline, not just the query deadline, is gone.
			return runErr(KindTimeout, xerr)
		}
		lastExec = ee
		execErr = ee.Message
		prior[len(prior)-1].ExecutionError = ee.Message
		rs.setAttempts(id, prior)
		e.logger.Warn("query execution failed, regenerating",
			"subquery", id, "kind", string(ee.Kind), "err", ee.Message)
	}
}

func exhaustKind(lastExec *store.ExecutionError) ErrorKind {
	if lastExec == nil {
		return KindGenerationInvalid
	}
	if lastExec.Kind == store.ErrTimeout {
		return KindTimeout
	}
	return KindExecutionFailed
}

// crossValidate compares the primary result's first row against the live
// feed. Any reason not to compare (no feed, no entity, empty result, feed
// down) degrades to single-source mode, never to a failed run.
func (e *Engine) crossValidate(ctx context.Context, rs *runState) {
	governed := rs.resultFor(rs.terminalID()).FirstRowMap()
	if governed == nil {
		rs.report = xval.Compare(nil, nil)
		return
	}
	if e.feed == nil {
		rs.report = xval.Compare(governed, nil)
		return
	}
	entity := detectEntity(rs.resolved)
	if entity == "" {
		rs.report = xval.Compare(governed, nil)
		return
	}
	metrics := make([]string, 0, len(governed))
	for k := range governed {
		metrics = append(metrics, k)
	}
	snap, err := e.feed.Fetch(ctx, entity, metrics)
	if err != nil {
		e.logger.Warn("live feed unavailable, answering from governed store only",
			"entity", entity, "err", err)
		rs.report = xval.Compare(governed, nil)
		return
	}
	rs.report = xval.Compare(governed, snap)
	if score := rs.report.AgreementScore; score != nil {
		e.logger.Info("cross-validation complete",
			"entity", entity, "agreement", *score,
			"discrepancies", len(rs.report.Discrepancies))
	}
}

// draftAndGrade iterates draft -> grade until PASS or the grading budget
// runs out. A FAIL with budget left regenerates the terminal query with
// the grader's feedback; exhaustion returns the best draft with capped
// confidence instead of dropping the answer.
func (e *Engine) draftAndGrade(ctx context.Context, rs *runState) (*Answer, error) {
	for round := 0; ; round++ {
		ev := rs.evidence()
		draft, err := e.analyzer.Draft(ctx, ev)
		if err != nil {
			return nil, e.classify(err)
		}
		fb, err := e.grader.Grade(ctx, rs.resolved, draft, ev)
		if err != nil {
			return nil, e.classify(err)
		}
		if fb.Status == analyze.StatusPass {
			return rs.finalAnswer(draft, fb.Confidence), nil
		}
		e.logger.Info("draft failed grading", "round", round+1, "issues", len(fb.Issues))
		if round+1 >= e.cfg.GradeRetries {
			ans := rs.finalAnswer(draft, math.Min(fb.Confidence, 0.5))
			ans.Warnings = append(ans.Warnings,
				"this answer did not pass quality checks within the retry budget; treat with reduced confidence")
			return ans, nil
		}
		rs.graderNotes = &generate.GraderNotes{Issues: fb.Issues, Suggestions: fb.Suggestions}
		if rerr := e.regenerate(ctx, rs); rerr != nil {
			ans := rs.finalAnswer(draft, math.Min(fb.Confidence, 0.5))
			ans.Warnings = append(ans.Warnings,
				fmt.Sprintf("could not improve the answer after grading feedback: %v", rerr))
			return ans, nil
		}
	}
}

// regenerate re-runs the terminal subquery after a grading failure. The
// existing attempt log seeds the round, so earlier attempts stay in place
// and numbering continues; the repair budget itself starts fresh. Complex
// plans keep the subquery framing and its dependency results.
func (e *Engine) regenerate(ctx context.Context, rs *runState) *RunError {
	id := rs.terminalID()
	seed := rs.attemptsFor(id)
	question := rs.resolved
	depCtx := ""
	if rs.plan != nil && rs.plan.Complexity == plan.Complex {
		if sq, ok := rs.plan.ByID(id); ok {
			question = subQuestion(rs.resolved, sq)
			depCtx = rs.dependencyContext(sq.DependsOn)
		}
	}
	return e.generateAndExecute(ctx, rs, id, question, depCtx, seed)
}

func (rs *runState) finalAnswer(d *analyze.Draft, confidence float64) *Answer {
	ans := &Answer{
		Text:        d.Answer,
		Confidence:  confidence,
		Methodology: d.Methodology,
		Attempts:    rs.allAttempts(),
		Turn:        Turn{Question: rs.question, Answer: d.Answer},
	}
	if rs.report != nil {
		ans.Discrepancies = rs.report.Discrepancies
		ans.Warnings = append(ans.Warnings, rs.report.Warnings...)
	}
	return ans
}

// classify maps a non-fallback failure from an oracle-backed stage: a run
// deadline is a timeout, everything else (breaker open, permanent API
// error, transport failure) means the oracle is unavailable.
func (e *Engine) classify(err error) *RunError {
	if errors.Is(err, context.DeadlineExceeded) {
		return runErr(KindTimeout, err)
	}
	return runErr(KindOracle, err)
}
