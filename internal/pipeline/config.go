package pipeline

import "time"

// Config bounds one run. Zero values are replaced by defaults in New, so
// callers only set what they care about.
type Config struct {
	GenRetries     int           // query repairs per subquery, shared with execution failures
	GradeRetries   int           // draft/grade iterations, independent of GenRetries
	ExecTimeout    time.Duration // per-query store deadline
	RunTimeout     time.Duration // whole Answer call
	Workers        int           // concurrent subqueries for complex plans
	HistoryWindow  int           // turns fed to question resolution
	CandidateLimit int           // table pre-filter bound
	MaxSelected    int           // final table subset cap
}

func (c Config) withDefaults() Config {
	if c.GenRetries <= 0 {
		c.GenRetries = 3
	}
	if c.GradeRetries <= 0 {
		c.GradeRetries = 2
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 120 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 5
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 10
	}
	if c.MaxSelected <= 0 {
		c.MaxSelected = 5
	}
	return c
}
