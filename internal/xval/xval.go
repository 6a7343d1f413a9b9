// Package xval reconciles answers drawn from the governed store against
// the live feed. The governed store is authoritative for history but lags
// in-game; the feed is fresh but shallow. Comparison is pure and
// deterministic: same inputs, same report, no oracle involved.
package xval

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"statline/internal/feed"
)

// Severity buckets a numeric disagreement by relative difference.
type Severity string

const (
	SeverityMinor    Severity = "minor"    // < 1%
	SeverityModerate Severity = "moderate" // 1% - 5%
	SeverityMajor    Severity = "major"    // > 5%
)

// FieldClass drives which source wins during reconciliation.
type FieldClass string

const (
	ClassIdentity   FieldClass = "identity"   // names, teams, positions
	ClassLive       FieldClass = "live"       // in-progress values
	ClassHistorical FieldClass = "historical" // season and career aggregates
)

// Discrepancy is one field where the two sources disagree.
type Discrepancy struct {
	Field        string     `json:"field"`
	Governed     any        `json:"governed"`
	Live         any        `json:"live"`
	RelativeDiff float64    `json:"relative_diff,omitempty"`
	Severity     Severity   `json:"severity"`
	Class        FieldClass `json:"class"`
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: governed=%v live=%v (%s)", d.Field, d.Governed, d.Live, d.Severity)
}

// Report is the full comparison outcome. AgreementScore is one minus the
// mean relative difference across compared fields, clamped to [0,1]; it is
// nil in single-source mode, since absence of comparison is not agreement.
type Report struct {
	AgreementScore *float64       `json:"agreement_score"`
	Discrepancies  []Discrepancy  `json:"discrepancies"`
	Reconciled     map[string]any `json:"reconciled"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// SingleSource returns whether the report was built without a live feed.
func (r *Report) SingleSource() bool { return r.AgreementScore == nil }

// Compare builds a report from governed values and an optional live
// snapshot. live == nil means single-source mode: governed values pass
// through untouched and no score is computed.
func Compare(governed map[string]any, live *feed.Snapshot) *Report {
	rep := &Report{Reconciled: make(map[string]any, len(governed))}
	for k, v := range governed {
		rep.Reconciled[k] = v
	}
	if live == nil {
		return rep
	}

	keys := make([]string, 0, len(governed))
	for k := range governed {
		if _, ok := live.Fields[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	diffSum := 0.0
	for _, k := range keys {
		gv, lv := governed[k], live.Fields[k]
		class := Classify(k)

		gn, gok := asNumber(gv)
		ln, lok := asNumber(lv)
		switch {
		case gok && lok:
			diff := relativeDiff(gn, ln)
			diffSum += diff
			if diff < 0.01 {
				if diff > 0 {
					// Sub-threshold drift still reconciles by class.
					rep.Reconciled[k] = reconcile(class, SeverityMinor, gv, lv)
				}
				continue
			}
			sev := severityOf(diff)
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Field: k, Governed: gv, Live: lv,
				RelativeDiff: diff, Severity: sev, Class: class,
			})
			rep.Reconciled[k] = reconcile(class, sev, gv, lv)
			if class == ClassHistorical && sev == SeverityMajor {
				// Neither source wins outright; carry both values forward.
				rep.Reconciled[k] = map[string]any{"store": gv, "feed": lv}
				rep.Warnings = append(rep.Warnings, fmt.Sprintf(
					"sources disagree on %s: governed store reports %v, live feed reports %v", k, gv, lv))
			}
		case fmt.Sprint(gv) == fmt.Sprint(lv):
			// Agreement contributes zero to the diff sum.
		default:
			diffSum += 1
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Field: k, Governed: gv, Live: lv,
				Severity: SeverityMajor, Class: class,
			})
			rep.Reconciled[k] = reconcile(class, SeverityMajor, gv, lv)
			if class == ClassHistorical {
				rep.Reconciled[k] = map[string]any{"store": gv, "feed": lv}
				rep.Warnings = append(rep.Warnings, fmt.Sprintf(
					"sources disagree on %s: governed store reports %v, live feed reports %v", k, gv, lv))
			}
		}
	}
	if len(keys) > 0 {
		score := 1 - diffSum/float64(len(keys))
		score = math.Max(0, math.Min(1, score))
		rep.AgreementScore = &score
	}
	return rep
}

// reconcile picks the winning value. Live and identity fields trust the
// feed; historical fields trust the governed store. A major historical
// disagreement still keeps the governed value but is surfaced as a
// warning so the reader sees both numbers.
func reconcile(class FieldClass, _ Severity, governed, live any) any {
	switch class {
	case ClassLive, ClassIdentity:
		return live
	default:
		return governed
	}
}

func severityOf(diff float64) Severity {
	switch {
	case diff > 0.05:
		return SeverityMajor
	case diff >= 0.01:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

var identityFields = map[string]bool{
	"name": true, "full_name": true, "first_name": true, "last_name": true,
	"team": true, "team_name": true, "position": true, "jersey_number": true,
	"height": true, "weight": true, "birthdate": true, "country": true,
	"player_id": true, "entity_id": true,
}

var livePrefixes = []string{"current_", "today_", "live_", "last_game_"}

var liveFields = map[string]bool{
	"status": true, "streak": true, "minutes_played": true,
}

// Classify maps a field name to its reconciliation class.
func Classify(field string) FieldClass {
	f := strings.ToLower(field)
	if identityFields[f] {
		return ClassIdentity
	}
	if liveFields[f] {
		return ClassLive
	}
	for _, p := range livePrefixes {
		if strings.HasPrefix(f, p) {
			return ClassLive
		}
	}
	return ClassHistorical
}

func relativeDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
