package sla

import (
	"fmt"
	"time"
)

// Grade is the three-level timeliness classification of an item.
type Grade string

const (
	Green Grade = "GREEN"
	Amber Grade = "AMBER"
	Red   Grade = "RED"
)

// Rank orders grades from best (0) to worst (2).
func (g Grade) Rank() int {
	switch g {
	case Green:
		return 0
	case Amber:
		return 1
	default:
		return 2
	}
}

func (g Grade) String() string { return string(g) }

// Rules are the per-project thresholds used to grade items.
type Rules struct {
	AtRiskMinutes int `json:"atRiskMinutes" yaml:"at_risk_minutes"`
	RedMinutes    int `json:"redMinutes" yaml:"red_minutes"`
}

// DefaultRules apply to projects without an override.
var DefaultRules = Rules{AtRiskMinutes: 60, RedMinutes: 120}

// Validate rejects rules that cannot be stored. Score accepts any value.
func (r Rules) Validate() error {
	if r.AtRiskMinutes < 0 {
		return fmt.Errorf("invalid atRiskMinutes %d: must be >= 0", r.AtRiskMinutes)
	}
	if r.RedMinutes < 0 {
		return fmt.Errorf("invalid redMinutes %d: must be >= 0", r.RedMinutes)
	}
	return nil
}

func (r Rules) atRisk() time.Duration { return time.Duration(r.AtRiskMinutes) * time.Minute }
func (r Rules) red() time.Duration    { return time.Duration(r.RedMinutes) * time.Minute }

// Score grades an item due at dueAt as of now. A submitted item is graded on
// its submission time alone; an outstanding one degrades as now advances.
// Boundary instants resolve to the better grade.
func Score(dueAt time.Time, submittedAt *time.Time, rules Rules, now time.Time) Grade {
	redAt := dueAt.Add(rules.red())
	if submittedAt != nil {
		switch {
		case !submittedAt.After(dueAt):
			return Green
		case !submittedAt.After(redAt):
			return Amber
		default:
			return Red
		}
	}
	switch {
	case !now.After(dueAt.Add(-rules.atRisk())):
		return Green
	case !now.After(redAt):
		return Amber
	default:
		return Red
	}
}

// Overdue reports whether an outstanding item is past its due time.
func Overdue(dueAt time.Time, submittedAt *time.Time, now time.Time) bool {
	return submittedAt == nil && dueAt.Before(now)
}
