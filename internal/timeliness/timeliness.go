// Package timeliness folds graded items into summary, per-project and daily
// trend views.
package timeliness

import (
	"sort"
	"time"

	"opssync/internal/domain"
	"opssync/internal/sla"
)

const dayLayout = "2006-01-02"

// Counts holds per-grade tallies.
type Counts struct {
	Total int `json:"total"`
	Green int `json:"GREEN"`
	Amber int `json:"AMBER"`
	Red   int `json:"RED"`
}

func (c *Counts) add(g sla.Grade) {
	c.Total++
	switch g {
	case sla.Green:
		c.Green++
	case sla.Amber:
		c.Amber++
	case sla.Red:
		c.Red++
	}
}

type Summary struct {
	Counts
	Overdue    int     `json:"overdue"`
	OnTimeRate float64 `json:"onTimeRate"`
}

func (s *Summary) add(g GradedItem) {
	s.Counts.add(g.Grade)
	if g.Overdue {
		s.Overdue++
	}
}

func (s *Summary) finish() {
	s.OnTimeRate = 0
	if s.Total > 0 {
		s.OnTimeRate = float64(s.Green) / float64(s.Total)
	}
}

type ProjectRow struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName,omitempty"`
	Summary
}

type TrendPoint struct {
	Day string `json:"day"`
	Counts
}

// Overview is the org-wide response.
type Overview struct {
	Summary   Summary      `json:"summary"`
	ByProject []ProjectRow `json:"byProject"`
	Trend     []TrendPoint `json:"trend"`
}

// GradedItem is an item with its grade as of a single instant.
type GradedItem struct {
	domain.TimelinessItem
	Grade   sla.Grade `json:"grade" enum:"GREEN,AMBER,RED"`
	Overdue bool      `json:"overdue"`
}

// Metrics is the per-project response.
type Metrics struct {
	Summary
	Items []GradedItem `json:"items"`
}

// Aggregator grades and folds items. The zero value uses UTC day keys and
// sla.DefaultRules.
type Aggregator struct {
	// Location decides which calendar day a due time belongs to.
	Location *time.Location
	// Defaults apply to projects without an entry in the rules map.
	Defaults *sla.Rules
}

func (a Aggregator) location() *time.Location {
	if a.Location != nil {
		return a.Location
	}
	return time.UTC
}

func (a Aggregator) defaults() sla.Rules {
	if a.Defaults != nil {
		return *a.Defaults
	}
	return sla.DefaultRules
}

// DayKey returns the calendar day of t in the aggregator's location.
func (a Aggregator) DayKey(t time.Time) string {
	return t.In(a.location()).Format(dayLayout)
}

// Grade scores every non-deleted item against its project's rules at now.
func (a Aggregator) Grade(items []domain.TimelinessItem, rules map[string]sla.Rules, now time.Time) []GradedItem {
	resolved := map[string]sla.Rules{}
	res := make([]GradedItem, 0, len(items))
	for _, it := range items {
		if it.DeletedAt != nil {
			continue
		}
		r, ok := resolved[it.ProjectID]
		if !ok {
			r, ok = rules[it.ProjectID]
			if !ok {
				r = a.defaults()
			}
			resolved[it.ProjectID] = r
		}
		res = append(res, GradedItem{
			TimelinessItem: it,
			Grade:          sla.Score(it.DueAt, it.SubmittedAt, r, now),
			Overdue:        sla.Overdue(it.DueAt, it.SubmittedAt, now),
		})
	}
	return res
}

// Aggregate builds the summary, per-project and trend views at now.
func (a Aggregator) Aggregate(items []domain.TimelinessItem, rules map[string]sla.Rules, now time.Time) Overview {
	out := Overview{ByProject: []ProjectRow{}, Trend: []TrendPoint{}}
	projects := map[string]*ProjectRow{}
	days := map[string]*TrendPoint{}
	for _, g := range a.Grade(items, rules, now) {
		out.Summary.add(g)

		row, ok := projects[g.ProjectID]
		if !ok {
			row = &ProjectRow{ProjectID: g.ProjectID, ProjectName: g.ProjectName}
			projects[g.ProjectID] = row
		}
		row.add(g)

		key := a.DayKey(g.DueAt)
		point, ok := days[key]
		if !ok {
			point = &TrendPoint{Day: key}
			days[key] = point
		}
		point.add(g.Grade)
	}
	out.Summary.finish()

	for _, row := range projects {
		row.finish()
		out.ByProject = append(out.ByProject, *row)
	}
	sort.Slice(out.ByProject, func(i, j int) bool { return out.ByProject[i].ProjectID < out.ByProject[j].ProjectID })

	for _, p := range days {
		out.Trend = append(out.Trend, *p)
	}
	sort.Slice(out.Trend, func(i, j int) bool { return out.Trend[i].Day < out.Trend[j].Day })
	return out
}

// Metrics grades one project's items and returns them with their totals.
func (a Aggregator) Metrics(items []domain.TimelinessItem, rules map[string]sla.Rules, now time.Time) Metrics {
	graded := a.Grade(items, rules, now)
	m := Metrics{Items: graded}
	for _, g := range graded {
		m.add(g)
	}
	m.finish()
	return m
}
