package timeliness

import (
	"encoding/json"
	"testing"
	"time"

	"opssync/internal/domain"
	"opssync/internal/sla"
)

var now = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func item(id, project string, due time.Time, submitted *time.Time) domain.TimelinessItem {
	return domain.TimelinessItem{ID: id, Type: domain.ItemUpdate, Title: "item " + id, ProjectID: project, DueAt: due, SubmittedAt: submitted}
}

func TestAggregateEmpty(t *testing.T) {
	var a Aggregator
	out := a.Aggregate(nil, nil, now)
	if out.Summary != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", out.Summary)
	}
	if out.ByProject == nil || len(out.ByProject) != 0 {
		t.Fatalf("expected empty non-nil byProject, got %#v", out.ByProject)
	}
	if out.Trend == nil || len(out.Trend) != 0 {
		t.Fatalf("expected empty non-nil trend, got %#v", out.Trend)
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"summary":{"total":0,"GREEN":0,"AMBER":0,"RED":0,"overdue":0,"onTimeRate":0},"byProject":[],"trend":[]}`
	if string(b) != want {
		t.Fatalf("json = %s\nwant   %s", b, want)
	}
}

func TestAggregateSummaryAndOverdue(t *testing.T) {
	items := []domain.TimelinessItem{
		item("a", "p1", now.Add(-time.Hour), ptr(now.Add(-2*time.Hour))), // green, submitted
		item("b", "p1", now.Add(-30*time.Minute), nil),                   // amber, overdue
		item("c", "p2", now.Add(-5*time.Hour), nil),                      // red, overdue
		item("d", "p2", now.Add(-5*time.Hour), ptr(now.Add(-4*time.Hour))), // amber, submitted late
	}
	out := Aggregator{}.Aggregate(items, nil, now)
	s := out.Summary
	if s.Total != 4 || s.Green != 1 || s.Amber != 2 || s.Red != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.Overdue != 2 {
		t.Fatalf("overdue = %d, want 2", s.Overdue)
	}
	if s.OnTimeRate != 0.25 {
		t.Fatalf("onTimeRate = %v, want 0.25", s.OnTimeRate)
	}
}

func TestAggregateOverdueIsNotRed(t *testing.T) {
	// Outstanding and one minute late: overdue but only AMBER.
	items := []domain.TimelinessItem{item("a", "p1", now.Add(-time.Minute), nil)}
	out := Aggregator{}.Aggregate(items, nil, now)
	if out.Summary.Overdue != 1 || out.Summary.Red != 0 || out.Summary.Amber != 1 {
		t.Fatalf("unexpected summary %+v", out.Summary)
	}
}

func TestAggregateSameDayDifferentProjects(t *testing.T) {
	day := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	items := []domain.TimelinessItem{
		item("a", "p1", day.Add(9*time.Hour), ptr(day.Add(8*time.Hour))),
		item("b", "p2", day.Add(15*time.Hour), nil),
	}
	out := Aggregator{}.Aggregate(items, nil, now)
	if len(out.Trend) != 1 {
		t.Fatalf("expected one trend point, got %+v", out.Trend)
	}
	if out.Trend[0].Day != "2024-01-08" || out.Trend[0].Total != 2 {
		t.Fatalf("unexpected trend point %+v", out.Trend[0])
	}
	if len(out.ByProject) != 2 {
		t.Fatalf("expected two project rows, got %+v", out.ByProject)
	}
	if out.ByProject[0].ProjectID != "p1" || out.ByProject[1].ProjectID != "p2" {
		t.Fatalf("unexpected project order %+v", out.ByProject)
	}
}

func TestAggregateTrendSortedAscending(t *testing.T) {
	var items []domain.TimelinessItem
	for _, d := range []int{9, 3, 7, 3, 1} {
		items = append(items, item("x", "p1", time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC), nil))
	}
	out := Aggregator{}.Aggregate(items, nil, now)
	want := []string{"2024-01-01", "2024-01-03", "2024-01-07", "2024-01-09"}
	if len(out.Trend) != len(want) {
		t.Fatalf("trend = %+v", out.Trend)
	}
	for i, d := range want {
		if out.Trend[i].Day != d {
			t.Fatalf("trend[%d] = %s, want %s", i, out.Trend[i].Day, d)
		}
	}
	if out.Trend[1].Total != 2 {
		t.Fatalf("expected two items on 2024-01-03, got %d", out.Trend[1].Total)
	}
}

func TestAggregateDayKeyUsesLocation(t *testing.T) {
	// 2024-01-09T23:30Z is already 2024-01-10 in UTC+2.
	items := []domain.TimelinessItem{item("a", "p1", time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC), nil)}
	utc := Aggregator{}.Aggregate(items, nil, now)
	local := Aggregator{Location: time.FixedZone("UTC+2", 2*3600)}.Aggregate(items, nil, now)
	if utc.Trend[0].Day != "2024-01-09" {
		t.Fatalf("utc day = %s", utc.Trend[0].Day)
	}
	if local.Trend[0].Day != "2024-01-10" {
		t.Fatalf("local day = %s", local.Trend[0].Day)
	}
}

func TestAggregateTotalsAgree(t *testing.T) {
	var items []domain.TimelinessItem
	for i := 0; i < 50; i++ {
		due := now.Add(time.Duration(-i*157) * time.Minute)
		var sub *time.Time
		if i%3 == 0 {
			sub = ptr(due.Add(time.Duration(i*7-100) * time.Minute))
		}
		items = append(items, item("x", []string{"p1", "p2", "p3"}[i%3], due, sub))
	}
	out := Aggregator{}.Aggregate(items, map[string]sla.Rules{"p2": {AtRiskMinutes: 0, RedMinutes: 0}}, now)
	var byProject, byDay int
	for _, r := range out.ByProject {
		byProject += r.Green + r.Amber + r.Red
		if r.OnTimeRate < 0 || r.OnTimeRate > 1 {
			t.Fatalf("project %s onTimeRate out of range: %v", r.ProjectID, r.OnTimeRate)
		}
	}
	for _, p := range out.Trend {
		byDay += p.Total
		if p.Green+p.Amber+p.Red != p.Total {
			t.Fatalf("trend point %s does not add up: %+v", p.Day, p)
		}
	}
	if out.Summary.Total != 50 || byProject != 50 || byDay != 50 {
		t.Fatalf("totals disagree: summary=%d byProject=%d trend=%d", out.Summary.Total, byProject, byDay)
	}
	if out.Summary.OnTimeRate < 0 || out.Summary.OnTimeRate > 1 {
		t.Fatalf("onTimeRate out of range: %v", out.Summary.OnTimeRate)
	}
}

func TestAggregateSkipsDeleted(t *testing.T) {
	deleted := item("gone", "p9", now.Add(-time.Hour), nil)
	deleted.DeletedAt = ptr(now.Add(-time.Minute))
	items := []domain.TimelinessItem{deleted, item("kept", "p1", now.Add(time.Hour), nil)}
	out := Aggregator{}.Aggregate(items, nil, now)
	if out.Summary.Total != 1 || len(out.ByProject) != 1 || out.ByProject[0].ProjectID != "p1" {
		t.Fatalf("deleted item leaked into aggregation: %+v", out)
	}
}

func TestGradeUsesProjectRulesAndDefaults(t *testing.T) {
	due := now.Add(30 * time.Minute)
	items := []domain.TimelinessItem{item("a", "p1", due, nil), item("b", "p2", due, nil)}
	rules := map[string]sla.Rules{"p2": {AtRiskMinutes: 10, RedMinutes: 120}}
	graded := Aggregator{}.Grade(items, rules, now)
	if graded[0].Grade != sla.Amber {
		t.Fatalf("p1 uses default 60m at-risk window, got %s", graded[0].Grade)
	}
	if graded[1].Grade != sla.Green {
		t.Fatalf("p2 uses 10m at-risk window, got %s", graded[1].Grade)
	}

	custom := sla.Rules{AtRiskMinutes: 15, RedMinutes: 15}
	graded = Aggregator{Defaults: &custom}.Grade(items[:1], nil, now)
	if graded[0].Grade != sla.Green {
		t.Fatalf("configured defaults ignored, got %s", graded[0].Grade)
	}
}

func TestMetrics(t *testing.T) {
	items := []domain.TimelinessItem{
		item("a", "p1", now.Add(-time.Hour), ptr(now.Add(-2*time.Hour))),
		item("b", "p1", now.Add(-4*time.Hour), nil),
	}
	m := Aggregator{}.Metrics(items, nil, now)
	if m.Total != 2 || m.Green != 1 || m.Red != 1 || m.Overdue != 1 || m.OnTimeRate != 0.5 {
		t.Fatalf("unexpected metrics %+v", m.Summary)
	}
	if len(m.Items) != 2 || m.Items[1].Grade != sla.Red || !m.Items[1].Overdue {
		t.Fatalf("unexpected graded items %+v", m.Items)
	}
	empty := Aggregator{}.Metrics(nil, nil, now)
	if empty.Items == nil || empty.Total != 0 || empty.OnTimeRate != 0 {
		t.Fatalf("unexpected empty metrics %+v", empty)
	}
}

func TestExportRows(t *testing.T) {
	it := item("a", "p1", now, nil)
	it.ProjectName = "Tower A"
	rows := ExportRows(Aggregator{}.Grade([]domain.TimelinessItem{it}, nil, now))
	if len(rows) != 1 {
		t.Fatalf("expected one row")
	}
	keys := rows[0].Keys()
	if len(keys) != len(ExportColumns) {
		t.Fatalf("keys = %v", keys)
	}
	for i, k := range ExportColumns {
		if keys[i] != k {
			t.Fatalf("column %d = %s, want %s", i, keys[i], k)
		}
	}
	if v, _ := rows[0].Get("project"); v != "Tower A" {
		t.Fatalf("project = %v", v)
	}
	if v, _ := rows[0].Get("sla_grade"); v != sla.Amber {
		t.Fatalf("sla_grade = %v", v)
	}
}

func TestClampDaysAndWindow(t *testing.T) {
	cases := []struct{ in, limit, want int }{
		{0, MaxOverviewDays, 1},
		{-4, MaxOverviewDays, 1},
		{30, MaxOverviewDays, 30},
		{500, MaxOverviewDays, 180},
		{500, MaxExportDays, 365},
	}
	for _, tc := range cases {
		if got := ClampDays(tc.in, tc.limit); got != tc.want {
			t.Errorf("ClampDays(%d, %d) = %d, want %d", tc.in, tc.limit, got, tc.want)
		}
	}
	w := WindowForDays(now, 7)
	if !w.Until.Equal(now) || !w.Since.Equal(now.Add(-7*24*time.Hour)) {
		t.Fatalf("window = %+v", w)
	}
}
