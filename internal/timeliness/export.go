package timeliness

import "opssync/internal/report"

// ExportColumns is the fixed column order of timeliness exports.
var ExportColumns = []string{"item_id", "project", "type", "title", "due_at", "submitted_at", "sla_grade"}

// ExportRows flattens graded items into report rows.
func ExportRows(graded []GradedItem) []report.Row {
	rows := make([]report.Row, 0, len(graded))
	for _, g := range graded {
		project := g.ProjectName
		if project == "" {
			project = g.ProjectID
		}
		rows = append(rows, report.NewRow().
			Set("item_id", g.ID).
			Set("project", project).
			Set("type", g.Type).
			Set("title", g.Title).
			Set("due_at", g.DueAt).
			Set("submitted_at", g.SubmittedAt).
			Set("sla_grade", g.Grade))
	}
	return rows
}
