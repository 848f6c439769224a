package engine

import (
	"context"
	"time"

	"opssync/internal/domain"
	"opssync/internal/report"
	"opssync/internal/repo"
	"opssync/internal/sla"
	"opssync/internal/timeliness"
)

func (e Engine) window(now time.Time, days, limit int) timeliness.Window {
	if days == 0 && e.Config != nil {
		days = e.Config.Timeliness.DefaultDays
	}
	return timeliness.WindowForDays(now, timeliness.ClampDays(days, limit))
}

// load fetches the window's items with their projects' rule overrides.
// An empty projectID selects the whole organization.
func (e Engine) load(ctx context.Context, orgID, projectID string, win timeliness.Window) ([]domain.TimelinessItem, map[string]sla.Rules, error) {
	if projectID != "" {
		if _, err := e.Repo.GetOrgProject(ctx, orgID, projectID); err != nil {
			return nil, nil, unavailable(err)
		}
	} else if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return nil, nil, unavailable(err)
	}
	items, err := e.Repo.ListItems(ctx, repo.ItemFilter{OrgID: orgID, ProjectID: projectID, Since: win.Since, Until: win.Until})
	if err != nil {
		return nil, nil, unavailable(err)
	}
	rules, err := e.Repo.RulesForOrg(ctx, orgID)
	if err != nil {
		return nil, nil, unavailable(err)
	}
	return items, rules, nil
}

// Overview grades every item of the organization due within the last days
// and folds them into summary, per-project and trend views.
func (e Engine) Overview(ctx context.Context, orgID string, days int) (timeliness.Overview, error) {
	now := e.now()
	items, rules, err := e.load(ctx, orgID, "", e.window(now, days, timeliness.MaxOverviewDays))
	if err != nil {
		return timeliness.Overview{}, err
	}
	return e.Aggregator.Aggregate(items, rules, now), nil
}

// ProjectMetrics grades one project's items due within the last days.
func (e Engine) ProjectMetrics(ctx context.Context, orgID, projectID string, days int) (timeliness.Metrics, error) {
	now := e.now()
	items, rules, err := e.load(ctx, orgID, projectID, e.window(now, days, timeliness.MaxOverviewDays))
	if err != nil {
		return timeliness.Metrics{}, err
	}
	return e.Aggregator.Metrics(items, rules, now), nil
}

// ExportOptions select the rows of a timeliness export.
type ExportOptions struct {
	OrgID     string
	ProjectID string
	Days      int
}

// ExportRows returns graded items as report rows in ExportColumns order.
func (e Engine) ExportRows(ctx context.Context, opts ExportOptions) ([]report.Row, error) {
	now := e.now()
	items, rules, err := e.load(ctx, opts.OrgID, opts.ProjectID, e.window(now, opts.Days, timeliness.MaxExportDays))
	if err != nil {
		return nil, err
	}
	return timeliness.ExportRows(e.Aggregator.Grade(items, rules, now)), nil
}

// ExportTime is the instant exports are graded at, used for file names. Call
// it on a Pinned engine to match the graded rows.
func (e Engine) ExportTime() time.Time {
	return e.now().UTC()
}

// Pinned returns a copy of e whose clock is frozen at the current instant, so
// several reads within one request or job agree.
func (e Engine) Pinned() Engine {
	at := e.now()
	e.Now = func() time.Time { return at }
	return e
}
