// Package digest sends a periodic SLA summary per organization.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"opssync/internal/config"
	"opssync/internal/domain"
	"opssync/internal/engine"
	"opssync/internal/timeliness"
)

// maxWorstProjects bounds the per-project section of a digest.
const maxWorstProjects = 3

// Notifier delivers a rendered digest.
type Notifier interface {
	Notify(ctx context.Context, org domain.Org, text string) error
}

// Report is one organization's digest.
type Report struct {
	Org      domain.Org
	Days     int
	Until    time.Time
	Overview timeliness.Overview
}

type Runner struct {
	Engine   engine.Engine
	Notifier Notifier
	// Days is the look-back window; zero uses the configured digest days.
	Days   int
	Logger *log.Logger
}

func (r Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r Runner) days() int {
	if r.Days > 0 {
		return timeliness.ClampDays(r.Days, timeliness.MaxOverviewDays)
	}
	if r.Engine.Config != nil && r.Engine.Config.Digest.Days > 0 {
		return r.Engine.Config.Digest.Days
	}
	return 7
}

// Build computes the digest for every organization. Organizations without
// items in the window are skipped.
func (r Runner) Build(ctx context.Context) ([]Report, error) {
	orgs, err := r.Engine.Repo.ListOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("digest: list orgs: %w", err)
	}
	days := r.days()
	eng := r.Engine.Pinned()
	until := eng.ExportTime()
	var reports []Report
	var errs []error
	for _, org := range orgs {
		ov, err := eng.Overview(ctx, org.ID, days)
		if err != nil {
			r.logger().Printf("digest: overview for org %s: %v", org.ID, err)
			errs = append(errs, fmt.Errorf("org %s: %w", org.ID, err))
			continue
		}
		if ov.Summary.Total == 0 {
			continue
		}
		reports = append(reports, Report{Org: org, Days: days, Until: until, Overview: ov})
	}
	return reports, errors.Join(errs...)
}

// RunOnce builds and delivers every digest. A failing organization is logged
// and does not stop the rest.
func (r Runner) RunOnce(ctx context.Context) (int, error) {
	if r.Notifier == nil {
		return 0, errors.New("digest: notifier not configured")
	}
	reports, buildErr := r.Build(ctx)
	sent := 0
	errs := []error{buildErr}
	for _, rep := range reports {
		if err := r.Notifier.Notify(ctx, rep.Org, Format(rep)); err != nil {
			r.logger().Printf("digest: notify org %s: %v", rep.Org.ID, err)
			errs = append(errs, fmt.Errorf("notify org %s: %w", rep.Org.ID, err))
			continue
		}
		sent++
	}
	r.logger().Printf("digest: sent %d of %d reports", sent, len(reports))
	return sent, errors.Join(errs...)
}

// Start schedules RunOnce on a 5-field cron expression until ctx is done.
func (r Runner) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(config.CronParser))
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger().Printf("digest: run: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("digest: schedule %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

// Format renders a report as Slack mrkdwn text.
func Format(rep Report) string {
	s := rep.Overview.Summary
	var lines []string
	lines = append(lines, fmt.Sprintf("*SLA digest: %s* (last %d days to %s)", rep.Org.Name, rep.Days, rep.Until.Format("Jan 2 15:04 MST")))
	lines = append(lines, fmt.Sprintf("*Items*: %d (%d green, %d amber, %d red)", s.Total, s.Green, s.Amber, s.Red))
	lines = append(lines, fmt.Sprintf("*On time*: %.0f%%", s.OnTimeRate*100))
	if s.Overdue > 0 {
		lines = append(lines, fmt.Sprintf("*Overdue*: %d", s.Overdue))
	}
	worst := worstProjects(rep.Overview.ByProject)
	if len(worst) > 0 {
		lines = append(lines, "", "*Needs attention*:")
		for _, p := range worst {
			name := p.ProjectName
			if name == "" {
				name = p.ProjectID
			}
			lines = append(lines, fmt.Sprintf("  %s: %d red, %d overdue, %.0f%% on time", name, p.Red, p.Overdue, p.OnTimeRate*100))
		}
	}
	return strings.Join(lines, "\n")
}

// worstProjects returns the projects with red or overdue items, most red
// first.
func worstProjects(rows []timeliness.ProjectRow) []timeliness.ProjectRow {
	var out []timeliness.ProjectRow
	for _, p := range rows {
		if p.Red > 0 || p.Overdue > 0 {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Red != out[j].Red {
			return out[i].Red > out[j].Red
		}
		return out[i].Overdue > out[j].Overdue
	})
	if len(out) > maxWorstProjects {
		out = out[:maxWorstProjects]
	}
	return out
}
