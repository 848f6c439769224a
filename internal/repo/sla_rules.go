package repo

import (
	"context"
	"database/sql"
	"time"

	"opssync/internal/sla"
)

// GetSLARules returns the override for a project, ErrNotFound when the project
// uses defaults.
func (r Repo) GetSLARules(ctx context.Context, projectID string) (sla.Rules, error) {
	var rules sla.Rules
	err := r.DB.QueryRowContext(ctx, `SELECT at_risk_minutes,red_minutes FROM sla_rules WHERE project_id=?`, projectID).
		Scan(&rules.AtRiskMinutes, &rules.RedMinutes)
	if err == sql.ErrNoRows {
		return rules, ErrNotFound
	}
	return rules, err
}

func (r Repo) UpsertSLARules(ctx context.Context, tx *sql.Tx, projectID string, rules sla.Rules, now time.Time) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	_, err := r.exec(ctx, tx, `INSERT INTO sla_rules(project_id,at_risk_minutes,red_minutes,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET at_risk_minutes=excluded.at_risk_minutes, red_minutes=excluded.red_minutes, updated_at=excluded.updated_at`,
		projectID, rules.AtRiskMinutes, rules.RedMinutes, formatTS(now))
	return err
}

// RulesForOrg returns rule overrides keyed by project. Projects without a row
// are absent; callers apply defaults.
func (r Repo) RulesForOrg(ctx context.Context, orgID string) (map[string]sla.Rules, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.project_id,s.at_risk_minutes,s.red_minutes
FROM sla_rules s JOIN projects p ON p.id=s.project_id WHERE p.org_id=?`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]sla.Rules{}
	for rows.Next() {
		var id string
		var rules sla.Rules
		if err := rows.Scan(&id, &rules.AtRiskMinutes, &rules.RedMinutes); err != nil {
			return nil, err
		}
		res[id] = rules
	}
	return res, rows.Err()
}
