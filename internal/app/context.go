package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opssync/internal/config"
	"opssync/internal/repo"
)

// ErrNoOrg means no organization was given and none could be inferred.
var ErrNoOrg = errors.New("org not specified; use --org or set OPSSYNC_ORG (opssync org use <id>)")

// ResolveOrgAndConfig loads the workspace config and picks the active
// organization. An explicit override wins; otherwise a database holding a
// single organization selects it.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	orgID, err := ResolveOrg(ctx, orgOverride, r)
	if err != nil {
		return "", nil, err
	}
	return orgID, cfg, nil
}

func ResolveOrg(ctx context.Context, orgOverride string, r repo.Repo) (string, error) {
	orgID := strings.TrimSpace(orgOverride)
	if orgID != "" {
		if _, err := r.GetOrg(ctx, orgID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("org %s not found; create it with opssync org create", orgID)
			}
			return "", err
		}
		return orgID, nil
	}
	orgs, err := r.ListOrgs(ctx)
	if err != nil {
		return "", err
	}
	if len(orgs) != 1 {
		return "", ErrNoOrg
	}
	return orgs[0].ID, nil
}
