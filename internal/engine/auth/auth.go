package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Permissions checked by the API and CLI.
const (
	PermTimelinessRead   = "timeliness.read"
	PermTimelinessExport = "timeliness.export"
	PermRulesRead        = "sla.rules.read"
	PermRulesWrite       = "sla.rules.write"
	PermProjectCreate    = "project.create"
	PermItemWrite        = "item.write"
	PermRoleGrant        = "rbac.grant"
)

var allPermissions = []string{
	PermTimelinessRead, PermTimelinessExport, PermRulesRead,
	PermRulesWrite, PermProjectCreate, PermItemWrite, PermRoleGrant,
}

// KnownPermission reports whether p is a permission the system checks.
func KnownPermission(p string) bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// TenantError indicates a principal acting on another organization.
type TenantError struct {
	OrgID string
}

func (e TenantError) Error() string {
	return fmt.Sprintf("not a member of organization %s", e.OrgID)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, orgID, actorID, perm string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM org_roles m
JOIN role_permissions rp ON rp.role_id=m.role
WHERE m.org_id=? AND m.actor_id=? AND rp.permission_id=? LIMIT 1`,
		orgID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// IsMember reports whether the actor holds any role in the organization.
func (s Service) IsMember(ctx context.Context, tx *sql.Tx, orgID, actorID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM org_roles WHERE org_id=? AND actor_id=? LIMIT 1`, orgID, actorID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, orgID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role FROM org_roles WHERE org_id=? AND actor_id=? ORDER BY role`, orgID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, orgID, actorID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM org_roles m
JOIN role_permissions rp ON rp.role_id=m.role
WHERE m.org_id=? AND m.actor_id=?
ORDER BY rp.permission_id`, orgID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
