package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opssync/internal/config"
	"opssync/internal/domain"
	"opssync/internal/engine/auth"
	"opssync/internal/events"
	"opssync/internal/repo"
	"opssync/internal/sla"
	"opssync/internal/timeliness"
)

// ErrDataUnavailable wraps store failures on the reporting path.
var ErrDataUnavailable = errors.New("timeliness data unavailable")

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Auth       auth.Service
	Config     *config.Config
	Aggregator timeliness.Aggregator
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	defaults := cfg.SLA
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Aggregator: timeliness.Aggregator{
			Location: cfg.Location(),
			Defaults: &defaults,
		},
		Events: events.Writer{DB: db, Now: time.Now},
		Now:    time.Now,
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDataUnavailable, err)
}

// CreateOrg creates an organization and makes ownerID its owner.
func (e Engine) CreateOrg(ctx context.Context, id, name, ownerID string) (domain.Org, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Org{}, errors.New("org id is required")
	}
	if ownerID == "" {
		return domain.Org{}, errors.New("owner actor is required")
	}
	if name == "" {
		name = id
	}
	if _, err := e.Repo.GetOrg(ctx, id); err == nil {
		return domain.Org{}, fmt.Errorf("org %s already exists", id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Org{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Org{}, err
	}
	defer tx.Rollback()
	org := domain.Org{ID: id, Name: name, CreatedAt: e.nowString()}
	if err := e.Repo.EnsureOrg(ctx, tx, org.ID, org.Name, org.CreatedAt); err != nil {
		return domain.Org{}, fmt.Errorf("insert org: %w", err)
	}
	if err := e.Repo.EnsureActor(ctx, tx, ownerID, org.CreatedAt); err != nil {
		return domain.Org{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.AssignOrgRole(ctx, tx, org.ID, ownerID, "owner"); err != nil {
		return domain.Org{}, fmt.Errorf("assign owner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.OrgCreated, events.Scope{OrgID: org.ID, EntityKind: "org", EntityID: org.ID}, ownerID, events.EventPayload{"name": org.Name}); err != nil {
		return domain.Org{}, err
	}
	return org, tx.Commit()
}

// GrantRole gives actorID a role in the organization.
func (e Engine) GrantRole(ctx context.Context, orgID, actorID, role, granterID string) error {
	if actorID == "" || role == "" {
		return errors.New("actor and role are required")
	}
	ok, err := e.Repo.RoleExists(ctx, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invalid role %s", role)
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.nowString()); err != nil {
		return err
	}
	if err := e.Repo.AssignOrgRole(ctx, tx, orgID, actorID, role); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.OrgRoleGranted, events.Scope{OrgID: orgID, EntityKind: "rbac", EntityID: actorID}, granterID, events.EventPayload{"role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

// WhoAmI lists the actor's roles and permissions in an organization.
func (e Engine) WhoAmI(ctx context.Context, orgID, actorID string) ([]string, []string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, orgID, actorID)
	if err != nil {
		return nil, nil, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, orgID, actorID)
	if err != nil {
		return nil, nil, err
	}
	return roles, perms, nil
}

// CreateAPIKey issues a key for actorID in orgID. The plaintext key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, orgID, actorID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "ops_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		OrgID:     orgID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, events.Scope{OrgID: orgID, EntityKind: "apikey", EntityID: key.ID}, actorID, events.EventPayload{"name": name}); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, tx.Commit()
}

// ListAPIKeys returns the organization's keys. Only hashes are stored.
func (e Engine) ListAPIKeys(ctx context.Context, orgID string) ([]domain.APIKey, error) {
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, orgID)
}

// RevokeAPIKey deletes a key of the organization. Requests using it stop
// authenticating immediately.
func (e Engine) RevokeAPIKey(ctx context.Context, orgID, keyID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, orgID, keyID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, events.Scope{OrgID: orgID, EntityKind: "apikey", EntityID: keyID}, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID      string
	OrgID   string
	Name    string
	ActorID string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.OrgID == "" {
		return domain.Project{}, errors.New("org is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
		return domain.Project{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	p := domain.Project{ID: opts.ID, OrgID: opts.OrgID, Name: strings.TrimSpace(opts.Name), Status: "active", CreatedAt: e.nowString()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, events.Scope{OrgID: p.OrgID, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID}, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	return p, tx.Commit()
}

func (e Engine) ListProjects(ctx context.Context, orgID string) ([]domain.Project, error) {
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjects(ctx, orgID)
}

// GetRules returns the effective rules for a project and whether they come
// from a stored override.
func (e Engine) GetRules(ctx context.Context, orgID, projectID string) (sla.Rules, bool, error) {
	if _, err := e.Repo.GetOrgProject(ctx, orgID, projectID); err != nil {
		return sla.Rules{}, false, unavailable(err)
	}
	rules, err := e.Repo.GetSLARules(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.defaultRules(), false, nil
	}
	if err != nil {
		return sla.Rules{}, false, unavailable(err)
	}
	return rules, true, nil
}

func (e Engine) defaultRules() sla.Rules {
	if e.Aggregator.Defaults != nil {
		return *e.Aggregator.Defaults
	}
	return sla.DefaultRules
}

// SetRules stores a project's rule override.
func (e Engine) SetRules(ctx context.Context, orgID, projectID string, rules sla.Rules, actorID string) (sla.Rules, error) {
	if err := rules.Validate(); err != nil {
		return sla.Rules{}, err
	}
	if _, err := e.Repo.GetOrgProject(ctx, orgID, projectID); err != nil {
		return sla.Rules{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sla.Rules{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSLARules(ctx, tx, projectID, rules, e.now()); err != nil {
		return sla.Rules{}, err
	}
	payload := events.EventPayload{"atRiskMinutes": rules.AtRiskMinutes, "redMinutes": rules.RedMinutes}
	if err := e.Events.Append(ctx, tx, events.SLARulesUpdated, events.Scope{OrgID: orgID, ProjectID: projectID, EntityKind: "project", EntityID: projectID}, actorID, payload); err != nil {
		return sla.Rules{}, err
	}
	return rules, tx.Commit()
}
