package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opssync/internal/domain"
	"opssync/internal/events"
	"opssync/internal/repo"
)

// ItemCreateOptions are parameters for creating a timeliness item.
type ItemCreateOptions struct {
	ID          string
	OrgID       string
	ProjectID   string
	Type        string
	Title       string
	DueAt       time.Time
	SubmittedAt *time.Time
	ActorID     string
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.TimelinessItem, error) {
	if opts.Type == "" {
		opts.Type = domain.ItemUpdate
	}
	if !domain.ValidItemType(opts.Type) {
		return domain.TimelinessItem{}, fmt.Errorf("invalid item type %q", opts.Type)
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.TimelinessItem{}, errors.New("title is required")
	}
	if opts.DueAt.IsZero() {
		return domain.TimelinessItem{}, errors.New("due_at is required")
	}
	p, err := e.Repo.GetOrgProject(ctx, opts.OrgID, opts.ProjectID)
	if err != nil {
		return domain.TimelinessItem{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	it := domain.TimelinessItem{
		ID:          opts.ID,
		Type:        opts.Type,
		Title:       strings.TrimSpace(opts.Title),
		ProjectID:   p.ID,
		ProjectName: p.Name,
		DueAt:       opts.DueAt.UTC().Truncate(time.Second),
	}
	if opts.SubmittedAt != nil {
		at := opts.SubmittedAt.UTC().Truncate(time.Second)
		it.SubmittedAt = &at
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimelinessItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, it, e.now()); err != nil {
		return domain.TimelinessItem{}, fmt.Errorf("insert item: %w", err)
	}
	payload := events.EventPayload{"type": it.Type, "title": it.Title, "dueAt": it.DueAt}
	if err := e.Events.Append(ctx, tx, events.ItemCreated, itemScope(opts.OrgID, it), opts.ActorID, payload); err != nil {
		return domain.TimelinessItem{}, err
	}
	return it, tx.Commit()
}

// SubmitItem stamps an item as submitted at at, or now when at is nil.
func (e Engine) SubmitItem(ctx context.Context, orgID, projectID, itemID string, at *time.Time, actorID string) (domain.TimelinessItem, error) {
	if _, err := e.Repo.GetOrgProject(ctx, orgID, projectID); err != nil {
		return domain.TimelinessItem{}, err
	}
	when := e.now()
	if at != nil {
		when = *at
	}
	when = when.UTC().Truncate(time.Second)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimelinessItem{}, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return domain.TimelinessItem{}, err
	}
	if it.ProjectID != projectID {
		return domain.TimelinessItem{}, repo.ErrNotFound
	}
	if err := e.Repo.SubmitItem(ctx, tx, itemID, when); err != nil {
		return domain.TimelinessItem{}, err
	}
	it.SubmittedAt = &when
	if err := e.Events.Append(ctx, tx, events.ItemSubmitted, itemScope(orgID, it), actorID, events.EventPayload{"submittedAt": when}); err != nil {
		return domain.TimelinessItem{}, err
	}
	return it, tx.Commit()
}

// DeleteItem soft-deletes an item so it drops out of every view.
func (e Engine) DeleteItem(ctx context.Context, orgID, projectID, itemID, actorID string) error {
	if _, err := e.Repo.GetOrgProject(ctx, orgID, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if it.ProjectID != projectID || it.DeletedAt != nil {
		return repo.ErrNotFound
	}
	if err := e.Repo.SoftDeleteItem(ctx, tx, itemID, e.now()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ItemDeleted, itemScope(orgID, it), actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func itemScope(orgID string, it domain.TimelinessItem) events.Scope {
	return events.Scope{OrgID: orgID, ProjectID: it.ProjectID, EntityKind: "item", EntityID: it.ID}
}
