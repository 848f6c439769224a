package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"opssync/internal/domain"
)

// ItemFilter selects non-deleted items of one organization.
type ItemFilter struct {
	OrgID     string
	ProjectID string
	// Since and Until bound due_at inclusively; zero values are open.
	Since time.Time
	Until time.Time
}

const itemColumns = `i.id,i.type,i.title,i.project_id,p.name,i.due_at,i.submitted_at,i.deleted_at`

func scanItem(scan func(dest ...any) error) (domain.TimelinessItem, error) {
	var (
		it                   domain.TimelinessItem
		due                  string
		submitted, deletedAt sql.NullString
	)
	if err := scan(&it.ID, &it.Type, &it.Title, &it.ProjectID, &it.ProjectName, &due, &submitted, &deletedAt); err != nil {
		return it, err
	}
	var err error
	if it.DueAt, err = parseTS(due); err != nil {
		return it, err
	}
	if it.SubmittedAt, err = parseNullTS(submitted); err != nil {
		return it, err
	}
	if it.DeletedAt, err = parseNullTS(deletedAt); err != nil {
		return it, err
	}
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.TimelinessItem, createdAt time.Time) error {
	if it.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidItemType(it.Type) {
		return errors.New("invalid item type " + it.Type)
	}
	_, err := r.exec(ctx, tx, `INSERT INTO timeliness_items(id,project_id,type,title,due_at,submitted_at,deleted_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.Type, it.Title, formatTS(it.DueAt), nullableTS(it.SubmittedAt), nullableTS(it.DeletedAt), formatTS(createdAt))
	return err
}

// GetItem returns an item including soft-deleted ones.
func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, id string) (domain.TimelinessItem, error) {
	row := r.queryRow(ctx, tx, `SELECT `+itemColumns+` FROM timeliness_items i JOIN projects p ON p.id=i.project_id WHERE i.id=?`, id)
	it, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

// SubmitItem records the submission time. It can only be set once.
func (r Repo) SubmitItem(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := r.exec(ctx, tx, `UPDATE timeliness_items SET submitted_at=? WHERE id=? AND submitted_at IS NULL AND deleted_at IS NULL`, formatTS(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	it, err := r.GetItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if it.DeletedAt != nil {
		return ErrNotFound
	}
	return ErrAlreadySubmitted
}

// SoftDeleteItem marks an item deleted. Deleting twice is a no-op.
func (r Repo) SoftDeleteItem(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := r.exec(ctx, tx, `UPDATE timeliness_items SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, formatTS(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = r.GetItem(ctx, tx, id)
	return err
}

// ListItems returns non-deleted items of the filter's organization ordered by
// due time.
func (r Repo) ListItems(ctx context.Context, f ItemFilter) ([]domain.TimelinessItem, error) {
	if f.OrgID == "" {
		return nil, errors.New("org_id required")
	}
	clauses := []string{"p.org_id=?", "i.deleted_at IS NULL"}
	args := []any{f.OrgID}
	if f.ProjectID != "" {
		clauses = append(clauses, "i.project_id=?")
		args = append(args, f.ProjectID)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "i.due_at>=?")
		args = append(args, formatTS(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "i.due_at<=?")
		args = append(args, formatTS(f.Until))
	}
	query := `SELECT ` + itemColumns + ` FROM timeliness_items i JOIN projects p ON p.id=i.project_id
WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY i.due_at, i.id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TimelinessItem{}
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
