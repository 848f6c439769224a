package domain

import "time"

// Item types.
const (
	ItemUpdate        = "UPDATE"
	ItemChangeRequest = "CHANGE_REQUEST"
)

// ValidItemType reports whether t is a known item type.
func ValidItemType(t string) bool {
	return t == ItemUpdate || t == ItemChangeRequest
}

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TimelinessItem is a supervisor deliverable with a due date.
type TimelinessItem struct {
	ID          string     `json:"id"`
	Type        string     `json:"type" enum:"UPDATE,CHANGE_REQUEST"`
	Title       string     `json:"title"`
	ProjectID   string     `json:"projectId"`
	ProjectName string     `json:"projectName,omitempty"`
	DueAt       time.Time  `json:"dueAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
