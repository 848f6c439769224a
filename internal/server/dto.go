package server

import (
	"time"

	"opssync/internal/domain"
	"opssync/internal/sla"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name" minLength:"1"`
}

type CreateItemRequest struct {
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type,omitempty" enum:"UPDATE,CHANGE_REQUEST"`
	Title       string     `json:"title" minLength:"1"`
	DueAt       time.Time  `json:"dueAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

type SubmitItemRequest struct {
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

type SLARulesRequest struct {
	AtRiskMinutes int `json:"atRiskMinutes" minimum:"0"`
	RedMinutes    int `json:"redMinutes" minimum:"0"`
}

type GrantRoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"owner,manager,supervisor"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"orgId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type ItemResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type" enum:"UPDATE,CHANGE_REQUEST"`
	Title       string     `json:"title"`
	ProjectID   string     `json:"projectId"`
	DueAt       time.Time  `json:"dueAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

type SLARulesResponse struct {
	sla.Rules
	// Override is false when the project falls back to configured defaults.
	Override bool `json:"override"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, OrgID: p.OrgID, Name: p.Name, Status: p.Status, CreatedAt: p.CreatedAt}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func itemResponse(it domain.TimelinessItem) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		Type:        it.Type,
		Title:       it.Title,
		ProjectID:   it.ProjectID,
		DueAt:       it.DueAt,
		SubmittedAt: it.SubmittedAt,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
