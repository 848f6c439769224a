package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	OrgCreated      = "org.created"
	ProjectCreated  = "project.created"
	ItemCreated     = "item.created"
	ItemSubmitted   = "item.submitted"
	ItemDeleted     = "item.deleted"
	SLARulesUpdated = "sla.rules.updated"
	APIKeyCreated   = "apikey.created"
	APIKeyRevoked   = "apikey.revoked"
	OrgRoleGranted  = "rbac.role.granted"
)

// Scope identifies what an event is about.
type Scope struct {
	OrgID      string
	ProjectID  string
	EntityKind string
	EntityID   string
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, scope Scope, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,org_id,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evtType, nullable(scope.OrgID), nullable(scope.ProjectID), scope.EntityKind, nullable(scope.EntityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
