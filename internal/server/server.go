package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"opssync/internal/engine"
	"opssync/internal/engine/auth"
	"opssync/internal/repo"
	"opssync/internal/report"
	"opssync/internal/sla"
	"opssync/internal/timeliness"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"timeliness.read\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the OpsSync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("OpsSync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTimeliness(group, cfg.Engine)
	registerExports(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerRoles(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var te auth.TenantError
	if errors.As(err, &te) {
		return newAPIError(http.StatusForbidden, "forbidden_org", err.Error(), map[string]any{"org_id": te.OrgID})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrAlreadySubmitted):
		return newAPIError(http.StatusConflict, "already_submitted", err.Error(), nil)
	case errors.Is(err, engine.ErrDataUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "data_unavailable", "timeliness data unavailable", map[string]any{"error": err.Error()})
	case errors.Is(err, report.ErrWriteFailure):
		return newAPIError(http.StatusInternalServerError, "export_failed", "export failed", map[string]any{"error": err.Error()})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// authorize checks that the caller belongs to orgID and holds perm there.
// Token-granted permissions short-circuit the role lookup.
func authorize(ctx context.Context, e engine.Engine, orgID, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if principal.OrgID != "" && principal.OrgID != orgID {
		return principal, auth.TenantError{OrgID: orgID}
	}
	if principal.OrgID != "" && hasPermission(principal.Permissions, perm) {
		return principal, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return principal, fmt.Errorf("%w: %w", engine.ErrDataUnavailable, err)
	}
	defer tx.Rollback()
	if principal.OrgID == "" {
		member, err := e.Auth.IsMember(ctx, tx, orgID, principal.ActorID)
		if err != nil {
			return principal, fmt.Errorf("%w: %w", engine.ErrDataUnavailable, err)
		}
		if !member {
			return principal, auth.TenantError{OrgID: orgID}
		}
	}
	ok, err := e.Auth.ActorHasPermission(ctx, tx, orgID, principal.ActorID, perm)
	if err != nil {
		return principal, fmt.Errorf("%w: %w", engine.ErrDataUnavailable, err)
	}
	if !ok {
		return principal, auth.ForbiddenError{Permission: perm}
	}
	return principal, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>OpsSync API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if principal.OrgID != "" {
			if r, p, err := e.WhoAmI(ctx, principal.OrgID, principal.ActorID); err == nil {
				if len(roles) == 0 {
					roles = r
				}
				if len(perms) == 0 {
					perms = p
				}
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			OrgID:       principal.OrgID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/roles",
		Summary:       "Grant an org role to an actor",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string           `path:"org_id"`
		Body  GrantRoleRequest `json:"body"`
	}) (*struct{}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermRoleGrant)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.GrantRole(ctx, input.OrgID, input.Body.ActorID, input.Body.Role, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, e, input.OrgID, auth.PermTimelinessRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermProjectCreate)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:      input.Body.ID,
			OrgID:   input.OrgID,
			Name:    input.Body.Name,
			ActorID: principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerTimeliness(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "timeliness-overview",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/timeliness/overview",
		Summary:     "Organization timeliness overview",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		Days  int    `query:"days" doc:"Look-back window in days, clamped to [1,180]"`
	}) (*struct {
		Body timeliness.Overview `json:"body"`
	}, error) {
		if _, err := authorize(ctx, e, input.OrgID, auth.PermTimelinessRead); err != nil {
			return nil, handleError(err)
		}
		ov, err := e.Overview(ctx, input.OrgID, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timeliness.Overview `json:"body"`
		}{Body: ov}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "timeliness-metrics",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}/timeliness/metrics",
		Summary:     "Project timeliness metrics",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		OrgID     string `path:"org_id"`
		ProjectID string `path:"project_id"`
		Days      int    `query:"days" doc:"Look-back window in days, clamped to [1,180]"`
	}) (*struct {
		Body timeliness.Metrics `json:"body"`
	}, error) {
		if _, err := authorize(ctx, e, input.OrgID, auth.PermTimelinessRead); err != nil {
			return nil, handleError(err)
		}
		m, err := e.ProjectMetrics(ctx, input.OrgID, input.ProjectID, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timeliness.Metrics `json:"body"`
		}{Body: m}, nil
	})
}

type exportInput struct {
	OrgID     string `path:"org_id"`
	ProjectID string `query:"project_id"`
	Days      int    `query:"days" doc:"Look-back window in days, clamped to [1,365]"`
}

type exportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func registerExports(api huma.API, e engine.Engine) {
	formats := []struct {
		id, ext, contentType string
		write                func(io.Writer, []report.Row) error
	}{
		{"timeliness-export-csv", "csv", "text/csv; charset=utf-8", report.WriteCSV},
		{"timeliness-export-xlsx", "xlsx", xlsxContentType, func(w io.Writer, rows []report.Row) error {
			return report.WriteXLSX(w, report.DefaultSheet, rows)
		}},
	}
	for _, f := range formats {
		huma.Register(api, huma.Operation{
			OperationID: f.id,
			Method:      http.MethodGet,
			Path:        "/orgs/{org_id}/timeliness/export." + f.ext,
			Summary:     "Export graded items as " + strings.ToUpper(f.ext),
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
		}, func(ctx context.Context, input *exportInput) (*exportOutput, error) {
			if _, err := authorize(ctx, e, input.OrgID, auth.PermTimelinessExport); err != nil {
				return nil, handleError(err)
			}
			pinned := e.Pinned()
			rows, err := pinned.ExportRows(ctx, engine.ExportOptions{OrgID: input.OrgID, ProjectID: input.ProjectID, Days: input.Days})
			if err != nil {
				return nil, handleError(err)
			}
			var buf bytes.Buffer
			if err := f.write(&buf, rows); err != nil {
				return nil, handleError(err)
			}
			name := fmt.Sprintf("timeliness-%s-%s.%s", input.OrgID, pinned.ExportTime().Format("20060102"), f.ext)
			return &exportOutput{
				ContentType:        f.contentType,
				ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, name),
				Body:               buf.Bytes(),
			}, nil
		})
	}
}

func registerRules(api huma.API, e engine.Engine) {
	type rulesPath struct {
		OrgID     string `path:"org_id"`
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-sla-rules",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}/sla-rules",
		Summary:     "Effective SLA rules",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *rulesPath) (*struct {
		Body SLARulesResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, e, input.OrgID, auth.PermRulesRead); err != nil {
			return nil, handleError(err)
		}
		rules, override, err := e.GetRules(ctx, input.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLARulesResponse `json:"body"`
		}{Body: SLARulesResponse{Rules: rules, Override: override}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-sla-rules",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/sla-rules",
		Summary:     "Override SLA rules",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID     string          `path:"org_id"`
		ProjectID string          `path:"project_id"`
		Body      SLARulesRequest `json:"body"`
	}) (*struct {
		Body SLARulesResponse `json:"body"`
	}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermRulesWrite)
		if err != nil {
			return nil, handleError(err)
		}
		rules, err := e.SetRules(ctx, input.OrgID, input.ProjectID, sla.Rules{
			AtRiskMinutes: input.Body.AtRiskMinutes,
			RedMinutes:    input.Body.RedMinutes,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SLARulesResponse `json:"body"`
		}{Body: SLARulesResponse{Rules: rules, Override: true}}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects/{project_id}/items",
		Summary:       "Create timeliness item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID     string            `path:"org_id"`
		ProjectID string            `path:"project_id"`
		Body      CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := e.CreateItem(ctx, engine.ItemCreateOptions{
			ID:          input.Body.ID,
			OrgID:       input.OrgID,
			ProjectID:   input.ProjectID,
			Type:        input.Body.Type,
			Title:       input.Body.Title,
			DueAt:       input.Body.DueAt,
			SubmittedAt: input.Body.SubmittedAt,
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-item",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/items/{item_id}/submit",
		Summary:     "Mark item submitted",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		OrgID     string             `path:"org_id"`
		ProjectID string             `path:"project_id"`
		ItemID    string             `path:"item_id"`
		Body      *SubmitItemRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		var at *time.Time
		if input.Body != nil {
			at = input.Body.SubmittedAt
		}
		it, err := e.SubmitItem(ctx, input.OrgID, input.ProjectID, input.ItemID, at, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-item",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/projects/{project_id}/items/{item_id}",
		Summary:       "Delete item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID     string `path:"org_id"`
		ProjectID string `path:"project_id"`
		ItemID    string `path:"item_id"`
	}) (*struct{}, error) {
		principal, err := authorize(ctx, e, input.OrgID, auth.PermItemWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteItem(ctx, input.OrgID, input.ProjectID, input.ItemID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
