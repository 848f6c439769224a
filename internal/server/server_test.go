package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"opssync/internal/config"
	"opssync/internal/db"
	"opssync/internal/engine"
	"opssync/internal/migrate"
	"opssync/internal/timeliness"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return fixedNow }
	e.Events.Now = e.Now
	ctx := context.Background()
	if _, err := e.CreateOrg(ctx, "org-1", "Acme", "owner"); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if _, err := e.CreateOrg(ctx, "org-2", "Globex", "other"); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := e.GrantRole(ctx, "org-1", "sup", "supervisor", "owner"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", OrgID: "org-1", Name: "Alpha, Inc", ActorID: "owner"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actorID, orgID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actorID, orgID, nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func (s *testServer) createItem(t *testing.T, id string, due time.Duration, submitted *time.Duration) {
	t.Helper()
	body := map[string]any{
		"id":    id,
		"type":  "UPDATE",
		"title": "weekly update " + id,
		"dueAt": fixedNow.Add(due).Format(time.RFC3339),
	}
	if submitted != nil {
		body["submittedAt"] = fixedNow.Add(*submitted).Format(time.RFC3339)
	}
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/orgs/org-1/projects/p1/items", body, bearer(t, "sup", "org-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item %s: %d %s", id, res.StatusCode, data)
	}
}

func dur(d time.Duration) *time.Duration { return &d }

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/overview", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/overview", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %s", res.StatusCode, data)
	}
}

func TestOverview(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.createItem(t, "on-time", -3*time.Hour, dur(-4*time.Hour))
	srv.createItem(t, "late", -3*time.Hour, nil)
	srv.createItem(t, "recent", -30*time.Minute, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/overview?days=7", nil, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview: %d %s", res.StatusCode, data)
	}
	var ov timeliness.Overview
	if err := json.Unmarshal(data, &ov); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ov.Summary.Total != 3 || ov.Summary.Green != 1 || ov.Summary.Amber != 1 || ov.Summary.Red != 1 || ov.Summary.Overdue != 2 {
		t.Fatalf("summary = %+v", ov.Summary)
	}
	if len(ov.ByProject) != 1 || ov.ByProject[0].ProjectID != "p1" {
		t.Fatalf("byProject = %+v", ov.ByProject)
	}
	if len(ov.Trend) != 1 || ov.Trend[0].Day != "2024-01-10" {
		t.Fatalf("trend = %+v", ov.Trend)
	}
	if !strings.Contains(string(data), `"GREEN":1`) || !strings.Contains(string(data), `"onTimeRate"`) {
		t.Fatalf("unexpected wire names: %s", data)
	}
}

func TestOverviewEmptyAndClamped(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/overview?days=99999", nil, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview: %d %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"byProject":[]`) || !strings.Contains(string(data), `"trend":[]`) {
		t.Fatalf("expected empty arrays: %s", data)
	}
}

func TestTenantIsolation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/overview", nil, bearer(t, "other", "org-2"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden_org" {
		t.Fatalf("expected 403 forbidden_org, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-2/projects/p1/timeliness/metrics", nil, bearer(t, "other", "org-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d %s", res.StatusCode, data)
	}
}

func TestSupervisorCannotExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/export.csv", nil, bearer(t, "sup", "org-1"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %s", res.StatusCode, data)
	}
}

func TestExportCSV(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.createItem(t, "late", -3*time.Hour, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/export.csv?days=30", nil, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".csv") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v (%s)", err, data)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if strings.Join(records[0], ",") != strings.Join(timeliness.ExportColumns, ",") {
		t.Fatalf("header = %v", records[0])
	}
	if records[1][0] != "late" || records[1][1] != "Alpha, Inc" || records[1][5] != "" || records[1][6] != "RED" {
		t.Fatalf("row = %v", records[1])
	}
}

func TestExportXLSX(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.createItem(t, "recent", -30*time.Minute, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/export.xlsx?project_id=p1", nil, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", res.StatusCode, data)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Report")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "recent" || rows[1][6] != "AMBER" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSLARules(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := bearer(t, "owner", "org-1")
	url := srv.URL + "/v0/orgs/org-1/projects/p1/sla-rules"

	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, owner)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"override":false`) {
		t.Fatalf("get rules: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"atRiskMinutes": -1, "redMinutes": 10}, owner)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative rules, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"atRiskMinutes": 15, "redMinutes": 30}, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set rules: %d %s", res.StatusCode, data)
	}
	var got SLARulesResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.AtRiskMinutes != 15 || got.RedMinutes != 30 || !got.Override {
		t.Fatalf("rules = %+v", got)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"atRiskMinutes": 1, "redMinutes": 1}, bearer(t, "sup", "org-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor rules write: %d %s", res.StatusCode, data)
	}
}

func TestSubmitAndDeleteItem(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sup := bearer(t, "sup", "org-1")
	srv.createItem(t, "wk1", -time.Hour, nil)
	base := srv.URL + "/v0/orgs/org-1/projects/p1/items/wk1"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/submit", nil, sup)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/submit", nil, sup)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_submitted" {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, base, nil, sup)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, base, nil, sup)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d %s", res.StatusCode, data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	plain, key, err := srv.Engine.CreateAPIKey(context.Background(), "org-1", "owner", "ci")
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/projects", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"p1"`) {
		t.Fatalf("list projects: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-2/projects", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-org key: %d %s", res.StatusCode, data)
	}
	if err := srv.Engine.RevokeAPIKey(context.Background(), "org-1", key.ID, "owner"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/projects", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key: %d %s", res.StatusCode, data)
	}
}

func TestMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer(t, "sup", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, data)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatal(err)
	}
	if who.ActorID != "sup" || who.OrgID != "org-1" || len(who.Roles) != 1 || who.Roles[0] != "supervisor" {
		t.Fatalf("who = %+v", who)
	}
}

func TestGrantRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	url := srv.URL + "/v0/orgs/org-1/roles"

	res, data := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"actor_id": "mgr", "role": "manager"}, bearer(t, "sup", "org-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor grant: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"actor_id": "mgr", "role": "janitor"}, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"actor_id": "mgr", "role": "manager"}, bearer(t, "owner", "org-1"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("grant: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orgs/org-1/timeliness/export.csv", nil, bearer(t, "mgr", "org-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manager export: %d %s", res.StatusCode, data)
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	const n = 8
	bodies := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			if res.StatusCode != http.StatusOK {
				t.Errorf("status %d", res.StatusCode)
			}
			bodies[i] = string(data)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("response %d differs from first", i)
		}
	}
	if !strings.Contains(bodies[0], "timeliness-overview") {
		t.Fatalf("spec missing operations: %.200s", bodies[0])
	}
}
