package opssyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal OpsSync HTTP API client bound to one organization.
type Client struct {
	BaseURL     string
	OrgID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

type Project struct {
	ID        string `json:"id"`
	OrgID     string `json:"orgId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type Item struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	ProjectID   string     `json:"projectId"`
	ProjectName string     `json:"projectName,omitempty"`
	DueAt       time.Time  `json:"dueAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// GradedItem is an item as returned by project metrics.
type GradedItem struct {
	Item
	Grade   string `json:"grade"`
	Overdue bool   `json:"overdue"`
}

type Summary struct {
	Total      int     `json:"total"`
	Green      int     `json:"GREEN"`
	Amber      int     `json:"AMBER"`
	Red        int     `json:"RED"`
	Overdue    int     `json:"overdue"`
	OnTimeRate float64 `json:"onTimeRate"`
}

type ProjectRow struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName,omitempty"`
	Summary
}

type TrendPoint struct {
	Day   string `json:"day"`
	Total int    `json:"total"`
	Green int    `json:"GREEN"`
	Amber int    `json:"AMBER"`
	Red   int    `json:"RED"`
}

type Overview struct {
	Summary   Summary      `json:"summary"`
	ByProject []ProjectRow `json:"byProject"`
	Trend     []TrendPoint `json:"trend"`
}

type Metrics struct {
	Summary
	Items []GradedItem `json:"items"`
}

type Rules struct {
	AtRiskMinutes int  `json:"atRiskMinutes"`
	RedMinutes    int  `json:"redMinutes"`
	Override      bool `json:"override,omitempty"`
}

// CreateItemInput is the body of CreateItem. Zero ID lets the server pick.
type CreateItemInput struct {
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type,omitempty"`
	Title       string     `json:"title"`
	DueAt       time.Time  `json:"dueAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// APIError wraps non-2xx responses. Code carries the error envelope code
// when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project in the client's org.
func (c *Client) CreateProject(ctx context.Context, id, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.orgPath("projects"), map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

// Projects lists the org's projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, c.orgPath("projects"), nil, &resp)
	return resp, err
}

// Overview returns org-wide timeliness. days <= 0 uses the server default.
func (c *Client) Overview(ctx context.Context, days int) (Overview, error) {
	var resp Overview
	err := c.do(ctx, http.MethodGet, withDays(c.orgPath("timeliness/overview"), days), nil, &resp)
	return resp, err
}

// Metrics returns the graded items of one project.
func (c *Client) Metrics(ctx context.Context, projectID string, days int) (Metrics, error) {
	var resp Metrics
	endpoint := c.orgPath(fmt.Sprintf("projects/%s/timeliness/metrics", url.PathEscape(projectID)))
	err := c.do(ctx, http.MethodGet, withDays(endpoint, days), nil, &resp)
	return resp, err
}

// Export downloads the CSV or XLSX export. projectID may be empty.
func (c *Client) Export(ctx context.Context, format, projectID string, days int) ([]byte, error) {
	endpoint := withDays(c.orgPath("timeliness/export."+format), days)
	if projectID != "" {
		endpoint = withQuery(endpoint, "project_id", projectID)
	}
	resp, err := c.send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Rules returns the effective SLA rules of a project.
func (c *Client) Rules(ctx context.Context, projectID string) (Rules, error) {
	var resp Rules
	err := c.do(ctx, http.MethodGet, c.rulesPath(projectID), nil, &resp)
	return resp, err
}

// SetRules overrides a project's SLA rules.
func (c *Client) SetRules(ctx context.Context, projectID string, atRiskMinutes, redMinutes int) (Rules, error) {
	body := map[string]any{"atRiskMinutes": atRiskMinutes, "redMinutes": redMinutes}
	var resp Rules
	err := c.do(ctx, http.MethodPost, c.rulesPath(projectID), body, &resp)
	return resp, err
}

// CreateItem adds a timeliness item to a project.
func (c *Client) CreateItem(ctx context.Context, projectID string, in CreateItemInput) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, c.itemsPath(projectID, ""), in, &resp)
	return resp, err
}

// SubmitItem marks an item submitted. A nil at means now.
func (c *Client) SubmitItem(ctx context.Context, projectID, itemID string, at *time.Time) (Item, error) {
	var body any
	if at != nil {
		body = map[string]any{"submittedAt": at.UTC().Format(time.RFC3339)}
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.itemsPath(projectID, itemID)+"/submit", body, &resp)
	return resp, err
}

// DeleteItem removes an item from every view.
func (c *Client) DeleteItem(ctx context.Context, projectID, itemID string) error {
	return c.do(ctx, http.MethodDelete, c.itemsPath(projectID, itemID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) orgPath(p string) string {
	return fmt.Sprintf("orgs/%s/%s", url.PathEscape(c.OrgID), strings.TrimLeft(p, "/"))
}

func (c *Client) rulesPath(projectID string) string {
	return c.orgPath(fmt.Sprintf("projects/%s/sla-rules", url.PathEscape(projectID)))
}

func (c *Client) itemsPath(projectID, itemID string) string {
	p := fmt.Sprintf("projects/%s/items", url.PathEscape(projectID))
	if itemID != "" {
		p += "/" + url.PathEscape(itemID)
	}
	return c.orgPath(p)
}

func withDays(endpoint string, days int) string {
	if days <= 0 {
		return endpoint
	}
	return withQuery(endpoint, "days", strconv.Itoa(days))
}

func withQuery(endpoint, key, value string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + key + "=" + url.QueryEscape(value)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
