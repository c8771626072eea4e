package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "/v0",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ManagerID string `json:"manager_id"`
}

// TestCase represents the API test case model (partial).
type TestCase struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	ExpectedResult string `json:"expected_result"`
	Order          int    `json:"order"`
}

// TestPlan represents the API plan model (partial).
type TestPlan struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// TestRun represents a run.
type TestRun struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	PlanID    *string `json:"plan_id,omitempty"`
	Mode      string  `json:"mode"`
	Status    string  `json:"status"`
}

// TestResult is one case's outcome in a run.
type TestResult struct {
	ID         string  `json:"id"`
	TestCaseID string  `json:"test_case_id"`
	CaseCode   string  `json:"case_code"`
	Position   int     `json:"position"`
	Status     *string `json:"status,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	Duration   *int    `json:"duration,omitempty"`
}

// Step is where a run stands.
type Step struct {
	Run      TestRun   `json:"run"`
	Case     *TestCase `json:"case,omitempty"`
	Position int       `json:"position"`
	Total    int       `json:"total"`
	Pending  int       `json:"pending"`
	Finished bool      `json:"finished"`
}

// Outcome is the response to recording a result.
type Outcome struct {
	Result TestResult `json:"result"`
	First  bool       `json:"first"`
	Next   Step       `json:"next"`
}

// Summary aggregates a run.
type Summary struct {
	Total                int     `json:"total"`
	Passed               int     `json:"passed"`
	Failed               int     `json:"failed"`
	Skipped              int     `json:"skipped"`
	Pending              int     `json:"pending"`
	PercentPassed        float64 `json:"percent_passed"`
	TotalDuration        int     `json:"total_duration"`
	TotalDurationMinutes int     `json:"total_duration_minutes"`
}

// APIError wraps non-2xx responses. Code, Message and Details come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project; the caller becomes its manager.
func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name}, &resp)
	if err == nil && c.ProjectID == "" {
		c.ProjectID = resp.ID
	}
	return resp, err
}

// CreateTestCase appends a test case to the project.
func (c *Client) CreateTestCase(ctx context.Context, title, expected string) (TestCase, error) {
	body := map[string]any{
		"title":           title,
		"expected_result": expected,
	}
	var resp TestCase
	err := c.do(ctx, http.MethodPost, c.projectPath("cases"), body, &resp)
	return resp, err
}

// CreatePlan creates a plan holding the given cases in order.
func (c *Client) CreatePlan(ctx context.Context, name string, caseIDs []string) (TestPlan, error) {
	body := map[string]any{
		"name":          name,
		"test_case_ids": caseIDs,
	}
	var resp TestPlan
	err := c.do(ctx, http.MethodPost, c.projectPath("plans"), body, &resp)
	return resp, err
}

// StartRun starts a run against a plan; mode may be empty for the server default.
func (c *Client) StartRun(ctx context.Context, planID, mode string) (TestRun, error) {
	body := map[string]any{"plan_id": planID}
	if mode != "" {
		body["mode"] = mode
	}
	var resp TestRun
	err := c.do(ctx, http.MethodPost, c.projectPath("runs"), body, &resp)
	return resp, err
}

// Next returns the run's next pending case.
func (c *Client) Next(ctx context.Context, runID string) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodGet, runPath(runID, "next"), nil, &resp)
	return resp, err
}

// Record stores a pass, fail or skip for a case.
func (c *Client) Record(ctx context.Context, runID, caseID, status, notes string) (Outcome, error) {
	body := map[string]any{
		"test_case_id": caseID,
		"status":       status,
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, runPath(runID, "results"), body, &resp)
	return resp, err
}

// Summary returns the run's totals.
func (c *Client) Summary(ctx context.Context, runID string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, runPath(runID, "summary"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(c.ProjectID), strings.TrimLeft(p, "/"))
}

func runPath(runID, p string) string {
	return fmt.Sprintf("runs/%s/%s", url.PathEscape(runID), p)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
