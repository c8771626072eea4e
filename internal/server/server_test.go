package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
	"caseline/internal/report"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.New()
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		DevLogin: true,
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actor string) map[string]string { return map[string]string{"X-Actor-Id": actor} }

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type apiErrorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

// seed creates a project owned by alice with n test cases and a plan over them.
func seed(t *testing.T, srv *testServer, n int) (domain.Project, []domain.TestCase, domain.TestPlan) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Alpha"}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	p := decode[domain.Project](t, data)

	var cases []domain.TestCase
	var ids []string
	for i := 0; i < n; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/cases", map[string]any{
			"title":           "case",
			"expected_result": "ok",
			"steps":           "open\nclick",
		}, as("alice"))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
		tc := decode[domain.TestCase](t, data)
		cases = append(cases, tc)
		ids = append(ids, tc.ID)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/plans", map[string]any{
		"name":          "Release",
		"test_case_ids": ids,
	}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return p, cases, decode[domain.TestPlan](t, data)
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[apiErrorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bob"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	require.NotEmpty(t, token)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "bob", me.ActorID)
	assert.Equal(t, "jwt", me.Source)
}

func TestProjectAccessByRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p, _, _ := seed(t, srv, 1)
	base := srv.URL + "/v0/projects/" + p.ID

	res, data := doJSON(t, srv.Client(), http.MethodGet, base, nil, as("mallory"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "view", decode[apiErrorEnvelope](t, data).Error.Details["required"])

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/members", map[string]any{"user_id": "victor", "role": "viewer"}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/cases", nil, as("victor"))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/requirements", map[string]any{"title": "Login"}, as("victor"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "edit", decode[apiErrorEnvelope](t, data).Error.Details["required"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, base, nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	detail := decode[engine.ProjectDetail](t, data)
	assert.Equal(t, 1, detail.Counts.TestCases)
	assert.Len(t, detail.Members, 2)
}

func TestDuplicateProjectName(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv, 0)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Alpha"}, as("bob"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "duplicate_name", decode[apiErrorEnvelope](t, data).Error.Code)
}

func TestPullRunOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p, cases, plan := seed(t, srv, 2)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/runs", map[string]any{"plan_id": plan.ID}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	run := decode[domain.TestRun](t, data)
	assert.Equal(t, domain.RunModePull, run.Mode)
	runURL := srv.URL + "/v0/runs/" + run.ID

	res, data = doJSON(t, srv.Client(), http.MethodGet, runURL+"/next", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	st := decode[engine.Step](t, data)
	require.NotNil(t, st.Case)
	assert.Equal(t, cases[0].ID, st.Case.ID)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, 2, st.Total)

	res, data = doJSON(t, srv.Client(), http.MethodPost, runURL+"/results", map[string]any{"test_case_id": cases[1].ID, "status": "pass"}, as("alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	for _, tc := range cases {
		res, data = doJSON(t, srv.Client(), http.MethodPost, runURL+"/results", map[string]any{
			"test_case_id": tc.ID, "status": "pass", "duration": 90,
		}, as("alice"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	out := decode[engine.RecordOutcome](t, data)
	assert.True(t, out.First)
	assert.True(t, out.Next.Finished)

	res, data = doJSON(t, srv.Client(), http.MethodPost, runURL+"/results", map[string]any{"test_case_id": cases[0].ID, "status": "fail"}, as("alice"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	body := decode[apiErrorEnvelope](t, data).Error
	assert.Equal(t, "already_finished", body.Code)
	assert.Equal(t, "/v0/runs/"+run.ID+"/summary", body.Details["summary"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, runURL+"/summary", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, report.Summary{Total: 2, Passed: 2, PercentPassed: 100, TotalDuration: 180, TotalDurationMinutes: 3}, decode[report.Summary](t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, runURL+"/results.csv", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/csv"))
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestStartRunWithoutCases(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p, _, _ := seed(t, srv, 0)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/plans", map[string]any{"name": "Empty"}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	empty := decode[domain.TestPlan](t, data)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/runs", map[string]any{"plan_id": empty.ID}, as("alice"))
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "empty_list", decode[apiErrorEnvelope](t, data).Error.Code)
}

func TestLinksAndOrdering(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p, cases, _ := seed(t, srv, 3)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/requirements", map[string]any{"title": "Login"}, as("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	q := decode[domain.Requirement](t, data)
	assert.Equal(t, "REQ-001", q.Code)

	linkURL := srv.URL + "/v0/links/requirement_cases/" + q.ID
	res, data = doJSON(t, srv.Client(), http.MethodPut, linkURL+"/codes", map[string]any{"codes": "TC-003, TC-001"}, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, []string{cases[2].ID, cases[0].ID}, decode[DiffResponse](t, data).Added)

	res, data = doJSON(t, srv.Client(), http.MethodPut, linkURL, map[string]any{"member_ids": []string{cases[0].ID, cases[1].ID}}, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	diff := decode[DiffResponse](t, data)
	assert.Equal(t, []string{cases[1].ID}, diff.Added)
	assert.Equal(t, []string{cases[2].ID}, diff.Removed)

	res, data = doJSON(t, srv.Client(), http.MethodGet, linkURL, nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, []string{cases[0].ID, cases[1].ID}, decode[LinksResponse](t, data).MemberIDs)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requirements/"+q.ID+"/cases", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	covered := decode[[]domain.TestCase](t, data)
	require.Len(t, covered, 2)
	assert.Equal(t, "TC-001", covered[0].Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/"+cases[1].ID+"/links", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	caseLinks := decode[engine.CaseLinks](t, data)
	require.Len(t, caseLinks.Requirements, 1)
	assert.Equal(t, "REQ-001", caseLinks.Requirements[0].Code)
	assert.Empty(t, caseLinks.Bugs)

	res, data = doJSON(t, srv.Client(), http.MethodPut, linkURL+"/codes", map[string]any{"codes": "TC-009"}, as("alice"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/order/test_cases/swap", map[string]any{"a": cases[0].ID, "b": cases[2].ID}, as("alice"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/cases", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	listed := decode[[]domain.TestCase](t, data)
	require.Len(t, listed, 3)
	assert.Equal(t, cases[2].ID, listed[0].ID)
	assert.Equal(t, "TC-001", listed[0].Code)

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/cases/"+listed[1].ID, nil, as("alice"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/cases", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	listed = decode[[]domain.TestCase](t, data)
	require.Len(t, listed, 2)
	assert.Equal(t, "TC-002", listed[1].Code)
}

func TestExportImportOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p, _, _ := seed(t, srv, 2)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/export", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["name"] = "Alpha copy"

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/import", doc, as("bob"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	imported := decode[domain.Project](t, data)
	assert.Equal(t, "bob", imported.ManagerID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+imported.ID+"/cases", nil, as("bob"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]domain.TestCase](t, data), 2)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}
