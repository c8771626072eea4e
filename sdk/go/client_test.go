package caselinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/server"
)

func newClient(t *testing.T, actor string) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, config.Default()),
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret"},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	token, err := server.SignToken("sdk-secret", actor, time.Hour)
	require.NoError(t, err)
	c := New(srv.URL, "")
	c.BearerToken = token
	return c
}

func TestPullRunThroughClient(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "alice")

	p, err := c.CreateProject(ctx, "Checkout")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ManagerID)
	assert.Equal(t, p.ID, c.ProjectID)

	login, err := c.CreateTestCase(ctx, "Login", "dashboard shown")
	require.NoError(t, err)
	pay, err := c.CreateTestCase(ctx, "Pay", "receipt sent")
	require.NoError(t, err)
	assert.Equal(t, "TC-002", pay.Code)

	plan, err := c.CreatePlan(ctx, "Smoke", []string{login.ID, pay.ID})
	require.NoError(t, err)
	run, err := c.StartRun(ctx, plan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "pull", run.Mode)

	step, err := c.Next(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, step.Case)
	assert.Equal(t, login.ID, step.Case.ID)
	assert.Equal(t, 2, step.Pending)

	_, err = c.Record(ctx, run.ID, pay.ID, "pass", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	out, err := c.Record(ctx, run.ID, login.ID, "pass", "")
	require.NoError(t, err)
	assert.True(t, out.First)
	assert.Equal(t, pay.ID, out.Next.Case.ID)

	out, err = c.Record(ctx, run.ID, pay.ID, "fail", "card declined")
	require.NoError(t, err)
	assert.True(t, out.Next.Finished)

	sum, err := c.Summary(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.InDelta(t, 50.0, sum.PercentPassed, 0.001)

	_, err = c.Record(ctx, run.ID, pay.ID, "pass", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "already_finished", apiErr.Code)
	assert.Equal(t, "/v0/runs/"+run.ID+"/summary", apiErr.Details["summary"])
}

func TestClientWithoutTokenIsRejected(t *testing.T) {
	c := newClient(t, "bob")
	c.BearerToken = ""
	_, err := c.CreateProject(context.Background(), "Nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
