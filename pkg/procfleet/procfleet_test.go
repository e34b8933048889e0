package procfleet_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/procfleet/procfleet/pkg/procfleet"
	"github.com/procfleet/procfleet/pkg/restclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T, handler http.HandlerFunc) *procfleet.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rest := restclient.New(srv.URL, "test-token")
	rest.MaxRetries = 0
	rest.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	c := procfleet.New(rest)
	t.Cleanup(c.Close)

	return c
}

func TestProcessesListsFleet(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/processes", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`[{"id":"web","status":"running","pid":1234},{"id":"worker","status":"stopped","blocked":true}]`))
	})

	procs, err := c.Processes(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, "web", procs[0].ID)
	assert.Equal(t, 1234, procs[0].Pid)
	assert.True(t, procs[1].Blocked)
}

func TestStateFetchesAggregate(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/state", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"degraded","processes":[{"id":"web","status":"crashed"}]}`))
	})

	st, err := c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", st.Status)
	require.Len(t, st.Processes, 1)
	assert.Equal(t, "crashed", st.Processes[0].Status)
}

func TestProcessActionsMapToVerbPaths(t *testing.T) {
	var gotPaths []string

	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotPaths = append(gotPaths, r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.StartProcess(ctx, "web"))
	require.NoError(t, c.StopProcess(ctx, "web"))
	require.NoError(t, c.RestartProcess(ctx, "web"))
	require.NoError(t, c.BlockProcess(ctx, "web"))
	require.NoError(t, c.UnblockProcess(ctx, "my worker"))

	assert.Equal(t, []string{
		"/processes/web/start",
		"/processes/web/stop",
		"/processes/web/restart",
		"/processes/web/block",
		"/processes/my%20worker/unblock",
	}, gotPaths)
}

func TestSendTelemetryAssignsID(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/telemetry", r.URL.Path)

		var rec procfleet.TelemetryRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, "cpu", rec.Kind)

		w.WriteHeader(http.StatusAccepted)
	})

	err := c.SendTelemetry(context.Background(), procfleet.TelemetryRecord{
		Kind: "cpu",
		Data: json.RawMessage(`{"usage":0.4}`),
	})
	require.NoError(t, err)
}

func TestSendIPCKeepsCallerID(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipc", r.URL.Path)

		var msg procfleet.IPCMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "msg-7", msg.ID)
		assert.Equal(t, "web", msg.ProcessID)

		w.WriteHeader(http.StatusOK)
	})

	err := c.SendIPC(context.Background(), procfleet.IPCMessage{
		ID:        "msg-7",
		ProcessID: "web",
		Data:      json.RawMessage(`{"cmd":"reload"}`),
	})
	require.NoError(t, err)
}

func TestTerminateAndAppendLog(t *testing.T) {
	var gotPaths []string

	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)

		if r.URL.Path == "/log" {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"processId":"web","severity":"error","message":"crashed"}`, string(raw))
		}

		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.AppendLog(ctx, procfleet.LogItem{
		ProcessID: "web",
		Severity:  "error",
		Message:   "crashed",
	}))
	require.NoError(t, c.Terminate(ctx))

	assert.Equal(t, []string{"/log", "/terminate"}, gotPaths)
}

func TestLogsEncodesQueryParameters(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "web", q.Get("processId"))
		assert.Equal(t, "1700000000000", q.Get("startTimeStamp"))
		assert.Equal(t, "1700000100000", q.Get("endTimeStamp"))
		assert.Equal(t, "warning", q.Get("severity"))
		assert.Equal(t, "50", q.Get("nRows"))

		_, _ = w.Write([]byte(`[{"processId":"web","severity":"warning","message":"slow"}]`))
	})

	items, err := c.Logs(context.Background(), procfleet.LogQuery{
		ProcessID:      "web",
		StartTimeStamp: 1700000000000,
		EndTimeStamp:   1700000100000,
		Severity:       "warning",
		NRows:          50,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "slow", items[0].Message)
}

func TestLogsOmitsUnsetQueryParameters(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.Logs(context.Background(), procfleet.LogQuery{})
	require.NoError(t, err)
}

func TestFacadeSurfacesTypedErrors(t *testing.T) {
	c := newTestFacade(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such process"}`))
	})

	err := c.StartProcess(context.Background(), "ghost")

	var apiErr *restclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "no such process", apiErr.Message)
}
