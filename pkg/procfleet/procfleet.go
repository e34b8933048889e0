// Package procfleet is the domain facade over the procfleet control-plane
// API. Each operation is a thin mapping of a fleet action onto the request
// engine's verbs; retry, timeout, and failure classification live entirely
// in restclient. The facade holds the engine by composition, never
// extension.
package procfleet

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/procfleet/procfleet/pkg/emitter"
	"github.com/procfleet/procfleet/pkg/eventstream"
	"github.com/procfleet/procfleet/pkg/restclient"
)

// ProcessInfo describes one supervised process as reported by the control
// plane.
type ProcessInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status"`
	Pid     int    `json:"pid,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
}

// FleetState is the control plane's aggregate state.
type FleetState struct {
	Status    string        `json:"status"`
	Processes []ProcessInfo `json:"processes,omitempty"`
}

// LogItem is one log record, appended or queried.
type LogItem struct {
	ProcessID string `json:"processId,omitempty"`
	TimeStamp int64  `json:"timeStamp,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Message   string `json:"message"`
}

// TelemetryRecord is one client-originated telemetry sample. The payload is
// opaque to the transport.
type TelemetryRecord struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCMessage is an opaque message relayed to a supervised process.
type IPCMessage struct {
	ID        string          `json:"id"`
	ProcessID string          `json:"processId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LogQuery filters a Logs call. Zero-valued fields are omitted from the
// query string.
type LogQuery struct {
	ProcessID      string
	StartTimeStamp int64
	EndTimeStamp   int64
	Severity       string
	NRows          int
}

func (q LogQuery) encode() string {
	v := url.Values{}
	if q.ProcessID != "" {
		v.Set("processId", q.ProcessID)
	}
	if q.StartTimeStamp != 0 {
		v.Set("startTimeStamp", strconv.FormatInt(q.StartTimeStamp, 10))
	}
	if q.EndTimeStamp != 0 {
		v.Set("endTimeStamp", strconv.FormatInt(q.EndTimeStamp, 10))
	}
	if q.Severity != "" {
		v.Set("severity", q.Severity)
	}
	if q.NRows != 0 {
		v.Set("nRows", strconv.Itoa(q.NRows))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Client composes the request engine and the event stream supervisor into
// named fleet operations.
type Client struct {
	rest   *restclient.Client
	stream *eventstream.Supervisor
}

// New creates a facade around an existing request engine. The event stream
// stays disconnected until StartEvents.
func New(rest *restclient.Client) *Client {
	return &Client{
		rest:   rest,
		stream: eventstream.New(rest),
	}
}

// Rest exposes the underlying request engine, e.g. for SetToken.
func (c *Client) Rest() *restclient.Client { return c.rest }

// Events returns the emitter carrying decoded stream events.
func (c *Client) Events() *emitter.Emitter[json.RawMessage] { return c.stream.Events() }

// Stream exposes the event stream supervisor.
func (c *Client) Stream() *eventstream.Supervisor { return c.stream }

// StartEvents opens the live event feed. Idempotent.
func (c *Client) StartEvents() { c.stream.Start() }

// Close aborts the event stream. In-flight HTTP calls are unaffected; they
// are bounded by their own timeouts.
func (c *Client) Close() { c.stream.Close() }

// Processes lists all supervised processes.
func (c *Client) Processes(ctx context.Context) ([]ProcessInfo, error) {
	var procs []ProcessInfo
	if _, err := c.rest.Get(ctx, "/processes", &procs); err != nil {
		return nil, err
	}
	return procs, nil
}

// State fetches the control plane's aggregate state.
func (c *Client) State(ctx context.Context) (FleetState, error) {
	var st FleetState
	if _, err := c.rest.Get(ctx, "/state", &st); err != nil {
		return FleetState{}, err
	}
	return st, nil
}

// StartProcess starts the identified process.
func (c *Client) StartProcess(ctx context.Context, id string) error {
	return c.processAction(ctx, id, "start")
}

// StopProcess stops the identified process.
func (c *Client) StopProcess(ctx context.Context, id string) error {
	return c.processAction(ctx, id, "stop")
}

// RestartProcess restarts the identified process.
func (c *Client) RestartProcess(ctx context.Context, id string) error {
	return c.processAction(ctx, id, "restart")
}

// BlockProcess prevents the identified process from being (re)started.
func (c *Client) BlockProcess(ctx context.Context, id string) error {
	return c.processAction(ctx, id, "block")
}

// UnblockProcess lifts a block.
func (c *Client) UnblockProcess(ctx context.Context, id string) error {
	return c.processAction(ctx, id, "unblock")
}

func (c *Client) processAction(ctx context.Context, id, action string) error {
	_, err := c.rest.Post(ctx, "/processes/"+url.PathEscape(id)+"/"+action, nil, nil)
	return err
}

// SendTelemetry submits a telemetry record, assigning it a fresh ID when the
// caller left it empty.
func (c *Client) SendTelemetry(ctx context.Context, rec TelemetryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := c.rest.Post(ctx, "/telemetry", rec, nil)
	return err
}

// SendIPC relays an opaque message to a supervised process, assigning it a
// fresh ID when the caller left it empty.
func (c *Client) SendIPC(ctx context.Context, msg IPCMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := c.rest.Post(ctx, "/ipc", msg, nil)
	return err
}

// Terminate asks the control plane to shut the whole fleet down.
func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.rest.Post(ctx, "/terminate", nil, nil)
	return err
}

// AppendLog appends one log record.
func (c *Client) AppendLog(ctx context.Context, item LogItem) error {
	_, err := c.rest.Post(ctx, "/log", item, nil)
	return err
}

// Logs queries stored log records.
func (c *Client) Logs(ctx context.Context, q LogQuery) ([]LogItem, error) {
	var items []LogItem
	if _, err := c.rest.Get(ctx, "/logs"+q.encode(), &items); err != nil {
		return nil, err
	}
	return items, nil
}
