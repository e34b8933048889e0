// Package eventstream maintains a best-effort persistent event feed from the
// procfleet control plane over a WebSocket connection. Decoded events are
// fanned out through an emitter; connection drops are recovered internally
// with a single scheduled reconnect per disconnect. The supervisor has no
// error-surfacing channel to the caller: sustained inability to reconnect is
// observable only as event silence.
package eventstream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/procfleet/procfleet/pkg/emitter"
	"github.com/rs/zerolog"
)

// DefaultRetryDelay is the fixed wait before re-dialing after an unexpected
// close or a failed dial.
const DefaultRetryDelay = 5 * time.Second

// State is the supervisor's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateAborted is terminal: reached only by Close, never left.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Dialer opens one authenticated WebSocket connection to the event endpoint.
// *restclient.Client satisfies it.
type Dialer interface {
	DialEvents(ctx context.Context) (*websocket.Conn, error)
}

// frame is one inbound event message: a type tag and an opaque payload.
type frame struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// Supervisor owns the event connection lifecycle: dial, decode, republish,
// and re-dial after an unexpected close. RetryDelay and Logger may be set
// before Start.
type Supervisor struct {
	RetryDelay time.Duration
	Logger     zerolog.Logger

	dialer Dialer
	events *emitter.Emitter[json.RawMessage]

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor in the Disconnected state. No connection is
// opened until Start.
func New(d Dialer) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		RetryDelay: DefaultRetryDelay,
		Logger:     zerolog.Nop(),
		dialer:     d,
		events:     emitter.New[json.RawMessage](),
		ctx:        ctx,
		cancel:     cancel,
		sleepFunc:  contextSleep,
	}
}

// Events returns the emitter that receives every decoded event. Handlers may
// be registered in any connection state; they simply receive events once the
// stream is connected.
func (s *Supervisor) Events() *emitter.Emitter[json.RawMessage] { return s.events }

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// SetSleepFunc overrides the reconnect wait (for testing). Must be called
// before Start.
func (s *Supervisor) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	s.sleepFunc = fn
}

// Start launches the supervision loop. It is idempotent and returns
// immediately; the caller is never blocked by connection activity.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Close aborts the supervisor: the state becomes Aborted, a live or
// handshaking connection is closed, and no reconnect is ever attempted
// afterward. It is idempotent and safe to call in any state.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateAborted))
		s.cancel()

		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()

		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		}
	})
}

// run is the supervision loop. Running it on a single goroutine is what
// makes reconnection single-shot: however many close events a connection
// produces, at most one redial is ever pending.
func (s *Supervisor) run() {
	for {
		s.transition(StateConnecting)
		if s.ctx.Err() != nil {
			return
		}

		conn, err := s.dialer.DialEvents(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}

			s.Logger.Debug().Err(err).Msg("event dial failed")
			s.transition(StateDisconnected)

			if s.sleepFunc(s.ctx, s.RetryDelay) != nil {
				return
			}
			continue
		}

		if s.ctx.Err() != nil {
			// Close raced the handshake; the dial must not become Connected.
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
			return
		}

		s.setConn(conn)
		s.transition(StateConnected)

		s.readLoop(conn)

		s.setConn(nil)
		if s.ctx.Err() != nil {
			return
		}

		s.transition(StateDisconnected)
		s.Logger.Debug().Dur("retry_in", s.RetryDelay).Msg("event stream closed, reconnect scheduled")

		if s.sleepFunc(s.ctx, s.RetryDelay) != nil {
			return
		}
	}
}

// readLoop decodes and republishes frames until the connection fails.
// Malformed frames are dropped; they never end the connection.
func (s *Supervisor) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		if typ != websocket.MessageText {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.T == "" {
			s.Logger.Debug().Str("frame", string(data)).Msg("dropped malformed event frame")
			continue
		}

		s.events.Emit(f.T, f.D)
	}
}

// transition moves to next unless the supervisor was aborted; Aborted is
// never overwritten.
func (s *Supervisor) transition(next State) {
	for {
		cur := s.state.Load()
		if State(cur) == StateAborted {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (s *Supervisor) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
