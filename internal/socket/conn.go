package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State is the connection's position in the handshake/auth state
// machine (spec.md §4.9 state diagram; grounded on
// original_source/filen-sdk-rs/src/sockets.rs's SocketConnectionState).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeWait
	StateAuthedFalseWait
	StateAuthSent
	StateAuthed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeWait:
		return "handshake_wait"
	case StateAuthedFalseWait:
		return "authed_false_wait"
	case StateAuthSent:
		return "auth_sent"
	case StateAuthed:
		return "authed"
	default:
		return "unknown"
	}
}

// Config wires a Conn to its owning client: the URL to dial, the
// current API key, and the decrypt callback that turns an encrypted
// event payload into a concrete Event (spec.md §4.9).
type Config struct {
	URL                 string
	APIKey              func() string
	Decode              DecodeFunc
	Logger              *logrus.Logger
	DialTimeout         time.Duration
	MinReconnectBackoff time.Duration
	MaxReconnectBackoff time.Duration
	DecodeWorkers       int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.MinReconnectBackoff <= 0 {
		out.MinReconnectBackoff = 500 * time.Millisecond
	}
	if out.MaxReconnectBackoff <= 0 {
		out.MaxReconnectBackoff = 30 * time.Second
	}
	if out.DecodeWorkers <= 0 {
		out.DecodeWorkers = 4
	}
	if out.Logger == nil {
		out.Logger = logrus.New()
	}
	return out
}

// handshake is the Engine.IO open-packet payload the server sends as
// the very first frame after the WebSocket upgrade.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// Conn is a single push-event connection: one WebSocket, the
// handshake/auth state machine, a ping keepalive, an ordered decrypt
// dispatcher, and automatic reconnect with exponential backoff.
type Conn struct {
	cfg       Config
	listeners *registry
	dispatch  *dispatcher

	state   atomic.Int32
	seq     atomic.Uint64
	writeMu sync.Mutex
	ws      *websocket.Conn

	// helloSent tracks the two-step authed exchange within one
	// dial-to-disconnect cycle: the first authed(false) is answered
	// with a timestamp hello, the second with the real credentials.
	helloSent bool
}

// NewConn builds a Conn. Call Run to start the connect/auth/reconnect
// loop; it blocks until ctx is canceled.
func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	reg := newRegistry()
	return &Conn{
		cfg:       cfg,
		listeners: reg,
		dispatch:  newDispatcher(cfg.DecodeWorkers, cfg.Decode, reg, cfg.Logger),
	}
}

// Subscribe registers fn for events whose type is in filter, or every
// event when no filter is given. Events no listener is interested in
// are dropped before decryption.
func (c *Conn) Subscribe(fn Listener, filter ...EventType) *ListenerHandle {
	return c.listeners.subscribe(fn, filter...)
}

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Run drives connect -> handshake -> auth -> read loop, reconnecting
// with exponential backoff (capped at cfg.MaxReconnectBackoff) whenever
// the connection drops, until ctx is canceled.
func (c *Conn) Run(ctx context.Context) error {
	go func() {
		_ = c.dispatch.run(ctx)
	}()
	defer c.dispatch.close()

	backoff := c.cfg.MinReconnectBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.runOnce(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A rejected api key is terminal: AuthFailed has already been
		// dispatched and reconnecting would only be rejected again.
		var serr *Error
		if errors.As(err, &serr) && serr.Kind == KindUnauthenticated {
			return err
		}
		c.cfg.Logger.WithError(err).WithField("backoff", backoff).Warn("socket: disconnected, reconnecting")
		c.listeners.dispatch(Reconnecting{})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxReconnectBackoff {
			backoff = c.cfg.MaxReconnectBackoff
		}
	}
}

// runOnce performs one dial-to-disconnect cycle and always returns a
// non-nil error saying why the session ended. Canceling ctx closes the
// socket, so a read blocked in readLoop returns promptly.
func (c *Conn) runOnce(ctx context.Context) error {
	c.setState(StateConnecting)
	c.helloSent = false

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return newError(KindNetwork, "dial failed", err)
	}
	defer ws.Close()
	stopClose := context.AfterFunc(ctx, func() { ws.Close() })
	defer stopClose()

	c.writeMu.Lock()
	c.ws = ws
	c.writeMu.Unlock()

	c.setState(StateHandshakeWait)

	hs, err := c.readHandshake(ws)
	if err != nil {
		return err
	}
	if err := c.send(ws, "40"); err != nil {
		return err
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, ws, time.Duration(hs.PingInterval)*time.Millisecond)

	c.setState(StateAuthedFalseWait)
	return c.readLoop(ctx, ws)
}

func (c *Conn) readHandshake(ws *websocket.Conn) (handshake, error) {
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return handshake{}, newError(KindNetwork, "handshake read failed", err)
	}
	if len(msg) == 0 || msg[0] != '0' {
		return handshake{}, newError(KindInvalidState, fmt.Sprintf("unexpected first frame %q", msg), nil)
	}
	var hs handshake
	if err := json.Unmarshal(msg[1:], &hs); err != nil {
		return handshake{}, newError(KindInvalidState, "malformed handshake payload", err)
	}
	if hs.PingInterval <= 0 {
		hs.PingInterval = 25_000
	}
	return hs, nil
}

// pingLoop fires every pingInterval from the moment the connection is
// authed, sending an Engine.IO Ping packet and an "authed" heartbeat
// carrying the current unix-millis timestamp (spec.md §4.9 "Ping
// task"). Send errors are left for the read loop to notice.
func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateAuthed {
				continue
			}
			if err := c.send(ws, "2"); err != nil {
				return
			}
			if err := c.sendEvent(ws, "authed", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
				return
			}
		}
	}
}

// readLoop consumes frames until the socket closes or ctx is canceled,
// replying to Engine.IO pings and feeding Socket.IO event frames
// through the auth state machine and decrypt dispatcher.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return newError(KindNetwork, "read failed", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case '2': // engine.io ping
			if err := c.send(ws, "3"); err != nil {
				return err
			}
		case '3': // engine.io pong, nothing to do
		case '4': // socket.io message
			if err := c.handleMessage(ws, msg[1:]); err != nil {
				return err
			}
		default:
			// connect/disconnect/upgrade/noop acks, ignored.
		}
	}
}

// handleMessage parses a Socket.IO message frame (the byte after the
// leading '4') and, for event frames, either drives the auth state
// machine or forwards the frame for ordered decrypt-and-dispatch.
func (c *Conn) handleMessage(ws *websocket.Conn, rest []byte) error {
	if len(rest) == 0 {
		return nil
	}
	switch rest[0] {
	case '0': // connect ack
		return nil
	case '1': // disconnect
		return newError(KindNetwork, "server requested disconnect", nil)
	case '2': // event
		name, data, err := decodeEventFrame(rest[1:])
		if err != nil {
			c.cfg.Logger.WithError(err).Warn("socket: malformed event frame")
			return nil
		}
		return c.handleEvent(ws, name, data)
	case '4': // error
		return newError(KindInvalidState, string(rest[1:]), nil)
	default:
		return nil
	}
}

// decodeEventFrame splits a `["name", payload]` array into the event
// name and the raw payload value (payload may be absent).
func decodeEventFrame(body []byte) (string, json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil {
		return "", nil, err
	}
	if len(arr) == 0 {
		return "", nil, fmt.Errorf("empty event frame")
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return "", nil, err
	}
	var data json.RawMessage
	if len(arr) > 1 {
		data = arr[1]
	}
	return name, data, nil
}

// handleEvent drives the authed-false/auth/authSuccess handshake
// (spec.md §4.9) and otherwise forwards application events to the
// decrypt dispatcher, tagging each with a strictly increasing sequence
// number so dispatch can restore wire order after concurrent decode.
func (c *Conn) handleEvent(ws *websocket.Conn, name string, data json.RawMessage) error {
	normalized := normalizeEventName(name)
	switch normalized {
	case "authed":
		return c.handleAuthed(ws, data)
	case "authSuccess":
		// Subscribe to the event stream before entering Authed so no
		// window exists where the server considers us authed but not
		// yet subscribed.
		if err := c.sendEvent(ws, "subscribe", nil); err != nil {
			return err
		}
		c.setState(StateAuthed)
		c.listeners.dispatch(AuthSuccess{})
		return nil
	case "authFailed":
		c.listeners.dispatch(AuthFailed{})
		return newError(KindUnauthenticated, "authentication failed", nil)
	default:
		seq := c.seq.Add(1) - 1
		c.dispatch.submit(raw{name: normalized, data: data, seq: seq})
		return nil
	}
}

// handleAuthed implements the two shapes the "authed" event takes: a
// boolean false (the server's prompt during the two-step handshake) or
// a string timestamp (a liveness echo once authed). The first
// authed(false) is answered with a unix-millis hello, the second with
// the real credentials (spec.md §4.9 handshake steps 2-5).
func (c *Conn) handleAuthed(ws *websocket.Conn, data json.RawMessage) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		if asBool {
			c.setState(StateAuthed)
			return nil
		}
		if !c.helloSent {
			c.helloSent = true
			return c.sendEvent(ws, "authed", strconv.FormatInt(time.Now().UnixMilli(), 10))
		}
		return c.sendAuth(ws)
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if _, err := strconv.ParseInt(asString, 10, 64); err != nil {
			c.cfg.Logger.WithField("raw", asString).Debug("socket: authed event with non-numeric payload")
		}
		c.setState(StateAuthed)
		return nil
	}
	return newError(KindInvalidState, "unrecognized authed payload", nil)
}

func (c *Conn) sendAuth(ws *websocket.Conn) error {
	c.setState(StateAuthSent)
	return c.sendEvent(ws, "auth", map[string]string{"apiKey": c.cfg.APIKey()})
}

// sendEvent frames an event as 42["name", payload]; a nil payload
// sends the single-element form 42["name"].
func (c *Conn) sendEvent(ws *websocket.Conn, name string, payload any) error {
	arr := []any{name}
	if payload != nil {
		arr = append(arr, payload)
	}
	body, err := json.Marshal(arr)
	if err != nil {
		return newError(KindInvalidState, "encoding event frame", err)
	}
	return c.send(ws, "42"+string(body))
}

func (c *Conn) send(ws *websocket.Conn, s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		return newError(KindNetwork, "write failed", err)
	}
	return nil
}
