// Package transport implements the WebSocket transport: one component
// playing both the inbound-server and outbound-client roles, routing
// frames through a registry.Registry and maintaining a per-connection
// correlation table of pending requests keyed by envelope id.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aortez/dirtsim/internal/dispatch"
	"github.com/aortez/dirtsim/internal/ids"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/registry"
	"github.com/aortez/dirtsim/internal/wire"
)

// DefaultTimeout is the correlation-table default.
const DefaultTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Protocol selects which framing a connection speaks; chosen per
// connection.
type Protocol int

const (
	Binary Protocol = iota
	JSON
)

// Conn wraps one WebSocket connection: the correlation table for
// requests this process originated on it, and the per-connection
// broadcast-subscription flag.
type Conn struct {
	ID     string
	ws     *websocket.Conn
	logger *logging.Logger

	// protocol is recorded by the read loop from each inbound frame
	// and read by Broadcast on the state machine thread.
	protocol atomic.Int32 // Protocol

	writeMu sync.Mutex

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall

	subscribed atomic.Bool
	renderFmt  atomic.Value // string

	closed atomic.Bool
}

type pendingCall struct {
	sink  chan wire.Result[interface{}]
	timer *time.Timer

	// decodeOkay, when set, field-decodes a binary okay body; when nil
	// the body is delivered as raw JSON.
	decodeOkay func(*wire.Reader) (interface{}, error)
}

// Server accepts inbound connections, routes frames through a Registry,
// and fans out broadcasts to subscribed connections.
type Server struct {
	logger *logging.Logger
	reg    *registry.Registry
	queue  *dispatch.Queue
	auth   *Auth

	mu    sync.Mutex
	conns map[string]*Conn

	connSeq atomic.Uint64
}

func NewServer(logger *logging.Logger, reg *registry.Registry, queue *dispatch.Queue, auth *Auth) *Server {
	return &Server{logger: logger, reg: reg, queue: queue, auth: auth, conns: make(map[string]*Conn)}
}

// ServeHTTP upgrades an inbound connection and starts its read loop.
// When auth is enabled and the remote address is non-loopback, the
// bearer token must match on the handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if err := s.auth.CheckHandshake(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	id := fmt.Sprintf("conn-%d-%s", s.connSeq.Add(1), ids.Generate()[:8])
	c := &Conn{ID: id, ws: ws, logger: s.logger.Component(id), pending: make(map[uint64]*pendingCall)}
	c.renderFmt.Store("")
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	go s.readLoop(c)
}

// Conn looks up a currently-connected connection by id, for handlers
// that need to inspect subscription state (EventSubscribe, RenderFormatSet).
func (s *Server) Conn(id string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	return c, ok
}

// Connections returns every currently-registered connection id, backing
// PeersGet.
func (s *Server) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

func (s *Server) readLoop(c *Conn) {
	defer s.dropConn(c)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Debug("read loop closed", logging.Err(err))
			return
		}
		var env wire.Envelope
		var proto Protocol
		switch msgType {
		case websocket.BinaryMessage:
			proto = Binary
			env, err = wire.DecodeBinary(data)
		case websocket.TextMessage:
			proto = JSON
			name, fields, jerr := wire.DecodeJSONRequest(data)
			if jerr != nil {
				err = jerr
				break
			}
			env = wire.Envelope{MessageType: name, ID: 0, Payload: fields}
		default:
			continue
		}
		if err != nil {
			c.logger.Warn("envelope decode failed", logging.Err(err))
			continue
		}
		c.protocol.Store(int32(proto))
		s.dispatchInbound(c, env, proto)
	}
}

func (s *Server) dispatchInbound(c *Conn, env wire.Envelope, proto Protocol) {
	// A JSON request has no numeric id on the wire; it is assigned a
	// fresh outbound-side correlation number that only this response
	// needs to echo back.
	reqID := env.ID
	if proto == JSON {
		reqID = c.nextID.Add(1)
	}

	desc, ok := s.reg.Lookup(env.MessageType)
	if !ok {
		s.sendErr(c, reqID, proto, wire.Schema("unknown command %q", env.MessageType))
		return
	}

	var body interface{}
	var err error
	if proto == Binary {
		body, err = desc.DecodeBinary(wire.NewReader(env.Payload))
	} else {
		body, err = desc.DecodeJSON(env.Payload)
	}
	if err != nil {
		s.sendErr(c, reqID, proto, wire.Schema("decode %q: %v", env.MessageType, err))
		return
	}

	sink := dispatch.NewSink(func(r dispatch.Response) {
		if r.Err != nil {
			s.sendErr(c, reqID, proto, r.Err)
			return
		}
		s.sendOk(c, reqID, proto, desc, r.Value)
	})
	s.queue.Push(dispatch.Event{ConnID: c.ID, CommandName: env.MessageType, Body: body, Sink: sink})
}

func (s *Server) sendOk(c *Conn, id uint64, proto Protocol, desc *registry.Descriptor, value interface{}) {
	if proto == Binary {
		// A binary response payload is a tagged sum: one discriminant
		// byte, then the okay body — field-encoded when the command
		// registered a binary okay codec, JSON otherwise.
		w := wire.NewWriter()
		w.WriteUint8(wire.ResponseOk)
		if desc != nil && desc.EncodeOkayBinary != nil {
			if err := desc.EncodeOkayBinary(value, w); err != nil {
				c.logger.Error("encode ok failed", logging.Err(err))
				return
			}
		} else if err := wire.EncodeBinaryJSON(w, value); err != nil {
			c.logger.Error("encode ok failed", logging.Err(err))
			return
		}
		env, err := wire.EncodeBinary(wire.Envelope{MessageType: wire.ResponseName, ID: id, Payload: w.Bytes()})
		if err != nil {
			c.logger.Error("encode envelope failed", logging.Err(err))
			return
		}
		c.writeRaw(websocket.BinaryMessage, env)
		return
	}
	buf, err := wire.EncodeJSONOk(id, value)
	if err != nil {
		c.logger.Error("encode ok failed", logging.Err(err))
		return
	}
	c.writeRaw(websocket.TextMessage, buf)
}

func (s *Server) sendErr(c *Conn, id uint64, proto Protocol, apiErr *wire.ApiError) {
	if proto == Binary {
		w := wire.NewWriter()
		w.WriteUint8(wire.ResponseErr)
		wire.EncodeBinaryErrorBody(w, apiErr)
		env, err := wire.EncodeBinary(wire.Envelope{MessageType: wire.ResponseName, ID: id, Payload: w.Bytes()})
		if err != nil {
			return
		}
		c.writeRaw(websocket.BinaryMessage, env)
		return
	}
	buf, err := wire.EncodeJSONErr(id, apiErr)
	if err != nil {
		c.logger.Error("encode err failed", logging.Err(err))
		return
	}
	c.writeRaw(websocket.TextMessage, buf)
}

func (c *Conn) writeRaw(msgType int, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return
	}
	// A bounded write keeps a stalled peer from blocking the caller
	// indefinitely; closing on failure ends the connection's read loop,
	// which drops it from the server.
	const writeTimeout = 5 * time.Second
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		c.logger.Debug("write failed, closing connection", logging.Err(err))
		_ = c.ws.Close()
	}
}

// Subscribed reports whether this connection currently wants broadcasts.
func (c *Conn) Subscribed() bool { return c.subscribed.Load() }

// SetSubscribed implements EventSubscribe{enabled}.
func (c *Conn) SetSubscribed(enabled bool) { c.subscribed.Store(enabled) }

// SetRenderFormat implements RenderFormatSet{format}, which additionally
// subscribes the connection.
func (c *Conn) SetRenderFormat(format string) {
	c.renderFmt.Store(format)
	c.subscribed.Store(true)
}

func (c *Conn) RenderFormat() string {
	v, _ := c.renderFmt.Load().(string)
	return v
}

func (s *Server) dropConn(c *Conn) {
	c.closed.Store(true)
	c.ws.Close()
	s.mu.Lock()
	delete(s.conns, c.ID)
	s.mu.Unlock()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.sink <- wire.Fail[interface{}](wire.Transport("closed"))
	}
}

// Broadcast sends a message_type/id=0 frame to every subscribed
// connection, in whichever protocol each connection negotiated. A
// write that fails or stalls past writeRaw's timeout closes that
// connection, dropping the slow subscriber rather than applying
// unbounded backpressure to the caller.
func (s *Server) Broadcast(name string, body interface{}) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		if c.Subscribed() {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		if Protocol(c.protocol.Load()) == Binary {
			payload, err := wire.EncodeJSONBroadcast(name, body)
			if err != nil {
				continue
			}
			env, err := wire.EncodeBinary(wire.Envelope{MessageType: name, ID: wire.BroadcastID, Payload: payload})
			if err != nil {
				continue
			}
			c.writeRaw(websocket.BinaryMessage, env)
			continue
		}
		buf, err := wire.EncodeJSONBroadcast(name, body)
		if err != nil {
			continue
		}
		c.writeRaw(websocket.TextMessage, buf)
	}
}

// Client is the outbound half used by the UI and the CLI to drive a
// Server (and by the CLI to drive a UI).
type Client struct {
	ws       *websocket.Conn
	logger   *logging.Logger
	protocol Protocol

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall

	// onBroadcast, if set, receives every id=0 frame this connection
	// receives. UI/CLI callers
	// that care about broadcasts (EvolutionProgress, TrainingResult...)
	// register it via OnBroadcast; it is never invoked concurrently
	// with itself. Stored atomically because registration can race the
	// read loop Dial already started.
	onBroadcast atomic.Value // func(name string, fields json.RawMessage)

	closed atomic.Bool
}

// Dial connects to a DirtSim WebSocket endpoint and starts its read
// loop, which completes correlation-table entries as responses arrive.
func Dial(ctx context.Context, url string, protocol Protocol, logger *logging.Logger) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	c := &Client{ws: ws, logger: logger, protocol: protocol, pending: make(map[uint64]*pendingCall)}
	go c.readLoop()
	return c, nil
}

// OnBroadcast registers the callback invoked for every unsolicited
// broadcast frame this client receives.
func (c *Client) OnBroadcast(fn func(name string, fields json.RawMessage)) {
	c.onBroadcast.Store(fn)
}

func (c *Client) broadcastFn() func(name string, fields json.RawMessage) {
	fn, _ := c.onBroadcast.Load().(func(name string, fields json.RawMessage))
	return fn
}

func (c *Client) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeAll(wire.Transport("closed"))
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			env, err := wire.DecodeBinary(data)
			if err != nil {
				continue
			}
			if env.ID == wire.BroadcastID {
				if fn := c.broadcastFn(); fn != nil {
					if name, fields, err := wire.DecodeJSONBroadcast(env.Payload); err == nil {
						fn(name, fields)
					}
				}
				continue
			}
			c.completeBinary(env.ID, env.Payload)
		case websocket.TextMessage:
			if name, fields, err := wire.DecodeJSONBroadcast(data); err == nil {
				if fn := c.broadcastFn(); fn != nil {
					fn(name, fields)
				}
				continue
			}
			id, value, apiErr, err := wire.DecodeJSONResponse(data)
			if err != nil {
				continue
			}
			c.complete(id, value, apiErr)
		}
	}
}

// pop removes and returns the pending call for id; a nil return means
// the entry already timed out or was cancelled, and the late response
// is dropped with a warning.
func (c *Client) pop(id uint64) *pendingCall {
	c.pendingMu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("late response dropped", logging.Uint64("id", id))
		return nil
	}
	p.timer.Stop()
	return p
}

func (c *Client) complete(id uint64, value interface{}, apiErr *wire.ApiError) {
	p := c.pop(id)
	if p == nil {
		return
	}
	if apiErr != nil {
		p.sink <- wire.Fail[interface{}](apiErr)
		return
	}
	p.sink <- wire.Ok[interface{}](value)
}

// completeBinary parses a binary response payload: one discriminant
// byte, then either the okay body (field-decoded when the caller
// supplied a codec, raw JSON otherwise) or the error body.
func (c *Client) completeBinary(id uint64, payload []byte) {
	r := wire.NewReader(payload)
	status, err := r.ReadUint8()
	if err != nil {
		return
	}
	p := c.pop(id)
	if p == nil {
		return
	}
	if status == wire.ResponseErr {
		apiErr, err := wire.DecodeBinaryErrorBody(r)
		if err != nil {
			apiErr = wire.Transport("malformed error body: %v", err)
		}
		p.sink <- wire.Fail[interface{}](apiErr)
		return
	}
	if p.decodeOkay != nil {
		value, err := p.decodeOkay(r)
		if err != nil {
			p.sink <- wire.Fail[interface{}](wire.Schema("decode response body: %v", err))
			return
		}
		p.sink <- wire.Ok[interface{}](value)
		return
	}
	p.sink <- wire.Ok[interface{}](json.RawMessage(r.Rest()))
}

func (c *Client) closeAll(err *wire.ApiError) {
	c.closed.Store(true)
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.sink <- wire.Fail[interface{}](err)
	}
}

// SendCommandAndGetResponse allocates the next correlation id, installs
// a pending entry with the given timeout (DefaultTimeout if zero),
// writes the envelope, and blocks for the response or the timeout.
// On the Binary protocol a body implementing wire.BodyMarshaler is
// field-encoded; any other body is JSON-encoded into the payload.
func (c *Client) SendCommandAndGetResponse(ctx context.Context, name string, body interface{}, timeout time.Duration) wire.Result[interface{}] {
	return c.send(ctx, name, body, nil, timeout)
}

// SendBinaryCommandAndGetResponse is the fully binary variant: the
// request body is field-encoded and the okay body is field-decoded with
// decodeOkay rather than delivered as raw JSON.
func (c *Client) SendBinaryCommandAndGetResponse(ctx context.Context, name string, body wire.BodyMarshaler, decodeOkay func(*wire.Reader) (interface{}, error), timeout time.Duration) wire.Result[interface{}] {
	return c.send(ctx, name, body, decodeOkay, timeout)
}

func (c *Client) send(ctx context.Context, name string, body interface{}, decodeOkay func(*wire.Reader) (interface{}, error), timeout time.Duration) wire.Result[interface{}] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := c.nextID.Add(1)
	call := &pendingCall{sink: make(chan wire.Result[interface{}], 1), decodeOkay: decodeOkay}

	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return wire.Fail[interface{}](wire.Transport("closed"))
	}
	c.pending[id] = call
	c.pendingMu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		c.pendingMu.Lock()
		if _, still := c.pending[id]; still {
			delete(c.pending, id)
		} else {
			c.pendingMu.Unlock()
			return
		}
		c.pendingMu.Unlock()
		call.sink <- wire.Fail[interface{}](wire.Transport("timeout"))
	})

	var encodeErr error
	if c.protocol == Binary {
		var payload []byte
		if bm, ok := body.(wire.BodyMarshaler); ok {
			w := wire.NewWriter()
			if err := bm.MarshalBody(w); err != nil {
				encodeErr = err
			}
			payload = w.Bytes()
		} else if buf, err := json.Marshal(body); err != nil {
			encodeErr = err
		} else {
			payload = buf
		}
		if encodeErr == nil {
			var env []byte
			env, encodeErr = wire.EncodeBinary(wire.Envelope{MessageType: name, ID: id, Payload: payload})
			if encodeErr == nil {
				c.writeMu.Lock()
				encodeErr = c.ws.WriteMessage(websocket.BinaryMessage, env)
				c.writeMu.Unlock()
			}
		}
	} else {
		buf, err := wire.EncodeJSONRequest(name, body)
		if err != nil {
			encodeErr = err
		} else {
			c.writeMu.Lock()
			encodeErr = c.ws.WriteMessage(websocket.TextMessage, buf)
			c.writeMu.Unlock()
		}
	}
	if encodeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		call.timer.Stop()
		return wire.Fail[interface{}](wire.Transport("write: %v", encodeErr))
	}

	select {
	case r := <-call.sink:
		return r
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		call.timer.Stop()
		return wire.Fail[interface{}](wire.Transport("context: %v", ctx.Err()))
	}
}

// Close closes the underlying connection, completing any still-pending
// calls with a closed-transport error.
func (c *Client) Close() error {
	c.closeAll(wire.Transport("closed"))
	return c.ws.Close()
}
