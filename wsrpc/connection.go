// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Role distinguishes the peer that accepted the socket from the peer that
// dialed it. Wire protocol and dispatch are identical in both directions;
// the role only affects the default permission policy (wsrpc/auth.go).
type Role int

const (
	RoleListener Role = iota
	RoleDialer
)

func (r Role) String() string {
	if r == RoleDialer {
		return "dialer"
	}
	return "listener"
}

type connState int32

const (
	stateOpen connState = iota
	stateDraining
	stateClosed
)

// CloseReason describes why a connection reached the Closed state,
// published exactly once to on_disconnected subscribers (spec.md §4.7,
// §8 "Late subscribe").
type CloseReason struct {
	Graceful bool
	Reason   string
	Err      error
}

// ScopeFactory is the narrow dependency-injection contract the dispatch
// pipeline uses to instantiate a controller per request (spec.md §1,
// external collaborator; §9 "Controller activation").
type ScopeFactory interface {
	NewScope(ctx context.Context, b *actionBinding) (Scope, error)
}

// Scope owns one controller instance for the lifetime of a single
// dispatched request.
type Scope interface {
	Controller() reflect.Value
	Close()
}

// ConnectionConfig collects the collaborators and limits a Connection is
// built from. Fields left zero take the documented default.
type ConnectionConfig struct {
	Registry        *Registry
	ScopeFactory    ScopeFactory // defaults to reflectScopeFactory{}
	TokenCodec      TokenCodec   // required for SignIn to succeed
	Logger          *slog.Logger // defaults to slog.Default()
	MaxPayloadBytes int64        // defaults to DefaultMaxPayloadBytes
	Role            Role
}

// Connection is one protocol engine instance bound to a single WebSocket
// socket (spec.md §1, "the core"). It owns the socket, the sender and
// receiver goroutines, the pending-request table, and the outbound queue.
type Connection struct {
	conn            *websocket.Conn
	role            Role
	logger          *slog.Logger
	registry        *Registry
	scopeFactory    ScopeFactory
	tokenCodec      TokenCodec
	maxPayloadBytes int64

	queue   *outboundQueue
	pending *pendingTable

	inFlight atomic.Int32

	stateMu sync.Mutex
	state   connState
	reason  string

	principal atomic.Pointer[Principal]

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason atomic.Pointer[CloseReason]

	subsMu            sync.Mutex
	disconnectedSubs  []func(CloseReason)
	authenticatedSubs []func(*Principal)

	shutdownOnce sync.Once
	shutdownDone chan struct{}

	wg sync.WaitGroup
}

// newConnection builds a Connection around an already-upgraded WebSocket
// and fills in defaults for any zero-valued ConnectionConfig field.
func newConnection(conn *websocket.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conn", randText(), "role", cfg.Role.String())
	scopeFactory := cfg.ScopeFactory
	if scopeFactory == nil {
		scopeFactory = reflectScopeFactory{}
	}
	maxPayload := effectiveMaxPayloadBytes(cfg.MaxPayloadBytes)
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	c := &Connection{
		conn:            conn,
		role:            cfg.Role,
		logger:          logger,
		registry:        registry,
		scopeFactory:    scopeFactory,
		tokenCodec:      cfg.TokenCodec,
		maxPayloadBytes: maxPayload,
		queue:           newOutboundQueue(),
		pending:         newPendingTable(),
		closed:          make(chan struct{}),
		shutdownDone:    make(chan struct{}),
	}
	c.principal.Store(anonymousPrincipal)
	return c
}

// Start launches the sender and receiver goroutines. It must be called at
// most once.
func (c *Connection) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.senderLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.receiverLoop(ctx)
	}()
}

// Wait blocks until both the sender and receiver goroutines have exited.
func (c *Connection) Wait() {
	c.wg.Wait()
}

// Done returns a channel closed once the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// IsOpen reports whether new calls should currently be accepted.
func (c *Connection) IsOpen() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == stateOpen
}

// Principal returns the identity currently bound to the connection
// (listener side only; always anonymous on the dialer side).
func (c *Connection) Principal() *Principal {
	return c.principal.Load()
}

func (c *Connection) setPrincipal(p *Principal) {
	c.principal.Store(p)
	if p != anonymousPrincipal {
		c.subsMu.Lock()
		subs := append([]func(*Principal){}, c.authenticatedSubs...)
		c.subsMu.Unlock()
		for _, fn := range subs {
			fn(p)
		}
	}
}

// OnAuthenticated registers a callback invoked after every successful
// SignIn on this connection.
func (c *Connection) OnAuthenticated(fn func(*Principal)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.authenticatedSubs = append(c.authenticatedSubs, fn)
}

// OnDisconnected registers a callback for the connection's close event. If
// the connection is already closed, fn is invoked synchronously and
// exactly once before this method returns (spec.md §8 "Late subscribe").
func (c *Connection) OnDisconnected(fn func(CloseReason)) {
	c.subsMu.Lock()
	if reason := c.closeReason.Load(); reason != nil {
		c.subsMu.Unlock()
		fn(*reason)
		return
	}
	c.disconnectedSubs = append(c.disconnectedSubs, fn)
	c.subsMu.Unlock()
}

// beginRequest accounts for one new unit of request/response work, either
// an outbound call awaiting a reply or an inbound request awaiting
// dispatch (spec.md §4.7). It fails once the connection has fully drained
// and begun closing.
func (c *Connection) beginRequest() error {
	for {
		cur := c.inFlight.Load()
		if cur == -1 {
			return c.refusalError()
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// endRequest completes one unit of work registered by beginRequest. If the
// counter reaches -1, no work remains and, if the connection is Draining,
// the close handshake begins now.
func (c *Connection) endRequest() {
	if c.inFlight.Add(-1) == -1 {
		c.onDrained()
	}
}

func (c *Connection) refusalError() error {
	c.stateMu.Lock()
	reason := c.reason
	c.stateMu.Unlock()
	return &WasShutdownError{Reason: reason}
}

// onDrained runs once the in-flight counter has settled at -1: the
// connection had nothing left outstanding. Closing only actually begins
// once the state has also moved to Draining or Closed via Shutdown or
// atomicDispose; an idle Open connection can sit at C=0 indefinitely.
func (c *Connection) onDrained() {
	c.stateMu.Lock()
	draining := c.state == stateDraining
	reason := c.reason
	c.stateMu.Unlock()
	if draining {
		c.beginCloseHandshake(reason)
	}
}

// Shutdown cooperatively drains the connection: no new calls are accepted,
// and in-flight work has up to timeout to finish before the connection is
// forced closed with a ShutdownError (spec.md §4.7, §7). Repeated
// calls await the first call's completion.
func (c *Connection) Shutdown(timeout time.Duration, reason string) {
	c.shutdownOnce.Do(func() {
		c.stateMu.Lock()
		if c.state == stateOpen {
			c.state = stateDraining
			c.reason = reason
		}
		c.stateMu.Unlock()

		if c.inFlight.Add(-1) == -1 {
			c.beginCloseHandshake(reason)
		}

		go func() {
			select {
			case <-c.closed:
			case <-time.After(timeout):
				c.atomicDispose(CloseReason{Graceful: false, Reason: reason,
					Err: &ShutdownError{Reason: reason}})
			}
			close(c.shutdownDone)
		}()
	})
	<-c.shutdownDone
}

// beginCloseHandshake sends a WebSocket close frame carrying reason (the
// write is bounded by 2s) and then disposes the connection. It does not
// wait for the peer's reciprocal close frame.
func (c *Connection) beginCloseHandshake(reason string) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.atomicDispose(CloseReason{Graceful: true, Reason: reason})
	}()
}

// abort is called by the receiver and sender loops on unrecoverable I/O or
// protocol errors; it disposes the connection immediately with a
// non-graceful reason.
func (c *Connection) abort(err error) {
	c.atomicDispose(CloseReason{Graceful: false, Reason: err.Error(), Err: err})
}

// enqueueRequest registers a unit of in-flight work and pushes an outbound
// request message. It is used by the proxy invoker for an outbound call.
// The receiver loop is not a caller: inbound requests register through
// beginRequest directly since they have no outbound message to enqueue
// until dispatch produces a response. Once Shutdown has moved the
// connection to Draining, new requests are refused.
func (c *Connection) enqueueRequest(h Header, payload []byte, noDelay bool) error {
	c.stateMu.Lock()
	draining := c.state == stateDraining
	c.stateMu.Unlock()
	if draining {
		return c.refusalError()
	}
	if err := c.beginRequest(); err != nil {
		return err
	}
	if !c.queue.push(outboundMessage{header: h, payload: payload, isRequest: true, noDelay: noDelay}) {
		c.endRequest()
		return ErrConnectionNotOpen
	}
	return nil
}

// enqueueNotification pushes a request-shaped message carrying no uid; it
// is never accounted against the in-flight counter because no response
// will ever arrive to balance it (spec.md §8 "Notification").
func (c *Connection) enqueueNotification(h Header, payload []byte, noDelay bool) error {
	if !c.IsOpen() {
		return ErrConnectionNotOpen
	}
	if !c.queue.push(outboundMessage{header: h, payload: payload, isRequest: true, noDelay: noDelay}) {
		return ErrConnectionNotOpen
	}
	return nil
}

// enqueueResponse pushes a response message produced by the dispatch
// pipeline. The matching endRequest call happens in the sender loop once
// the response has actually been written (spec.md §4.3 step 4).
func (c *Connection) enqueueResponse(h Header, payload []byte) {
	c.queue.push(outboundMessage{header: h, payload: payload, isResponse: true})
}

// atomicDispose runs exactly once per connection regardless of which path
// triggers it (graceful drain, peer close frame, transport error, forced
// shutdown timeout — spec.md §9 Open Question resolution): it closes the
// outbound queue, poisons the pending table, marks the state Closed,
// publishes CloseReason, and fires on_disconnected subscribers.
func (c *Connection) atomicDispose(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.stateMu.Lock()
		c.state = stateClosed
		c.stateMu.Unlock()

		c.queue.close()
		poison := reason.Err
		if poison == nil {
			poison = &WasShutdownError{Reason: reason.Reason}
		}
		c.pending.failAll(poison)

		c.closeReason.Store(&reason)
		close(c.closed)
		_ = c.conn.Close()

		c.subsMu.Lock()
		subs := append([]func(CloseReason){}, c.disconnectedSubs...)
		c.subsMu.Unlock()
		for _, fn := range subs {
			fn(reason)
		}
	})
}
