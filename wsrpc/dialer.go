// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

// TokenProducer supplies a bearer token for a Dialer's auto-authentication
// step, invoked once per successful connect (spec.md §9 Open Question
// resolution below). It returns an empty string to skip SignIn.
type TokenProducer func(ctx context.Context) (string, error)

// DialerConfig configures a Dialer. URL is required; every other field
// has a documented default.
type DialerConfig struct {
	URL             string
	Header          http.Header
	Registry        *Registry
	ScopeFactory    ScopeFactory
	TokenCodec      TokenCodec
	Logger          *slog.Logger
	MaxPayloadBytes int64

	// OAuthTokenSource, if set, supplies a bearer token added as the
	// Authorization header on every dial attempt, ahead of the wsrpc-level
	// SignIn/TokenProducer exchange. This authenticates the HTTP upgrade
	// itself (e.g. an API gateway in front of the listener), distinct from
	// TokenProducer's post-handshake SignIn.
	OAuthTokenSource oauth2.TokenSource

	// DisableAutoConnect, when false (the default), makes EnsureConnected
	// transparently establish a connection on first use. When true,
	// EnsureConnected instead fails with ErrConnectionNotOpen until Connect
	// is called explicitly. A bare bool defaults to false, so auto-connect
	// is on unless a caller opts out.
	DisableAutoConnect bool

	// TokenProducer, if set, is invoked once after every successful
	// connect; if it returns a non-empty token, SignIn(token) runs before
	// Connect returns (spec.md §9, resolving the "never invoked" dead
	// branch: invoke unconditionally, act only on a non-default result).
	TokenProducer TokenProducer

	// BaseReconnectDelay and MaxReconnectDelay bound Reconnect's backoff.
	// Left zero, they default to 250ms and 30s.
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration
}

// Dialer is the connection manager described in spec.md §4.8: it holds at
// most one live Connection, serializes concurrent connect attempts behind
// a sync.Mutex (waiters are not guaranteed to acquire it in arrival
// order), and exposes cooperative shutdown.
type Dialer struct {
	cfg DialerConfig

	connectMu sync.Mutex

	stateMu      sync.Mutex
	conn         *Connection
	cancelHandle *websocket.Conn // socket of a connect whose handshake has returned but whose Connection is not yet installed; Shutdown closes it
	shutdownReq  *shutdownRequest
	onConnected  []func(*Connection)
	onDisconn    []func(CloseReason)
	onAuthd      []func(*Principal)
}

type shutdownRequest struct {
	timeout time.Duration
	reason  string
	done    chan struct{}
}

// NewDialer builds a Dialer. Auto-connect is on by default; set
// DisableAutoConnect to require an explicit Connect call.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = 250 * time.Millisecond
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &Dialer{cfg: cfg}
}

// OnConnected registers a callback fired once per newly opened connection.
func (d *Dialer) OnConnected(fn func(*Connection)) {
	d.stateMu.Lock()
	d.onConnected = append(d.onConnected, fn)
	d.stateMu.Unlock()
}

// OnDisconnected registers a callback forwarded to every connection this
// dialer opens, in addition to that connection's own OnDisconnected.
func (d *Dialer) OnDisconnected(fn func(CloseReason)) {
	d.stateMu.Lock()
	d.onDisconn = append(d.onDisconn, fn)
	d.stateMu.Unlock()
}

// OnAuthenticated registers a callback forwarded to every connection this
// dialer opens.
func (d *Dialer) OnAuthenticated(fn func(*Principal)) {
	d.stateMu.Lock()
	d.onAuthd = append(d.onAuthd, fn)
	d.stateMu.Unlock()
}

// Current returns the presently-installed connection, or nil.
func (d *Dialer) Current() *Connection {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.conn
}

// Connect implements spec.md §4.8 connect(): fast path, connect-mutex
// serialization, a handshake, and installation under the state lock, with
// an auto-authentication step once the connection is live.
func (d *Dialer) Connect(ctx context.Context) (*Connection, error) {
	if c := d.Current(); c != nil {
		return c, nil
	}

	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	if c := d.Current(); c != nil {
		return c, nil
	}

	d.stateMu.Lock()
	req := d.shutdownReq
	d.stateMu.Unlock()
	if req != nil {
		return nil, &WasShutdownError{Reason: req.reason}
	}

	header := d.cfg.Header
	if d.cfg.OAuthTokenSource != nil {
		tok, err := d.cfg.OAuthTokenSource.Token()
		if err != nil {
			return nil, &ConnectError{Cause: err}
		}
		header = header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	dialer := &websocket.Dialer{}
	wsConn, _, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		return nil, &ConnectError{Cause: err}
	}

	d.stateMu.Lock()
	d.cancelHandle = wsConn
	d.stateMu.Unlock()

	d.stateMu.Lock()
	aborted := d.cancelHandle == nil
	req = d.shutdownReq
	d.stateMu.Unlock()
	if aborted {
		_ = wsConn.Close()
		return nil, ErrDisposed
	}

	conn := newConnection(wsConn, ConnectionConfig{
		Registry:        d.cfg.Registry,
		ScopeFactory:    d.cfg.ScopeFactory,
		TokenCodec:      d.cfg.TokenCodec,
		Logger:          d.cfg.Logger,
		MaxPayloadBytes: d.cfg.MaxPayloadBytes,
		Role:            RoleDialer,
	})

	d.stateMu.Lock()
	d.cancelHandle = nil
	if req = d.shutdownReq; req != nil {
		d.stateMu.Unlock()
		conn.Shutdown(req.timeout, req.reason)
		return nil, &WasShutdownError{Reason: req.reason}
	}
	d.conn = conn
	subs := append([]func(CloseReason){}, d.onDisconn...)
	connectedSubs := append([]func(*Connection){}, d.onConnected...)
	authdSubs := append([]func(*Principal){}, d.onAuthd...)
	d.stateMu.Unlock()

	conn.OnDisconnected(func(reason CloseReason) {
		d.stateMu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.stateMu.Unlock()
		for _, fn := range subs {
			fn(reason)
		}
	})
	for _, fn := range authdSubs {
		conn.OnAuthenticated(fn)
	}

	conn.Start(ctx)

	if d.cfg.TokenProducer != nil {
		if token, err := d.cfg.TokenProducer(ctx); err == nil && token != "" {
			_ = conn.SignIn(ctx, token)
		}
	}

	for _, fn := range connectedSubs {
		fn(conn)
	}
	return conn, nil
}

// EnsureConnected behaves like Connect unless DisableAutoConnect is set;
// then it returns the current connection, or ErrConnectionNotOpen if none
// exists.
func (d *Dialer) EnsureConnected(ctx context.Context) (*Connection, error) {
	if d.cfg.DisableAutoConnect {
		if c := d.Current(); c != nil {
			return c, nil
		}
		return nil, ErrConnectionNotOpen
	}
	return d.Connect(ctx)
}

// Shutdown marks the dialer as shutting down, closes the socket of a
// connect that is between handshake and installation, and delegates to the
// current connection's Shutdown if one exists. A WebSocket handshake that
// is still in progress is not interrupted; the Connect that started it
// shuts the new connection down and returns a WasShutdownError. Repeated
// calls await the first call's completion (spec.md §4.8).
func (d *Dialer) Shutdown(timeout time.Duration, reason string) {
	d.stateMu.Lock()
	if d.shutdownReq != nil {
		req := d.shutdownReq
		d.stateMu.Unlock()
		<-req.done
		return
	}
	req := &shutdownRequest{timeout: timeout, reason: reason, done: make(chan struct{})}
	d.shutdownReq = req
	cancel := d.cancelHandle
	d.cancelHandle = nil
	conn := d.conn
	d.stateMu.Unlock()

	if cancel != nil {
		_ = cancel.Close()
	}
	if conn != nil {
		conn.Shutdown(timeout, reason)
		d.stateMu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.stateMu.Unlock()
	}
	close(req.done)
}

// Reconnect calls Connect in a loop with exponential backoff (grounded on
// the teacher pack's heartbeat reconnect pattern) until it succeeds or ctx
// is canceled.
func (d *Dialer) Reconnect(ctx context.Context) (*Connection, error) {
	attempt := 0
	for {
		conn, err := d.Connect(ctx)
		if err == nil {
			return conn, nil
		}
		if _, shutdown := err.(*WasShutdownError); shutdown {
			return nil, err
		}

		delay := d.backoff(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (d *Dialer) backoff(attempt int) time.Duration {
	if attempt == 0 {
		return d.cfg.BaseReconnectDelay
	}
	delay := d.cfg.BaseReconnectDelay << attempt
	if delay > d.cfg.MaxReconnectDelay || delay <= 0 {
		delay = d.cfg.MaxReconnectDelay
	}
	return delay
}
