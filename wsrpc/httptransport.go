// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// ListenerConfig configures a Listener, the http.Handler that accepts
// incoming connections (spec.md §6 "Transport": WebSocket over TCP,
// optionally TLS, via an HTTP upgrade).
type ListenerConfig struct {
	Registry        *Registry
	ScopeFactory    ScopeFactory
	TokenCodec      TokenCodec
	Logger          *slog.Logger
	MaxPayloadBytes int64

	// CheckOrigin overrides the upgrader's origin check. Left nil, every
	// origin is accepted, matching the teacher's transport default.
	CheckOrigin func(r *http.Request) bool

	// OnConnection is called once per accepted connection before Start,
	// letting the caller register OnDisconnected/OnAuthenticated hooks.
	OnConnection func(*Connection)
}

// Listener upgrades incoming HTTP requests to WebSocket connections and
// runs wsrpc's protocol engine over each one.
type Listener struct {
	cfg      ListenerConfig
	upgrader websocket.Upgrader
}

// NewListener builds a Listener from cfg.
func NewListener(cfg ListenerConfig) *Listener {
	l := &Listener{cfg: cfg}
	l.upgrader = websocket.Upgrader{
		CheckOrigin: cfg.CheckOrigin,
	}
	if l.upgrader.CheckOrigin == nil {
		l.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return l
}

// ServeHTTP implements http.Handler, upgrading the request and driving the
// connection's sender/receiver loops for the lifetime of the request.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn := newConnection(wsConn, ConnectionConfig{
		Registry:        l.cfg.Registry,
		ScopeFactory:    l.cfg.ScopeFactory,
		TokenCodec:      l.cfg.TokenCodec,
		Logger:          l.cfg.Logger,
		MaxPayloadBytes: l.cfg.MaxPayloadBytes,
		Role:            RoleListener,
	})
	if l.cfg.OnConnection != nil {
		l.cfg.OnConnection(conn)
	}

	conn.Start(r.Context())
	conn.Wait()
}

// Accept wraps an already-upgraded *websocket.Conn, for servers that
// perform the HTTP upgrade themselves (e.g. behind a custom mux) and only
// want wsrpc to own the protocol engine from that point on.
func Accept(ctx context.Context, wsConn *websocket.Conn, cfg ListenerConfig) *Connection {
	conn := newConnection(wsConn, ConnectionConfig{
		Registry:        cfg.Registry,
		ScopeFactory:    cfg.ScopeFactory,
		TokenCodec:      cfg.TokenCodec,
		Logger:          cfg.Logger,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		Role:            RoleListener,
	})
	if cfg.OnConnection != nil {
		cfg.OnConnection(conn)
	}
	conn.Start(ctx)
	return conn
}
