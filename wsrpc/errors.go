// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"errors"
	"fmt"
)

// ErrConnectionNotOpen is returned by Dialer.EnsureConnected when
// auto-connect is disabled and no connection currently exists, and by a
// call on a Connection that is no longer open.
var ErrConnectionNotOpen = errors.New("wsrpc: connection not open")

// ErrDisposed is returned when a call is made against an already-disposed
// Connection or Dialer. It never crosses the wire.
var ErrDisposed = errors.New("wsrpc: connection disposed")

// TransportError wraps a socket read/write failure or abnormal closure.
// Recoverable by the dialer via reconnect; poisons the pending table of the
// connection it occurred on.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("wsrpc: transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError is raised by a malformed header, a length mismatch between
// the header and the assembled payload, or an undecodable payload. It
// triggers an immediate close with a protocol-error status.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wsrpc: protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("wsrpc: protocol error: %s", e.Reason)
}
func (e *ProtocolError) Unwrap() error { return e.Cause }

// ShutdownError is surfaced to every awaiter that was still pending when
// Connection.Shutdown's timeout elapsed before the drain completed
// normally.
type ShutdownError struct {
	Reason string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("wsrpc: connection was shut down: %s", e.Reason)
}

// ConnectError is returned from Dialer.Connect when the WebSocket handshake
// could not complete (DNS failure, connection refused, non-101 HTTP
// response, etc). The dialer's connection slot remains empty.
type ConnectError struct {
	Cause error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("wsrpc: connect failed: %v", e.Cause) }
func (e *ConnectError) Unwrap() error { return e.Cause }

// WasShutdownError is returned by Dialer.Connect calls made after a
// shutdown has already been requested, and by calls on a Connection that
// has begun shutting down.
type WasShutdownError struct {
	Reason string
}

func (e *WasShutdownError) Error() string {
	return fmt.Sprintf("wsrpc: dialer was shut down: %s", e.Reason)
}

// RemoteError is the typed error surfaced to a proxy caller when the
// remote side replies with a non-Ok status. It carries the wire status and
// the server-provided message. Never retried by the core.
type RemoteError struct {
	Status  Status
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wsrpc: remote error %s: %s", e.Status, e.Message)
}

// TransientError indicates a retryable local condition, such as the
// pending-request id space being momentarily saturated.
type TransientError struct {
	Reason string
}

func (e *TransientError) Error() string { return fmt.Sprintf("wsrpc: transient error: %s", e.Reason) }

// badRequestError is the sentinel kind dispatch recognizes as safe to
// surface verbatim to the caller (see Dispatch step 9 in SPEC_FULL.md §4.5).
type badRequestError struct {
	msg string
}

// BadRequest constructs an error that the dispatch pipeline maps to a
// BadRequest response carrying msg, instead of being swallowed into a
// generic InternalError.
func BadRequest(msg string) error { return &badRequestError{msg: msg} }

func (e *badRequestError) Error() string { return e.msg }

// IsBadRequest reports whether err (or something it wraps) was produced by
// BadRequest.
func IsBadRequest(err error) (string, bool) {
	var br *badRequestError
	if errors.As(err, &br) {
		return br.msg, true
	}
	return "", false
}
