// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package wsrpc implements a symmetric, bidirectional RPC protocol over a
// single persistent WebSocket connection. Either peer may call actions
// exposed by the other through a controller registry; requests and
// fire-and-forget notifications share one connection, correlated by a
// per-message id.
package wsrpc
