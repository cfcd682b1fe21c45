// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

// tcpNoDelaySetter is implemented by *net.TCPConn; gorilla/websocket
// exposes the underlying net.Conn via Conn.UnderlyingConn(), which for a
// plain (non-TLS) dial is a *net.TCPConn.
type tcpNoDelaySetter interface {
	SetNoDelay(bool) error
}

// senderLoop is the connection's sole writer to the socket (spec.md
// §4.3). It drains the outbound queue in FIFO order until the queue is
// closed, at which point the connection has fully disposed and there is
// nothing further to send.
func (c *Connection) senderLoop() {
	for {
		msg, ok := c.queue.pop()
		if !ok {
			return
		}

		if msg.noDelay {
			if tc, ok := c.conn.UnderlyingConn().(tcpNoDelaySetter); ok {
				_ = tc.SetNoDelay(true)
			}
		}

		if err := writeFrame(c.conn, msg.header, msg.payload); err != nil {
			c.abort(err)
			return
		}

		if msg.isResponse {
			c.endRequest()
		}
	}
}
