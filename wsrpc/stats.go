// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

// Stats is a point-in-time snapshot of a connection's bookkeeping state,
// useful for health checks and debug endpoints.
type Stats struct {
	Role            Role
	Open            bool
	InFlight        int32
	PendingAwaiters int
	Authenticated   bool
}

// Stats reports a snapshot of the connection's current bookkeeping state.
func (c *Connection) Stats() Stats {
	return Stats{
		Role:            c.role,
		Open:            c.IsOpen(),
		InFlight:        c.inFlight.Load(),
		PendingAwaiters: c.pending.len(),
		Authenticated:   c.Principal().Authenticated,
	}
}

// DialerStats reports whether the dialer currently holds a live
// connection and, if so, that connection's Stats.
type DialerStats struct {
	Connected bool
	Conn      Stats
}

// Stats reports a snapshot of the dialer's current connection state.
func (d *Dialer) Stats() DialerStats {
	conn := d.Current()
	if conn == nil {
		return DialerStats{}
	}
	return DialerStats{Connected: true, Conn: conn.Stats()}
}
