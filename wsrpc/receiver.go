// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"io"
)

// receiverLoop reads frames until the socket closes or a protocol error
// occurs, demultiplexing each logical message into a request (dispatched
// on its own goroutine) or a response (resolved against the pending
// table), per spec.md §4.4.
func (c *Connection) receiverLoop(ctx context.Context) {
	for {
		h, payload, err := readFrame(c.conn, c.maxPayloadBytes)
		if err != nil {
			if err == io.EOF {
				c.atomicDispose(CloseReason{Graceful: true, Reason: "peer closed connection"})
				return
			}
			c.abort(err)
			return
		}

		if h.IsRequest() {
			if h.HasUID() {
				if err := c.beginRequest(); err != nil {
					c.logger.Warn("wsrpc: dropping inbound request, connection is draining", "action", h.ActionName, "err", err)
					continue
				}
			}
			go c.dispatchRequest(ctx, h, payload)
			continue
		}

		c.handleResponse(h, payload)
	}
}

// handleResponse completes the pending-table awaiter for h.UID, if any,
// and balances the in-flight counter for the outbound call it answers.
func (c *Connection) handleResponse(h Header, payload []byte) {
	defer c.endRequest()

	entry, ok := c.pending.take(h.UID)
	if !ok {
		c.logger.Warn("wsrpc: response for unknown or already-resolved uid", "uid", h.UID)
		return
	}

	if h.Status != StatusOk {
		var message string
		if err := codecDecodeString(h.PayloadEncoding, payload, &message); err != nil {
			message = string(payload)
		}
		entry.result <- pendingResult{err: &RemoteError{Status: h.Status, Message: message}}
		return
	}

	if entry.returnType == nil {
		entry.result <- pendingResult{}
		return
	}

	codec, err := codecs.get(h.PayloadEncoding)
	if err != nil {
		entry.result <- pendingResult{err: err}
		return
	}
	v := newValuePtr(entry.returnType)
	if err := codec.Unmarshal(payload, v); err != nil {
		entry.result <- pendingResult{err: &ProtocolError{Reason: "undecodable response payload", Cause: err}}
		return
	}
	entry.result <- pendingResult{value: v}
}

func codecDecodeString(encoding string, payload []byte, out *string) error {
	codec, err := codecs.get(encoding)
	if err != nil {
		return err
	}
	return codec.Unmarshal(payload, out)
}
