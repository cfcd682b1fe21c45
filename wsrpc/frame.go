// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// MaxFrameBytes is the size of each WebSocket fragment written for a
// payload that does not fit in a single fragment (spec.md §4.1 step 3).
const MaxFrameBytes = 8192

// DefaultMaxPayloadBytes bounds the total size of one logical message's
// payload. It exists to keep a misbehaving or compromised peer from
// forcing unbounded buffering while a message is assembled.
const DefaultMaxPayloadBytes = 4 << 20

// effectiveMaxPayloadBytes converts a user-configured MaxPayloadBytes into
// the limit actually enforced by readFrame, mirroring the teacher's
// effectiveMaxBodyBytes convention (mcp/http_limits.go):
//   - 0: use DefaultMaxPayloadBytes
//   - <0: no limit
//   - >0: use the given value
func effectiveMaxPayloadBytes(configured int64) int64 {
	switch {
	case configured == 0:
		return DefaultMaxPayloadBytes
	case configured < 0:
		return 1<<63 - 1
	default:
		return configured
	}
}

// headerTrailerLen is the width of the trailing length footer that marks
// where the self-delimited header begins within the tail of a logical
// message (frame = payload || header || footer). The header's own
// encoding has no intrinsic length prefix (each field is a tag byte
// followed by its value, consumed until the slice is exhausted), so the
// footer is what lets the receiver locate the split without first
// decoding anything.
const headerTrailerLen = 2

// writeFrame emits one logical message: payload bytes split across
// fragments of at most MaxFrameBytes, followed by the marshaled header and
// its length footer in the final fragment (spec.md §4.1, §4.3 step 3).
// Concurrent calls are not safe; callers serialize writes through a single
// sender goroutine (wsrpc/sender.go).
func writeFrame(conn *websocket.Conn, h Header, payload []byte) error {
	headerBytes, err := h.Marshal()
	if err != nil {
		return err
	}
	if len(headerBytes) > 1<<16-1 {
		return &ProtocolError{Reason: "marshaled header exceeds footer width"}
	}

	w, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return &TransportError{Cause: err}
	}

	for len(payload) > 0 {
		n := len(payload)
		if n > MaxFrameBytes {
			n = MaxFrameBytes
		}
		if _, err := w.Write(payload[:n]); err != nil {
			w.Close()
			return &TransportError{Cause: err}
		}
		payload = payload[n:]
		if len(payload) > 0 {
			if f, ok := w.(interface{ Flush() error }); ok {
				if err := f.Flush(); err != nil {
					w.Close()
					return &TransportError{Cause: err}
				}
			}
		}
	}

	if _, err := w.Write(headerBytes); err != nil {
		w.Close()
		return &TransportError{Cause: err}
	}
	var footer [headerTrailerLen]byte
	binary.BigEndian.PutUint16(footer[:], uint16(len(headerBytes)))
	if _, err := w.Write(footer[:]); err != nil {
		w.Close()
		return &TransportError{Cause: err}
	}
	if err := w.Close(); err != nil {
		return &TransportError{Cause: err}
	}
	return nil
}

// readFrame reads one logical message and splits it into its header and
// payload. maxPayloadBytes bounds the total message size accepted; a
// message exceeding it is rejected without being fully buffered.
func readFrame(conn *websocket.Conn, maxPayloadBytes int64) (Header, []byte, error) {
	messageType, r, err := conn.NextReader()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, &TransportError{Cause: err}
	}
	if messageType != websocket.BinaryMessage {
		return Header{}, nil, &ProtocolError{Reason: fmt.Sprintf("unexpected websocket message type %d, want binary", messageType)}
	}

	limit := maxPayloadBytes + int64(MaxHeaderBytes) + headerTrailerLen
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Header{}, nil, &TransportError{Cause: err}
	}
	if int64(len(data)) > limit {
		return Header{}, nil, &ProtocolError{Reason: "message exceeds configured size limit"}
	}
	if len(data) < headerTrailerLen {
		return Header{}, nil, &ProtocolError{Reason: "message shorter than frame footer"}
	}

	footerOffset := len(data) - headerTrailerLen
	headerLen := int(binary.BigEndian.Uint16(data[footerOffset:]))
	if headerLen > footerOffset || headerLen > MaxHeaderBytes {
		return Header{}, nil, &ProtocolError{Reason: "invalid header length footer"}
	}

	headerStart := footerOffset - headerLen
	h, err := ParseHeader(data[headerStart:footerOffset])
	if err != nil {
		return Header{}, nil, err
	}
	payload := data[:headerStart]
	if h.PayloadLength != int32(len(payload)) {
		return Header{}, nil, &ProtocolError{Reason: "header payload_length does not match frame"}
	}
	return h, payload, nil
}
