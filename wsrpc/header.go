// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"encoding/binary"
	"fmt"
)

// Status identifies whether a message is a request or, for a response,
// what became of it. Wire values are stable and must not be renumbered.
type Status uint8

const (
	// StatusRequest identifies a request; any other status identifies a
	// response.
	StatusRequest        Status = 0
	StatusOk             Status = 1
	StatusBadRequest     Status = 2
	StatusInvalidRequest Status = 3
	StatusNotFound       Status = 4
	StatusUnauthorized   Status = 5
	StatusInternalError  Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusRequest:
		return "Request"
	case StatusOk:
		return "Ok"
	case StatusBadRequest:
		return "BadRequest"
	case StatusInvalidRequest:
		return "InvalidRequest"
	case StatusNotFound:
		return "NotFound"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MaxHeaderBytes is the invariant hard limit on a serialized header: every
// header must fit within this many bytes (SPEC_FULL.md §3).
const MaxHeaderBytes = 256

// Wire tags for the header schema (SPEC_FULL.md §6).
const (
	tagStatus          = 1
	tagUID             = 2
	tagPayloadLength   = 3
	tagPayloadEncoding = 4
	tagActionName      = 5
)

// Header is the small variable-length structure framing every logical
// wsrpc message. It is serialized at the tail of the message it describes
// (header-at-tail framing, SPEC_FULL.md §4.1).
type Header struct {
	Status          Status
	UID             int32 // 0 means absent; any non-zero value is a valid id
	PayloadLength   int32
	PayloadEncoding string // "" means default codec
	ActionName      string // required iff Status == StatusRequest
}

// HasUID reports whether the header carries a correlation id.
func (h Header) HasUID() bool { return h.UID != 0 }

// IsRequest reports whether the header identifies a request.
func (h Header) IsRequest() bool { return h.Status == StatusRequest }

// Validate enforces the header invariants from SPEC_FULL.md §3: requests
// carry an action name and responses never do; responses always carry a
// uid.
func (h Header) Validate() error {
	if h.IsRequest() {
		if h.ActionName == "" {
			return &ProtocolError{Reason: "request header missing action_name"}
		}
	} else {
		if h.ActionName != "" {
			return &ProtocolError{Reason: "response header must not carry action_name"}
		}
		if h.UID == 0 {
			return &ProtocolError{Reason: "response header missing uid"}
		}
	}
	return nil
}

// Marshal encodes h using a compact varint-tag schema, matching the wire
// table in SPEC_FULL.md §6. The result is always <= MaxHeaderBytes.
func (h Header) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 64)

	buf = appendVarintField(buf, tagStatus, uint64(h.Status))
	if h.UID != 0 {
		buf = appendTag(buf, tagUID)
		buf = binary.AppendVarint(buf, int64(h.UID))
	}
	if h.PayloadLength != 0 {
		buf = appendVarintField(buf, tagPayloadLength, uint64(h.PayloadLength))
	}
	if h.PayloadEncoding != "" {
		buf = appendStringField(buf, tagPayloadEncoding, h.PayloadEncoding)
	}
	if h.ActionName != "" {
		buf = appendStringField(buf, tagActionName, h.ActionName)
	}

	if len(buf) > MaxHeaderBytes {
		return nil, &ProtocolError{Reason: fmt.Sprintf("serialized header %d bytes exceeds limit %d", len(buf), MaxHeaderBytes)}
	}
	return buf, nil
}

// ParseHeader decodes a header previously produced by Marshal.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	buf := data
	for len(buf) > 0 {
		tag, n := decodeTag(buf)
		if n <= 0 {
			return Header{}, &ProtocolError{Reason: "malformed header tag"}
		}
		buf = buf[n:]
		switch tag {
		case tagStatus:
			v, n := binary.Uvarint(buf)
			if n <= 0 {
				return Header{}, &ProtocolError{Reason: "malformed status varint"}
			}
			buf = buf[n:]
			h.Status = Status(v)
		case tagUID:
			v, n := binary.Varint(buf)
			if n <= 0 {
				return Header{}, &ProtocolError{Reason: "malformed uid varint"}
			}
			buf = buf[n:]
			h.UID = int32(v)
		case tagPayloadLength:
			v, n := binary.Uvarint(buf)
			if n <= 0 {
				return Header{}, &ProtocolError{Reason: "malformed payload_length varint"}
			}
			buf = buf[n:]
			h.PayloadLength = int32(v)
		case tagPayloadEncoding:
			s, rest, err := decodeString(buf)
			if err != nil {
				return Header{}, err
			}
			buf = rest
			h.PayloadEncoding = s
		case tagActionName:
			s, rest, err := decodeString(buf)
			if err != nil {
				return Header{}, err
			}
			buf = rest
			h.ActionName = s
		default:
			return Header{}, &ProtocolError{Reason: fmt.Sprintf("unknown header tag %d", tag)}
		}
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

func appendVarintField(buf []byte, tag int, v uint64) []byte {
	buf = appendTag(buf, tag)
	return binary.AppendUvarint(buf, v)
}

func appendStringField(buf []byte, tag int, s string) []byte {
	buf = appendTag(buf, tag)
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendTag(buf []byte, tag int) []byte {
	return binary.AppendUvarint(buf, uint64(tag))
}

func decodeTag(buf []byte) (tag int, n int) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, n
	}
	return int(v), n
}

func decodeString(buf []byte) (string, []byte, error) {
	l, n := binary.Uvarint(buf)
	if n <= 0 {
		return "", nil, &ProtocolError{Reason: "malformed string length varint"}
	}
	buf = buf[n:]
	if uint64(len(buf)) < l {
		return "", nil, &ProtocolError{Reason: "string field truncated"}
	}
	return string(buf[:l]), buf[l:], nil
}
