// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	segjson "github.com/segmentio/encoding/json"
)

// Codec (de)serializes request arguments and results into payload bytes.
// The codec in effect for a given message is named by the header's
// payload_encoding field; an empty name selects DefaultCodecName.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// DefaultCodecName is used when a header omits payload_encoding.
const DefaultCodecName = "json"

// ProtoCodecName selects the protobuf codec, used for actions marked
// ProducesProtoBuf. A return type that implements proto.Message without
// that marker is still encoded with the default codec.
const ProtoCodecName = "protobuf"

// jsonCodec wraps segmentio/encoding/json, which is a drop-in-compatible,
// allocation-lean replacement for encoding/json; it falls back to the
// standard library encoder for types segmentio can't handle (notably types
// implementing only the standard json.Marshaler on exotic shapes).
type jsonCodec struct{}

func (jsonCodec) Name() string { return DefaultCodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := segjson.Marshal(v)
	if err != nil {
		return stdJSONMarshal(v)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := segjson.Unmarshal(data, v); err != nil {
		return stdJSONUnmarshal(data, v)
	}
	return nil
}

// protoCodec wraps google.golang.org/protobuf/proto for actions whose
// result type is a generated protobuf message (ProducesProtoBuf marker).
type protoCodec struct{}

func (protoCodec) Name() string { return ProtoCodecName }

func (protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("wsrpc: protobuf codec requires a proto.Message, got %T", v)
	}
	return proto.Marshal(msg)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("wsrpc: protobuf codec requires a proto.Message, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}

// codecRegistry resolves a payload_encoding name to a Codec. Callers may
// register additional codecs via RegisterCodec before opening connections.
type codecRegistry struct {
	codecs map[string]Codec
}

func newCodecRegistry() *codecRegistry {
	r := &codecRegistry{codecs: make(map[string]Codec, 2)}
	r.register(jsonCodec{})
	r.register(protoCodec{})
	return r
}

func (r *codecRegistry) register(c Codec) { r.codecs[c.Name()] = c }

func (r *codecRegistry) get(name string) (Codec, error) {
	if name == "" {
		name = DefaultCodecName
	}
	c, ok := r.codecs[name]
	if !ok {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown payload_encoding %q", name)}
	}
	return c, nil
}

// codecs is the process-wide registry consulted by connections built
// through this package's constructors. It is fixed at json+protobuf
// unless RegisterCodec is called during program initialization.
var codecs = newCodecRegistry()

// RegisterCodec adds or replaces a payload codec available to every
// connection by name. Call during program startup, before any connection
// is opened; not safe for concurrent use with an active connection.
func RegisterCodec(c Codec) {
	codecs.register(c)
}
