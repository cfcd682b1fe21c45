// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// BindProxy turns dst, a pointer to a struct whose exported fields are
// function-typed, into a set of remote-call invokers bound to
// controllerName on conn. Each field's function signature must be
// func(context.Context, args...) (R, error) for a call awaiting a typed
// result, or func(context.Context, args...) error for one that expects
// only a status.
//
// Real proxy code generation (turning a hand-written interface into wire
// calls) is an external collaborator the core does not provide (spec.md
// §1); BindProxy is the reflection-based stand-in a caller uses when no
// generator is available, since Go cannot synthesize a new concrete type
// satisfying an arbitrary interface at runtime the way a generator can.
func BindProxy(conn *Connection, controllerName string, dst any, opts ...ActionOption) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("wsrpc: BindProxy: dst must be a pointer to struct")
	}
	sv := v.Elem()
	st := sv.Type()

	opt := &actionBinding{}
	for _, o := range opts {
		o(opt)
	}

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		actionName := field.Name
		fn, err := makeProxyFunc(conn, controllerName+"/"+actionName, field.Type, opt)
		if err != nil {
			return fmt.Errorf("wsrpc: BindProxy: field %s: %w", field.Name, err)
		}
		sv.Field(i).Set(fn)
	}
	return nil
}

// makeProxyFunc builds a reflect.Value of fnType that, when called,
// issues a remote call for fullName over conn and awaits its result
// (spec.md §2 "proxy → request descriptor → … → sender loop → socket").
func makeProxyFunc(conn *Connection, fullName string, fnType reflect.Type, opt *actionBinding) (reflect.Value, error) {
	if fnType.NumIn() < 1 || fnType.In(0) != contextType {
		return reflect.Value{}, fmt.Errorf("first parameter must be context.Context")
	}
	var returnType reflect.Type
	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) != errorType {
			return reflect.Value{}, fmt.Errorf("single return value must be error")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return reflect.Value{}, fmt.Errorf("second return value must be error")
		}
		returnType = fnType.Out(0)
	default:
		return reflect.Value{}, fmt.Errorf("must return (T, error) or error")
	}

	impl := func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		args := make([]any, len(in)-1)
		for i, a := range in[1:] {
			args[i] = a.Interface()
		}

		value, err := conn.call(ctx, fullName, args, returnType, opt.Notification, opt.TCPNoDelay)
		return proxyResults(fnType, returnType, value, err)
	}
	return reflect.MakeFunc(fnType, impl), nil
}

func proxyResults(fnType reflect.Type, returnType reflect.Type, value any, err error) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	if returnType != nil {
		if value != nil {
			out[0] = reflect.ValueOf(value).Elem()
		} else {
			out[0] = reflect.Zero(returnType)
		}
	}
	errIdx := len(out) - 1
	if err != nil {
		out[errIdx] = reflect.ValueOf(&err).Elem()
	} else {
		out[errIdx] = reflect.Zero(errorType)
	}
	return out
}

// call implements the generic outbound call path shared by every
// generated proxy function and by Call, the escape hatch for callers
// without a struct-of-funcs proxy.
func (c *Connection) call(ctx context.Context, fullName string, args []any, returnType reflect.Type, notification, noDelay bool) (any, error) {
	codec, err := codecs.get(DefaultCodecName)
	if err != nil {
		return nil, err
	}
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := codec.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("wsrpc: marshaling argument %d: %w", i, err)
		}
		rawArgs[i] = json.RawMessage(b)
	}

	if notification {
		payload, err := codec.Marshal(requestEnvelope{ActionName: fullName, Args: rawArgs})
		if err != nil {
			return nil, err
		}
		h := Header{Status: StatusRequest, ActionName: fullName, PayloadEncoding: DefaultCodecName, PayloadLength: int32(len(payload))}
		return nil, c.enqueueNotification(h, payload, noDelay)
	}

	uid, resultCh, err := c.pending.register(returnType)
	if err != nil {
		return nil, err
	}

	payload, err := codec.Marshal(requestEnvelope{ActionName: fullName, Args: rawArgs})
	if err != nil {
		c.pending.take(uid)
		return nil, err
	}

	h := Header{Status: StatusRequest, UID: uid, ActionName: fullName, PayloadEncoding: DefaultCodecName, PayloadLength: int32(len(payload))}
	if err := c.enqueueRequest(h, payload, noDelay); err != nil {
		c.pending.take(uid)
		return nil, err
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-ctx.Done():
		c.pending.take(uid)
		return nil, ctx.Err()
	}
}

// Call is an escape hatch for issuing a single request
// without binding a struct-of-funcs proxy via BindProxy, useful for ad hoc
// calls and tests.
func (c *Connection) Call(ctx context.Context, fullName string, args []any, into any) error {
	t := reflect.TypeOf(into)
	if t == nil || t.Kind() != reflect.Ptr {
		return fmt.Errorf("wsrpc: Call: into must be a non-nil pointer")
	}
	value, err := c.call(ctx, fullName, args, t.Elem(), false, false)
	if err != nil {
		return err
	}
	if value != nil {
		reflect.ValueOf(into).Elem().Set(reflect.ValueOf(value).Elem())
	}
	return nil
}

// Notify issues a fire-and-forget call that never allocates a uid and
// never awaits a response (spec.md §8 "Notification").
func (c *Connection) Notify(ctx context.Context, fullName string, args []any) error {
	_, err := c.call(ctx, fullName, args, nil, true, false)
	return err
}
