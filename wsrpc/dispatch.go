// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/bridgerpc/wsrpc/internal/jsonrpc2"
)

// requestEnvelope is the positional-argument payload layout for a request
// message (spec.md §6). action_name is carried a second time inside the
// payload, alongside the header's own action_name tag, so strict,
// case-sensitive decoding (internal/jsonrpc2.StrictUnmarshal) can catch a
// case-variant duplicate key that would otherwise let the stated
// action_name disagree with the one the header routed on.
type requestEnvelope struct {
	ActionName string            `json:"action_name"`
	Args       []json.RawMessage `json:"args"`
}

// reflectScope is the default Scope: a freshly zero-valued controller
// instance with no external dependency injection.
type reflectScope struct {
	value reflect.Value
}

func (s reflectScope) Controller() reflect.Value { return s.value }
func (s reflectScope) Close()                    {}

// reflectScopeFactory is the default ScopeFactory, used when
// ConnectionConfig.ScopeFactory is left nil. Real deployments that need
// per-request dependencies (a DB handle, a request-scoped logger) supply
// their own ScopeFactory (spec.md §1, §9 "Controller activation").
type reflectScopeFactory struct{}

func (reflectScopeFactory) NewScope(ctx context.Context, b *actionBinding) (Scope, error) {
	return reflectScope{value: reflect.New(b.ControllerType.Elem())}, nil
}

// dispatchRequest runs the full inbound pipeline for one request message
// (spec.md §4.5). It always runs on its own goroutine, spawned by the
// receiver loop so that user controller code never blocks frame reads.
func (c *Connection) dispatchRequest(ctx context.Context, h Header, payload []byte) {
	if isReservedAuthAction(h.ActionName) {
		c.dispatchAuthAction(h, payload)
		return
	}

	_, binding, found := c.registry.resolve(h.ActionName)
	if !found {
		c.replyError(h, StatusNotFound, fmt.Sprintf("Action not found: %q.", h.ActionName))
		return
	}

	if err := c.checkPermission(binding); err != nil {
		var re *RemoteError
		if as, ok := err.(*RemoteError); ok {
			re = as
		} else {
			re = &RemoteError{Status: StatusUnauthorized, Message: err.Error()}
		}
		c.replyError(h, re.Status, re.Message)
		return
	}

	var env requestEnvelope
	if err := jsonrpc2.StrictUnmarshal(payload, &env); err != nil {
		c.replyError(h, StatusBadRequest, "Malformed request envelope.")
		return
	}
	if env.ActionName != h.ActionName {
		c.replyError(h, StatusBadRequest, "Action name mismatch between header and payload.")
		return
	}
	if len(env.Args) != len(binding.ParamTypes) {
		c.replyError(h, StatusBadRequest, "Argument count mismatch.")
		return
	}

	if binding.ArgSchema != nil {
		if err := c.validateArgs(binding, env.Args); err != nil {
			c.replyError(h, StatusBadRequest, err.Error())
			return
		}
	}

	args, err := c.decodeArgs(h, binding, env.Args)
	if err != nil {
		c.replyError(h, StatusBadRequest, err.Error())
		return
	}

	scope, err := c.scopeFactory.NewScope(ctx, binding)
	if err != nil {
		c.logger.Error("wsrpc: scope factory failed", "action", binding.fullName(), "err", err)
		c.replyError(h, StatusInternalError, "Internal Server Error")
		return
	}
	defer scope.Close()

	results := binding.Method.Func.Call(append([]reflect.Value{scope.Controller(), reflect.ValueOf(ctx)}, args...))

	status, respPayload, encoding, callErr := c.resultToResponse(h, binding, results)
	if callErr != nil {
		c.replyError(h, status, callErr.Error())
		return
	}
	if !h.HasUID() {
		return // notification: the method ran, but no response is ever sent
	}
	respHeader := Header{Status: status, UID: h.UID, PayloadEncoding: encoding, PayloadLength: int32(len(respPayload))}
	c.enqueueResponse(respHeader, respPayload)
}

// validateArgs checks the raw argument array against an action's declared
// JSON Schema before positional decoding (grounded on the teacher's
// resolved-schema Validate step, mcp/tool.go unmarshalSchema).
func (c *Connection) validateArgs(b *actionBinding, rawArgs []json.RawMessage) error {
	resolved, err := b.ArgSchema.resolve()
	if err != nil {
		return fmt.Errorf("action argument schema: %w", err)
	}
	argsValue := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		if err := json.Unmarshal(raw, &argsValue[i]); err != nil {
			return fmt.Errorf("decoding argument %d for validation: %w", i, err)
		}
	}
	if err := resolved.Validate(argsValue); err != nil {
		return fmt.Errorf("argument validation: %w", err)
	}
	return nil
}

// decodeArgs positionally deserializes each raw argument into its
// method's declared parameter type using the codec named by the header.
func (c *Connection) decodeArgs(h Header, b *actionBinding, rawArgs []json.RawMessage) ([]reflect.Value, error) {
	codec, err := codecs.get(h.PayloadEncoding)
	if err != nil {
		return nil, err
	}
	out := make([]reflect.Value, len(rawArgs))
	for i, raw := range rawArgs {
		v := reflect.New(b.ParamTypes[i])
		if err := codec.Unmarshal(raw, v.Interface()); err != nil {
			return nil, fmt.Errorf("decoding argument %d: %w", i, err)
		}
		out[i] = v.Elem()
	}
	return out, nil
}

// resultToResponse maps a controller method's return values to a wire
// status, payload, and encoding (spec.md §4.5 steps 8-9).
func (c *Connection) resultToResponse(h Header, b *actionBinding, results []reflect.Value) (Status, []byte, string, error) {
	var errVal reflect.Value
	var retVal reflect.Value
	hasRet := b.ReturnType != nil
	if hasRet {
		retVal, errVal = results[0], results[1]
	} else {
		errVal = results[0]
	}

	if !errVal.IsNil() {
		err := errVal.Interface().(error)
		if msg, ok := IsBadRequest(err); ok {
			return StatusBadRequest, []byte(fmt.Sprintf("%q", msg)), DefaultCodecName, nil
		}
		c.logger.Error("wsrpc: action returned error", "action", b.fullName(), "err", err)
		return StatusInternalError, []byte(`"Internal Server Error"`), DefaultCodecName, nil
	}

	if !hasRet {
		return StatusOk, nil, b.ResponseEncoding, nil
	}

	if b.ReturnsResult {
		result := retVal.Interface().(ActionResult)
		codec, err := codecs.get(b.ResponseEncoding)
		if err != nil {
			return StatusInternalError, nil, DefaultCodecName, err
		}
		respHeader, payload, err := result.buildResponse(h.UID, codec)
		if err != nil {
			c.logger.Error("wsrpc: action result serialization failed", "action", b.fullName(), "err", err)
			return StatusInternalError, []byte(`"Internal Server Error"`), DefaultCodecName, nil
		}
		return respHeader.Status, payload, respHeader.PayloadEncoding, nil
	}

	codec, err := codecs.get(b.ResponseEncoding)
	if err != nil {
		return StatusInternalError, nil, DefaultCodecName, err
	}
	payload, err := codec.Marshal(retVal.Interface())
	if err != nil {
		c.logger.Error("wsrpc: action result serialization failed", "action", b.fullName(), "err", err)
		return StatusInternalError, []byte(`"Internal Server Error"`), DefaultCodecName, nil
	}
	return StatusOk, payload, b.ResponseEncoding, nil
}

// dispatchAuthAction handles the two reserved SignIn/SignOut actions,
// bypassing controller lookup and permission checks entirely (spec.md
// §4.6): SignIn must be callable by a not-yet-authenticated connection.
func (c *Connection) dispatchAuthAction(h Header, payload []byte) {
	var env requestEnvelope
	if err := jsonrpc2.StrictUnmarshal(payload, &env); err != nil {
		c.replyError(h, StatusBadRequest, "Malformed request envelope.")
		return
	}

	var status Status
	var message string
	switch {
	case equalFold(h.ActionName, signInActionName):
		if len(env.Args) != 1 {
			c.replyError(h, StatusBadRequest, "Argument count mismatch.")
			return
		}
		var token string
		if err := json.Unmarshal(env.Args[0], &token); err != nil {
			c.replyError(h, StatusBadRequest, "Token argument must be a string.")
			return
		}
		status, message = c.handleSignIn(token)
	case equalFold(h.ActionName, signOutActionName):
		status, message = c.handleSignOut()
	}

	if !h.HasUID() {
		return
	}
	if status != StatusOk {
		c.replyError(h, status, message)
		return
	}
	c.enqueueResponse(Header{Status: StatusOk, UID: h.UID, PayloadEncoding: DefaultCodecName}, nil)
}

// replyError enqueues an error response carrying the given status and a
// plain-text message payload, or silently drops it if h has no uid
// (notification, spec.md §4.5 final paragraph).
func (c *Connection) replyError(h Header, status Status, message string) {
	if !h.HasUID() {
		return
	}
	payload, _ := json.Marshal(message)
	c.enqueueResponse(Header{Status: status, UID: h.UID, PayloadEncoding: DefaultCodecName, PayloadLength: int32(len(payload))}, payload)
}
