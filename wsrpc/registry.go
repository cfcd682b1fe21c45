// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bridgerpc/wsrpc/jsonschema"
)

var (
	contextType      = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType        = reflect.TypeOf((*error)(nil)).Elem()
	actionResultType = reflect.TypeOf((*ActionResult)(nil)).Elem()
)

// ActionResult lets an action build its own response instead of having its
// return value serialized generically (SPEC_FULL.md §4.5 step 8).
type ActionResult interface {
	// buildResponse produces the payload bytes for uid using enc. Status is
	// always StatusOk for a successful ActionResult; actions that want to
	// signal an application error should return a Go error instead.
	buildResponse(uid int32, enc Codec) (Header, []byte, error)
}

// RawResult is an ActionResult that writes pre-encoded bytes verbatim,
// overriding the action's declared response encoding. Useful for actions
// that produce their payload out-of-band (e.g. a cached blob).
type RawResult struct {
	Encoding string
	Payload  []byte
}

func (r RawResult) buildResponse(uid int32, _ Codec) (Header, []byte, error) {
	h := Header{Status: StatusOk, UID: uid, PayloadEncoding: r.Encoding, PayloadLength: int32(len(r.Payload))}
	return h, r.Payload, nil
}

// actionBinding is the immutable metadata built once at startup for every
// controller method, per SPEC_FULL.md §3 "Action binding".
type actionBinding struct {
	ControllerName   string
	ActionName       string // wire name, trimmed of any "Async" suffix
	ControllerType   reflect.Type
	Method           reflect.Method
	ParamTypes       []reflect.Type
	ReturnType       reflect.Type // nil when the action is void
	ReturnsResult    bool         // ReturnType implements ActionResult
	Notification     bool
	AllowAnonymous   bool
	TCPNoDelay       bool
	ResponseEncoding string
	ArgSchema        *resolvedArgSchema
}

func (b *actionBinding) fullName() string {
	return b.ControllerName + "/" + b.ActionName
}

// ActionOption configures a single registered action. Go has no
// method-level attributes, so markers that the source material expressed
// as attributes (AllowAnonymous, Notification, TcpNoDelay,
// ProducesProtoBuf — SPEC_FULL.md §6) are applied through functional
// options passed to WithAction (see SPEC_FULL.md §4.9, Open Question
// resolution).
type ActionOption func(*actionBinding)

// AllowAnonymousAction bypasses the authentication check for this action
// regardless of the controller-level marker.
func AllowAnonymousAction() ActionOption {
	return func(b *actionBinding) { b.AllowAnonymous = true }
}

// NotificationAction marks the action as a notification. A proxy bound by
// BindProxy with this option sends each call without a uid and awaits no
// response; on the receiving side, dispatch still replies to a request for
// this action that does carry a uid.
func NotificationAction() ActionOption {
	return func(b *actionBinding) { b.Notification = true }
}

// TCPNoDelayAction hints that Nagle's algorithm should be disabled on the
// socket when this call is sent. Best-effort, and not reverted afterwards;
// see wsrpc/sender.go.
func TCPNoDelayAction() ActionOption {
	return func(b *actionBinding) { b.TCPNoDelay = true }
}

// ProducesProtoBufAction sets the response codec to the protobuf codec.
// The action's declared return type must implement proto.Message.
func ProducesProtoBufAction() ActionOption {
	return func(b *actionBinding) { b.ResponseEncoding = ProtoCodecName }
}

// WithArgSchema attaches a JSON Schema used to validate the raw argument
// array before positional deserialization (SPEC_FULL.md §6, grounded on
// the teacher's tool-argument validation pipeline).
func WithArgSchema(schema *jsonschema.Schema) ActionOption {
	return func(b *actionBinding) {
		b.ArgSchema = &resolvedArgSchema{schema: schema}
	}
}

// ControllerOption configures a whole controller at registration time.
type ControllerOption func(*controllerEntry)

// ControllerAllowAnonymous marks every action on the controller as
// allow-anonymous. No per-action option clears it again.
func ControllerAllowAnonymous() ControllerOption {
	return func(c *controllerEntry) { c.allowAnonymous = true }
}

// WithAction attaches per-action options, keyed by the Go method name
// (before any "Async" trimming).
func WithAction(methodName string, opts ...ActionOption) ControllerOption {
	return func(c *controllerEntry) {
		c.actionOpts[methodName] = append(c.actionOpts[methodName], opts...)
	}
}

type controllerEntry struct {
	name           string
	prototype      any
	allowAnonymous bool
	actionOpts     map[string][]ActionOption
	bindings       map[string]*actionBinding // lowercased action name -> binding
}

// Registry is the startup-built table of controller name -> action
// bindings consulted by the dispatch pipeline (SPEC_FULL.md §4.9). It is
// built once and is safe for concurrent read access thereafter.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*controllerEntry // lowercased controller name -> entry
}

// NewRegistry returns an empty registry. HomeControllerName is used when a
// request's action_name carries no "Controller/" prefix.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*controllerEntry)}
}

// HomeControllerName is the default controller for bare action names
// (SPEC_FULL.md §4.5 step 1).
const HomeControllerName = "Home"

// RegisterController discovers every exported method on prototype's type
// (which must be a pointer) and binds it as an action, matching the
// teacher's newServerTool validate-once-and-bind pattern generalized from
// one method to every method on a struct.
func (r *Registry) RegisterController(name string, prototype any, opts ...ControllerOption) error {
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("wsrpc: RegisterController(%q): prototype must be a pointer to struct", name)
	}

	entry := &controllerEntry{
		name:       name,
		prototype:  prototype,
		actionOpts: make(map[string][]ActionOption),
		bindings:   make(map[string]*actionBinding),
	}
	for _, opt := range opts {
		opt(entry)
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		binding, err := buildBinding(name, t, m)
		if err != nil {
			return fmt.Errorf("wsrpc: RegisterController(%q): method %s: %w", name, m.Name, err)
		}
		if binding == nil {
			continue // not an action method (no context.Context parameter)
		}
		binding.AllowAnonymous = entry.allowAnonymous
		for _, opt := range entry.actionOpts[m.Name] {
			opt(binding)
		}
		if binding.ResponseEncoding == "" {
			binding.ResponseEncoding = DefaultCodecName
		}
		entry.bindings[strings.ToLower(binding.ActionName)] = binding
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[strings.ToLower(name)] = entry
	return nil
}

// buildBinding reflects on method m of controller type t. It returns
// (nil, nil) for methods whose first parameter is not a context.Context,
// so helper methods without one are silently skipped rather than rejected.
// A method that takes a context.Context but does not return (T, error) or
// error is reported as an error.
func buildBinding(controllerName string, t reflect.Type, m reflect.Method) (*actionBinding, error) {
	mt := m.Func.Type()
	if mt.NumIn() < 2 || mt.In(1) != contextType {
		return nil, nil
	}

	paramTypes := make([]reflect.Type, 0, mt.NumIn()-2)
	for i := 2; i < mt.NumIn(); i++ {
		paramTypes = append(paramTypes, mt.In(i))
	}

	var returnType reflect.Type
	returnsResult := false
	switch mt.NumOut() {
	case 1:
		if mt.Out(0) != errorType {
			return nil, fmt.Errorf("single return value must be error, got %s", mt.Out(0))
		}
	case 2:
		if mt.Out(1) != errorType {
			return nil, fmt.Errorf("second return value must be error, got %s", mt.Out(1))
		}
		returnType = mt.Out(0)
		returnsResult = returnType.Implements(actionResultType)
	default:
		return nil, fmt.Errorf("actions must return (T, error) or error, got %d results", mt.NumOut())
	}

	actionName := strings.TrimSuffix(m.Name, "Async")
	return &actionBinding{
		ControllerName: controllerName,
		ActionName:     actionName,
		ControllerType: t,
		Method:         m,
		ParamTypes:     paramTypes,
		ReturnType:     returnType,
		ReturnsResult:  returnsResult,
	}, nil
}

// resolve splits a wire action name on "/" (default controller Home) and
// looks up its binding, per SPEC_FULL.md §4.5 steps 1-3.
func (r *Registry) resolve(fullName string) (*controllerEntry, *actionBinding, bool) {
	controllerName, actionName := splitActionName(fullName)

	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.controllers[strings.ToLower(controllerName)]
	if !ok {
		return nil, nil, false
	}
	binding, ok := entry.bindings[strings.ToLower(actionName)]
	if !ok {
		return entry, nil, false
	}
	return entry, binding, true
}

func splitActionName(fullName string) (controller, action string) {
	if idx := strings.IndexByte(fullName, '/'); idx >= 0 {
		return fullName[:idx], fullName[idx+1:]
	}
	return HomeControllerName, fullName
}

// resolvedArgSchema lazily resolves its jsonschema.Schema on first use,
// guarded by sync.Once so concurrent first dispatches don't race.
type resolvedArgSchema struct {
	once     sync.Once
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	err      error
}

func (s *resolvedArgSchema) resolve() (*jsonschema.Resolved, error) {
	s.once.Do(func() {
		s.resolved, s.err = s.schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	})
	return s.resolved, s.err
}
