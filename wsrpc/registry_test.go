// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"errors"
	"testing"
)

type chatController struct{}

func (c *chatController) SendMessage(ctx context.Context, text string) (string, error) {
	return "echo: " + text, nil
}

func (c *chatController) Ping(ctx context.Context) error {
	return nil
}

// String is an ordinary helper method with no context.Context parameter;
// the registry must silently skip it rather than mistake it for an action.
func (c *chatController) String() string { return "chatController" }

func TestRegisterControllerBindsActions(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Chat", &chatController{}); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}

	_, binding, found := r.resolve("Chat/SendMessage")
	if !found {
		t.Fatal("resolve(\"Chat/SendMessage\") not found")
	}
	if binding.ActionName != "SendMessage" {
		t.Errorf("ActionName = %q, want %q", binding.ActionName, "SendMessage")
	}
	if len(binding.ParamTypes) != 1 {
		t.Errorf("ParamTypes = %v, want 1 parameter", binding.ParamTypes)
	}
	if binding.ReturnType == nil {
		t.Error("ReturnType = nil, want string")
	}
}

func TestRegisterControllerSkipsNonActionMethods(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Chat", &chatController{}); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	if _, _, found := r.resolve("Chat/String"); found {
		t.Error("resolve(\"Chat/String\") found a binding, want the helper method to be skipped")
	}
}

func TestBareActionNameDefaultsToHomeController(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController(HomeControllerName, &chatController{}); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	_, binding, found := r.resolve("Ping")
	if !found {
		t.Fatal("resolve(\"Ping\") not found, want default to Home controller")
	}
	if binding.ActionName != "Ping" {
		t.Errorf("ActionName = %q, want %q", binding.ActionName, "Ping")
	}
}

func TestSplitActionName(t *testing.T) {
	cases := []struct {
		in             string
		wantController string
		wantAction     string
	}{
		{"Chat/SendMessage", "Chat", "SendMessage"},
		{"Ping", HomeControllerName, "Ping"},
		{"A/B/C", "A", "B/C"},
	}
	for _, tc := range cases {
		gotController, gotAction := splitActionName(tc.in)
		if gotController != tc.wantController || gotAction != tc.wantAction {
			t.Errorf("splitActionName(%q) = (%q, %q), want (%q, %q)",
				tc.in, gotController, gotAction, tc.wantController, tc.wantAction)
		}
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Chat", &chatController{}); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	if _, _, found := r.resolve("chat/sendmessage"); !found {
		t.Error("resolve() is case-sensitive, want case-insensitive controller/action lookup")
	}
}

type asyncController struct{}

func (c *asyncController) FetchAsync(ctx context.Context) (string, error) { return "ok", nil }

func TestActionNameTrimsAsyncSuffix(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Remote", &asyncController{}); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	if _, _, found := r.resolve("Remote/Fetch"); !found {
		t.Error("resolve(\"Remote/Fetch\") not found, want the wire name trimmed of its Async suffix")
	}
	if _, _, found := r.resolve("Remote/FetchAsync"); found {
		t.Error("resolve(\"Remote/FetchAsync\") found, want only the trimmed name registered")
	}
}

type brokenController struct{}

func (c *brokenController) Broken(ctx context.Context) (string, string) { // second result must be error
	return "", ""
}

func TestRegisterControllerRejectsBadReturnShape(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterController("Broken", &brokenController{})
	if err == nil {
		t.Fatal("RegisterController() succeeded despite a method with an invalid return shape")
	}
}

func TestRegisterControllerRequiresPointerToStruct(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Bad", chatController{}); err == nil {
		t.Error("RegisterController() with a non-pointer prototype succeeded, want error")
	}
}

type anonOnlyController struct{}

func (c *anonOnlyController) Open(ctx context.Context) error { return nil }

func TestControllerAllowAnonymousAppliesToEveryAction(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterController("Anon", &anonOnlyController{}, ControllerAllowAnonymous()); err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	_, binding, found := r.resolve("Anon/Open")
	if !found {
		t.Fatal("resolve() not found")
	}
	if !binding.AllowAnonymous {
		t.Error("AllowAnonymous = false, want true via ControllerAllowAnonymous")
	}
}

func TestWithActionAppliesPerActionOptions(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterController("Chat", &chatController{},
		WithAction("Ping", AllowAnonymousAction(), NotificationAction()))
	if err != nil {
		t.Fatalf("RegisterController() failed: %v", err)
	}
	_, ping, found := r.resolve("Chat/Ping")
	if !found {
		t.Fatal("resolve(\"Chat/Ping\") not found")
	}
	if !ping.AllowAnonymous || !ping.Notification {
		t.Errorf("Ping binding = %+v, want AllowAnonymous and Notification set", ping)
	}
	_, send, found := r.resolve("Chat/SendMessage")
	if !found {
		t.Fatal("resolve(\"Chat/SendMessage\") not found")
	}
	if send.AllowAnonymous || send.Notification {
		t.Errorf("SendMessage binding = %+v, want options scoped only to Ping", send)
	}
}

func TestRawResultBuildResponse(t *testing.T) {
	r := RawResult{Encoding: "json", Payload: []byte(`"hi"`)}
	h, payload, err := r.buildResponse(5, jsonCodec{})
	if err != nil {
		t.Fatalf("buildResponse() failed: %v", err)
	}
	if h.Status != StatusOk || h.UID != 5 || h.PayloadEncoding != "json" {
		t.Errorf("buildResponse() header = %+v, want Status=Ok UID=5 PayloadEncoding=json", h)
	}
	if string(payload) != `"hi"` {
		t.Errorf("buildResponse() payload = %q, want %q", payload, `"hi"`)
	}
}

func TestBadRequestRoundTrip(t *testing.T) {
	err := BadRequest("missing field")
	msg, ok := IsBadRequest(err)
	if !ok || msg != "missing field" {
		t.Errorf("IsBadRequest(BadRequest(...)) = (%q, %v), want (%q, true)", msg, ok, "missing field")
	}
	if _, ok := IsBadRequest(errors.New("plain")); ok {
		t.Error("IsBadRequest(plain error) = true, want false")
	}
}
