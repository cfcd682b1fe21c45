// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"context"
	"testing"
	"time"
)

func TestDialerConnectReturnsSameConnectionOnRepeatedCalls(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := dialTestServer(t, server, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, err := d.Connect(ctx)
	if err != nil {
		t.Fatalf("first Connect() failed: %v", err)
	}
	c2, err := d.Connect(ctx)
	if err != nil {
		t.Fatalf("second Connect() failed: %v", err)
	}
	if c1 != c2 {
		t.Error("Connect() returned a different *Connection on the second call, want the same live connection reused")
	}
	if d.Current() != c1 {
		t.Error("Current() does not match the connection Connect() returned")
	}
}

func TestDialerEnsureConnectedDefaultsToAutoConnect(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := NewDialer(DialerConfig{URL: wsURL(server.URL), Registry: NewRegistry()})
	t.Cleanup(func() { d.Shutdown(time.Second, "test cleanup") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// DisableAutoConnect defaults to false, so EnsureConnected must dial
	// without a prior explicit Connect call.
	if _, err := d.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() with the default config failed: %v, want it to auto-connect", err)
	}
}

func TestDialerEnsureConnectedWithAutoConnectDisabled(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := NewDialer(DialerConfig{URL: wsURL(server.URL), Registry: NewRegistry(), DisableAutoConnect: true})
	t.Cleanup(func() { d.Shutdown(time.Second, "test cleanup") })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// With no prior Connect, calls must fail fast instead of silently
	// dialing.
	if _, err := d.EnsureConnected(ctx); err != ErrConnectionNotOpen {
		t.Fatalf("EnsureConnected() with DisableAutoConnect and no prior Connect = %v, want ErrConnectionNotOpen", err)
	}

	if _, err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if _, err := d.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() after an explicit Connect() failed: %v", err)
	}
}

func TestDialerShutdownPreventsFurtherConnect(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := NewDialer(DialerConfig{URL: wsURL(server.URL), Registry: NewRegistry()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	d.Shutdown(2*time.Second, "shutting down for test")

	if _, err := d.Connect(ctx); err == nil {
		t.Error("Connect() after Shutdown() succeeded, want a WasShutdownError")
	} else if _, ok := err.(*WasShutdownError); !ok {
		t.Errorf("Connect() after Shutdown() error = %T, want *WasShutdownError", err)
	}
}

func TestDialerShutdownIsIdempotent(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := NewDialer(DialerConfig{URL: wsURL(server.URL), Registry: NewRegistry()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			d.Shutdown(2*time.Second, "concurrent shutdown")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent Shutdown() calls did not both return")
		}
	}
}

func TestDialerBackoffGrowsAndCaps(t *testing.T) {
	d := NewDialer(DialerConfig{
		URL:                "ws://unused",
		BaseReconnectDelay: 100 * time.Millisecond,
		MaxReconnectDelay:  1 * time.Second,
	})
	if got := d.backoff(0); got != 100*time.Millisecond {
		t.Errorf("backoff(0) = %v, want %v", got, 100*time.Millisecond)
	}
	if got := d.backoff(1); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v, want %v", got, 200*time.Millisecond)
	}
	if got := d.backoff(10); got != 1*time.Second {
		t.Errorf("backoff(10) = %v, want it capped at %v", got, 1*time.Second)
	}
}

func TestDialerStats(t *testing.T) {
	ctrl := &echoController{}
	server := newTestListener(t, ctrl, nil)
	d := dialTestServer(t, server, nil)

	if got := d.Stats(); got.Connected {
		t.Error("Stats() before Connect() reports Connected=true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	stats := d.Stats()
	if !stats.Connected {
		t.Error("Stats() after Connect() reports Connected=false")
	}
	if stats.Conn.Role != RoleDialer {
		t.Errorf("Stats().Conn.Role = %v, want %v", stats.Conn.Role, RoleDialer)
	}
}
