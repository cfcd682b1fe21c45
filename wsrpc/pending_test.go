// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"reflect"
	"testing"
)

func TestPendingTableRegisterTakeAtMostOnce(t *testing.T) {
	pt := newPendingTable()

	uid, ch, err := pt.register(reflect.TypeOf(""))
	if err != nil {
		t.Fatalf("register() failed: %v", err)
	}
	if uid == 0 {
		t.Fatal("register() returned reserved uid 0")
	}

	entry, ok := pt.take(uid)
	if !ok {
		t.Fatal("take() = false on first call, want true")
	}
	if entry.result != ch {
		t.Error("take() returned an entry whose channel differs from the one register() returned")
	}

	if _, ok := pt.take(uid); ok {
		t.Error("take() = true on second call for the same uid, want false (at-most-once)")
	}
}

func TestPendingTableTakeUnknownUID(t *testing.T) {
	pt := newPendingTable()
	if _, ok := pt.take(12345); ok {
		t.Error("take() on never-registered uid = true, want false")
	}
}

func TestPendingTableFailAllPoisonsFutureRegisters(t *testing.T) {
	pt := newPendingTable()

	_, ch1, err := pt.register(nil)
	if err != nil {
		t.Fatalf("register() before failAll: %v", err)
	}

	wantErr := &TransportError{}
	pt.failAll(wantErr)

	select {
	case res := <-ch1:
		if res.err != wantErr {
			t.Errorf("failAll() delivered err %v, want %v", res.err, wantErr)
		}
	default:
		t.Fatal("failAll() did not deliver a result to the awaiter registered before it ran")
	}

	if _, _, err := pt.register(nil); err != wantErr {
		t.Errorf("register() after failAll = %v, want the poison error %v", err, wantErr)
	}
}

func TestPendingTableFailAllIdempotent(t *testing.T) {
	pt := newPendingTable()
	pt.failAll(&TransportError{})
	// A second failAll with a different error must not replace the poison
	// or re-deliver to already-drained awaiters.
	pt.failAll(&ProtocolError{Reason: "should be ignored"})

	if _, _, err := pt.register(nil); err == nil {
		t.Fatal("register() after double failAll succeeded, want the first poison error")
	} else if _, ok := err.(*TransportError); !ok {
		t.Errorf("register() after double failAll returned %T, want the first poison's type", err)
	}
}

func TestPendingTableLen(t *testing.T) {
	pt := newPendingTable()
	if n := pt.len(); n != 0 {
		t.Fatalf("len() on empty table = %d, want 0", n)
	}
	uid1, _, _ := pt.register(nil)
	if _, _, err := pt.register(nil); err != nil {
		t.Fatalf("register() failed: %v", err)
	}
	if n := pt.len(); n != 2 {
		t.Fatalf("len() = %d, want 2", n)
	}
	pt.take(uid1)
	if n := pt.len(); n != 1 {
		t.Fatalf("len() after one take = %d, want 1", n)
	}
}

func TestPendingTableNeverAllocatesUIDZero(t *testing.T) {
	pt := newPendingTable()
	pt.next = -1 // force the wraparound-to-zero branch on the very next allocation
	uid, _, err := pt.register(nil)
	if err != nil {
		t.Fatalf("register() failed: %v", err)
	}
	if uid == 0 {
		t.Error("register() allocated reserved uid 0")
	}
}
