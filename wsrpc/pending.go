// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"reflect"
	"sync"
)

// pendingEntry correlates one outstanding outbound request with the
// goroutine awaiting its response.
type pendingEntry struct {
	returnType reflect.Type
	result     chan pendingResult
}

// pendingResult is delivered exactly once to a pendingEntry's result
// channel: either a decoded value, a remote error, or a connection-loss
// error.
type pendingResult struct {
	value any
	err   error
}

// pendingTable is the thread-safe map from uid to pendingEntry described in
// SPEC_FULL.md §4.2. Ids are drawn from a monotonically increasing counter
// truncated into the header's 32-bit id space; a short linear probe
// resolves collisions.
type pendingTable struct {
	mu      sync.Mutex
	next    int32
	entries map[int32]*pendingEntry
	poison  error // non-nil once poisoned; register then fails immediately
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int32]*pendingEntry)}
}

// maxRegisterProbe bounds the collision retry; it is unreachable in
// practice (spec.md §4.2) given a 32-bit id space and any realistic number
// of outstanding calls, but a hard cap keeps register() from spinning
// forever if something is badly wrong.
const maxRegisterProbe = 1 << 16

// register allocates a fresh uid and an awaiter for returnType. It is the
// only way to allocate ids; the id is allocated before the caller enqueues
// the request, so a response can never race its own registration
// (SPEC_FULL.md §5 ordering guarantee (b)).
func (t *pendingTable) register(returnType reflect.Type) (int32, chan pendingResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.poison != nil {
		return 0, nil, t.poison
	}

	for i := 0; i < maxRegisterProbe; i++ {
		t.next++
		if t.next == 0 {
			t.next = 1 // uid 0 means "absent"; never allocate it
		}
		uid := t.next
		assert(uid != 0, "pendingTable: allocated reserved uid 0")
		if _, taken := t.entries[uid]; taken {
			continue
		}
		entry := &pendingEntry{
			returnType: returnType,
			result:     make(chan pendingResult, 1),
		}
		t.entries[uid] = entry
		return uid, entry.result, nil
	}
	return 0, nil, &TransientError{Reason: "pending-request id space saturated"}
}

// take removes and returns the entry for uid, at-most-once. The second
// return value is false if uid was never registered or was already taken.
func (t *pendingTable) take(uid int32) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[uid]
	if !ok {
		return nil, false
	}
	delete(t.entries, uid)
	return e, true
}

// len reports the number of currently-registered awaiters. Used by the
// connection state machine to report pending counts (wsrpc/stats.go).
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// failAll atomically marks the table poisoned with err, fails every
// pending completion, and ensures subsequent register calls fail
// immediately with the same error. Poisoning is irreversible.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	if t.poison != nil {
		t.mu.Unlock()
		return
	}
	t.poison = err
	entries := t.entries
	t.entries = make(map[int32]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.result <- pendingResult{err: err}
	}
}
