// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"crypto/rand"
	"reflect"

	internaljson "github.com/bridgerpc/wsrpc/internal/json"
)

func stdJSONMarshal(v any) ([]byte, error) {
	return internaljson.Marshal(v)
}

func stdJSONUnmarshal(data []byte, v any) error {
	return internaljson.Unmarshal(data, v)
}

// randText returns a short random identifier, used for connection and
// session labels where collisions only need to be astronomically unlikely,
// not cryptographically unpredictable.
func randText() string {
	return rand.Text()
}

// newValuePtr returns a freshly allocated *t wrapped as any, the target a
// response payload is unmarshaled into before being handed back to the
// pending-table awaiter as its declared return type.
func newValuePtr(t reflect.Type) any {
	return reflect.New(t).Interface()
}

// assert panics with msg if cond is false. Reserved for invariants that
// indicate a bug in this package, never for validating caller input.
func assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
