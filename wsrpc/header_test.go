// Copyright 2026 The wsrpc Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package wsrpc

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderMarshalParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		h    Header
	}{
		{
			name: "request with args",
			h: Header{
				Status:          StatusRequest,
				UID:             42,
				ActionName:      "Chat/SendMessage",
				PayloadEncoding: "json",
				PayloadLength:   17,
			},
		},
		{
			name: "notification (no uid)",
			h: Header{
				Status:          StatusRequest,
				ActionName:      "Home/Ping",
				PayloadEncoding: "json",
			},
		},
		{
			name: "ok response",
			h: Header{
				Status:          StatusOk,
				UID:             7,
				PayloadEncoding: "protobuf",
				PayloadLength:   3,
			},
		},
		{
			name: "error response with negative uid",
			h: Header{
				Status: StatusNotFound,
				UID:    -5,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.h.Marshal()
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			if len(data) > MaxHeaderBytes {
				t.Fatalf("Marshal() produced %d bytes, want <= %d", len(data), MaxHeaderBytes)
			}
			got, err := ParseHeader(data)
			if err != nil {
				t.Fatalf("ParseHeader() failed: %v", err)
			}
			if diff := cmp.Diff(tc.h, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHeaderValidate(t *testing.T) {
	cases := []struct {
		name    string
		h       Header
		wantErr bool
	}{
		{name: "request missing action name", h: Header{Status: StatusRequest}, wantErr: true},
		{name: "request with action name ok", h: Header{Status: StatusRequest, ActionName: "X"}, wantErr: false},
		{name: "response with action name", h: Header{Status: StatusOk, UID: 1, ActionName: "X"}, wantErr: true},
		{name: "response missing uid", h: Header{Status: StatusOk}, wantErr: true},
		{name: "response ok", h: Header{Status: StatusOk, UID: 1}, wantErr: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.h.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHeaderHasUIDAndIsRequest(t *testing.T) {
	req := Header{Status: StatusRequest, ActionName: "X"}
	if !req.IsRequest() {
		t.Error("IsRequest() = false, want true")
	}
	if req.HasUID() {
		t.Error("HasUID() = true, want false for a uid-less notification header")
	}

	resp := Header{Status: StatusOk, UID: 9}
	if resp.IsRequest() {
		t.Error("IsRequest() = true, want false")
	}
	if !resp.HasUID() {
		t.Error("HasUID() = false, want true")
	}
}

func TestParseHeaderRejectsUnknownTag(t *testing.T) {
	buf := appendTag(nil, 99)
	buf = binary.AppendUvarint(buf, 1)
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("ParseHeader() with unknown tag succeeded, want error")
	}
}

func TestParseHeaderRejectsTruncatedString(t *testing.T) {
	var buf []byte
	buf = appendVarintField(buf, tagStatus, uint64(StatusRequest))
	buf = appendTag(buf, tagActionName)
	buf = binary.AppendUvarint(buf, 10) // claims 10 bytes, provides none
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("ParseHeader() with truncated string succeeded, want error")
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusOk.String(); got != "Ok" {
		t.Errorf("StatusOk.String() = %q, want %q", got, "Ok")
	}
	if got := Status(200).String(); !strings.Contains(got, "200") {
		t.Errorf("unknown Status.String() = %q, want it to mention the numeric value", got)
	}
}
