package websocket

import (
	"reflect"
	"testing"
)

func TestValidCloseCode(t *testing.T) {
	tests := []struct {
		code StatusCode
		want bool
	}{
		{StatusNormalClosure, true},
		{StatusGoingAway, true},
		{StatusInternalError, true},
		{statusReserved1004, false},
		{StatusNoStatusReceived, false},
		{StatusAbnormalClosure, false},
		{StatusTLSHandshake, false},
		{StatusCode(1012), false},
		{StatusCode(3000), true},
		{StatusCode(4999), true},
		{StatusCode(5000), false},
		{StatusCode(999), false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := validCloseCode(tt.code); got != tt.want {
				t.Errorf("validCloseCode(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantCode   StatusCode
		wantReason []byte
		wantOK     bool
	}{
		{name: "empty", payload: nil, wantCode: StatusNormalClosure, wantOK: true},
		{name: "single_byte", payload: []byte{0x03}, wantCode: StatusProtocolError, wantOK: false},
		{
			name:       "code_and_reason",
			payload:    append([]byte{0x03, 0xe8}, "bye"...),
			wantCode:   StatusNormalClosure,
			wantReason: []byte("bye"),
			wantOK:     true,
		},
		{
			name:     "invalid_code",
			payload:  []byte{0x03, 0xec}, // 1004
			wantCode: StatusProtocolError,
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason, ok := parseClosePayload(tt.payload)
			if code != tt.wantCode || ok != tt.wantOK {
				t.Errorf("parseClosePayload() = (%v, %v, %v), want (%v, _, %v)", code, reason, ok, tt.wantCode, tt.wantOK)
			}
			if tt.wantReason != nil && !reflect.DeepEqual(reason, tt.wantReason) {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestEncodeClosePayloadTruncatesReason(t *testing.T) {
	longReason := make([]byte, 200)
	for i := range longReason {
		longReason[i] = 'a'
	}

	payload := encodeClosePayload(StatusNormalClosure, string(longReason))
	if len(payload) > maxControlPayload {
		t.Errorf("encodeClosePayload() length = %d, want <= %d", len(payload), maxControlPayload)
	}

	code, reason, ok := parseClosePayload(payload)
	if !ok || code != StatusNormalClosure {
		t.Fatalf("round-trip parse failed: code=%v ok=%v", code, ok)
	}
	if len(reason) != maxCloseReason {
		t.Errorf("reason length = %d, want %d", len(reason), maxCloseReason)
	}
}

func TestEncodeClosePayloadRoundTrip(t *testing.T) {
	payload := encodeClosePayload(StatusGoingAway, "server shutting down")
	code, reason, ok := parseClosePayload(payload)
	if !ok {
		t.Fatalf("parseClosePayload() ok = false")
	}
	if code != StatusGoingAway {
		t.Errorf("code = %v, want %v", code, StatusGoingAway)
	}
	if string(reason) != "server shutting down" {
		t.Errorf("reason = %q", reason)
	}
}
