package transport

import (
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"data", Message{Type: TypeData, Seq: 42, TS: 1234567, Payload: []byte{0x01, 0x02, 0x03}}},
		{"ack no payload", Message{Type: TypeAck, Seq: 42, TS: 1234567}},
		{"keepalive", Message{Type: TypeKeepalive, TS: 99}},
		{"close with reason", Message{Type: TypeClose, Payload: []byte("drained")}},
		{"max seq", Message{Type: TypeData, Seq: ^uint64(0), TS: ^uint64(0), Payload: []byte{0xff}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.msg.Encode())
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != tc.msg.Type || got.Seq != tc.msg.Seq || got.TS != tc.msg.TS {
				t.Errorf("header mismatch: got %+v want %+v", got, tc.msg)
			}
			if len(got.Payload) != len(tc.msg.Payload) {
				t.Fatalf("payload length %d, want %d", len(got.Payload), len(tc.msg.Payload))
			}
			for i := range got.Payload {
				if got.Payload[i] != tc.msg.Payload[i] {
					t.Fatalf("payload[%d] = %#x, want %#x", i, got.Payload[i], tc.msg.Payload[i])
				}
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"short header", make([]byte, headerSize-1)},
		{"unknown type", append([]byte{0xee}, make([]byte, headerSize-1)...)},
		{"zero type", make([]byte, headerSize)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); err == nil {
				t.Error("Decode accepted malformed input")
			}
		})
	}
}

func TestDecodePayloadAliases(t *testing.T) {
	buf := Message{Type: TypeData, Seq: 1, Payload: []byte{7, 8, 9}}.Encode()
	m, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	buf[headerSize] = 0x55
	if m.Payload[0] != 0x55 {
		t.Error("expected decoded payload to alias the input buffer")
	}
}

func TestMessageTypeValidity(t *testing.T) {
	for _, mt := range []MessageType{TypeData, TypeAck, TypeKeepalive, TypeClose} {
		if !mt.IsValid() {
			t.Errorf("%v should be valid", mt)
		}
	}
	if MessageType(0).IsValid() || MessageType(5).IsValid() {
		t.Error("out-of-range types should be invalid")
	}
}

var errSentinel = errors.New("sentinel")

func TestTransportErrorUnwrap(t *testing.T) {
	terr := &TransportError{Op: "read", Err: errSentinel}
	if !errors.Is(terr, errSentinel) {
		t.Error("TransportError should unwrap to the underlying error")
	}
}
