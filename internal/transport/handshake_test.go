package transport

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxwire/pkg/audio"
)

var handshakeFormat = audio.Format{SampleRate: 48000, Channels: 1, FrameSize: 480}

func TestHelloRoundTrip(t *testing.T) {
	data, err := EncodeHello(Hello{Token: "abc.def.ghi", Format: handshakeFormat})
	if err != nil {
		t.Fatalf("EncodeHello: %v", err)
	}
	if !strings.Contains(string(data), `"sample_rate":48000`) {
		t.Errorf("hello should carry snake_case format fields: %s", data)
	}

	h, err := ParseHello(data)
	if err != nil {
		t.Fatalf("ParseHello: %v", err)
	}
	if h.Token != "abc.def.ghi" {
		t.Errorf("token = %q", h.Token)
	}
	if h.Format != handshakeFormat {
		t.Errorf("format = %+v, want %+v", h.Format, handshakeFormat)
	}
}

func TestParseHelloErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "hello there"},
		{"wrong type", `{"type":"accepted","session_id":"x"}`},
		{"missing token", `{"type":"hello","format":{"sample_rate":48000,"channels":1,"frame_size":480}}`},
		{"bad format", `{"type":"hello","token":"t","format":{"sample_rate":0,"channels":1,"frame_size":480}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseHello([]byte(tc.data)); err == nil {
				t.Error("ParseHello accepted malformed hello")
			}
		})
	}
}

func TestParseReplyAccepted(t *testing.T) {
	data, err := EncodeAccepted(Accepted{SessionID: "sess-1", Format: handshakeFormat})
	if err != nil {
		t.Fatalf("EncodeAccepted: %v", err)
	}
	acc, err := ParseReply(data)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if acc.SessionID != "sess-1" {
		t.Errorf("session id = %q", acc.SessionID)
	}
	if acc.Format != handshakeFormat {
		t.Errorf("format = %+v", acc.Format)
	}
}

func TestParseReplyRejected(t *testing.T) {
	data, err := EncodeRejected(Rejected{Reason: "token expired"})
	if err != nil {
		t.Fatalf("EncodeRejected: %v", err)
	}
	_, err = ParseReply(data)
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("ParseReply error = %v, want *RejectedError", err)
	}
	if rej.Reason != "token expired" {
		t.Errorf("reason = %q", rej.Reason)
	}
}

func TestParseReplyGarbage(t *testing.T) {
	if _, err := ParseReply([]byte("{")); err == nil {
		t.Error("ParseReply accepted garbage")
	}
	if _, err := ParseReply([]byte(`{"type":"hello","token":"t"}`)); err == nil {
		t.Error("ParseReply accepted a hello as a reply")
	}
}
