package transport

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// Handshake message type tags. The handshake is the only JSON (text) exchange
// on the connection; everything after it is binary envelopes.
const (
	helloType    = "hello"
	acceptedType = "accepted"
	rejectedType = "rejected"
)

// Hello is the client's opening handshake message: the bearer token and the
// stream format it intends to send.
type Hello struct {
	Token  string       `json:"token"`
	Format audio.Format `json:"format"`
}

// Accepted is the server's positive handshake reply.
type Accepted struct {
	SessionID string       `json:"session_id"`
	Format    audio.Format `json:"format"`
}

// Rejected is the server's negative handshake reply. Reason is one of the
// auth reason strings.
type Rejected struct {
	Reason string `json:"reason"`
}

// RejectedError is returned by [ParseReply] when the server refused the
// connection.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transport: connection rejected: %s", e.Reason)
}

// controlFrame is the wire shape shared by all handshake messages.
type controlFrame struct {
	Type      string      `json:"type"`
	Token     string      `json:"token,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Format    *formatSpec `json:"format,omitempty"`
}

// formatSpec is the wire form of an [audio.Format].
type formatSpec struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	FrameSize  int `json:"frame_size"`
}

func specOf(f audio.Format) *formatSpec {
	return &formatSpec{SampleRate: f.SampleRate, Channels: f.Channels, FrameSize: f.FrameSize}
}

func (s *formatSpec) format() audio.Format {
	return audio.Format{SampleRate: s.SampleRate, Channels: s.Channels, FrameSize: s.FrameSize}
}

// EncodeHello serialises a client hello.
func EncodeHello(h Hello) ([]byte, error) {
	return json.Marshal(controlFrame{
		Type:   helloType,
		Token:  h.Token,
		Format: specOf(h.Format),
	})
}

// EncodeAccepted serialises a server accept reply.
func EncodeAccepted(a Accepted) ([]byte, error) {
	return json.Marshal(controlFrame{
		Type:      acceptedType,
		SessionID: a.SessionID,
		Format:    specOf(a.Format),
	})
}

// EncodeRejected serialises a server reject reply.
func EncodeRejected(r Rejected) ([]byte, error) {
	return json.Marshal(controlFrame{
		Type:   rejectedType,
		Reason: r.Reason,
	})
}

// ParseHello parses the client's opening message on the server side.
func ParseHello(data []byte) (Hello, error) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Hello{}, fmt.Errorf("transport: parse hello: %w", err)
	}
	if f.Type != helloType {
		return Hello{}, fmt.Errorf("transport: expected %q message, got %q", helloType, f.Type)
	}
	if f.Token == "" {
		return Hello{}, fmt.Errorf("transport: hello is missing a token")
	}
	h := Hello{Token: f.Token}
	if f.Format != nil {
		h.Format = f.Format.format()
	}
	if err := h.Format.Validate(); err != nil {
		return Hello{}, fmt.Errorf("transport: hello format: %w", err)
	}
	return h, nil
}

// ParseReply parses the server's handshake reply on the client side. A
// rejected reply is returned as *[RejectedError].
func ParseReply(data []byte) (Accepted, error) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Accepted{}, fmt.Errorf("transport: parse handshake reply: %w", err)
	}
	switch f.Type {
	case acceptedType:
		a := Accepted{SessionID: f.SessionID}
		if f.Format != nil {
			a.Format = f.Format.format()
		}
		return a, nil
	case rejectedType:
		return Accepted{}, &RejectedError{Reason: f.Reason}
	default:
		return Accepted{}, fmt.Errorf("transport: unexpected handshake reply type %q", f.Type)
	}
}
