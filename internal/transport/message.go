// Package transport provides voxwire's per-session network channel: the
// binary envelope codec, the JSON connection handshake, and a WebSocket
// channel with liveness detection and bounded, idempotent close.
//
// One [Channel] owns one persistent WebSocket connection. The channel itself
// does not retry, resequence, or reconnect — stale audio is discarded rather
// than recovered, and reconnection belongs to the client collaborator.
package transport

import (
	"encoding/binary"
	"fmt"
)

// MessageType tags the kind of a transport envelope. The byte values are the
// wire encoding.
type MessageType byte

const (
	// TypeData carries one encoded audio frame.
	TypeData MessageType = 1

	// TypeAck acknowledges a data envelope. Seq and TS echo the acknowledged
	// envelope so the sender can sample round-trip time from its own clock.
	TypeAck MessageType = 2

	// TypeKeepalive proves connection liveness during silence.
	TypeKeepalive MessageType = 3

	// TypeClose announces a graceful close. The payload may carry a UTF-8
	// reason.
	TypeClose MessageType = 4
)

// IsValid reports whether t is a recognised message type.
func (t MessageType) IsValid() bool {
	return t >= TypeData && t <= TypeClose
}

// String returns the human-readable name of the type.
func (t MessageType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeAck:
		return "ack"
	case TypeKeepalive:
		return "keepalive"
	case TypeClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// headerSize is the fixed envelope prefix: 1 type byte, 8 seq bytes, 8
// timestamp bytes.
const headerSize = 1 + 8 + 8

// Message is one transport envelope. Data envelopes carry a strictly
// increasing per-session sequence number stamped by the streaming engine;
// TS is a monotonic send timestamp in microseconds.
type Message struct {
	Type    MessageType
	Seq     uint64
	TS      uint64
	Payload []byte
}

// Encode serialises the envelope to its binary wire form: the type byte,
// big-endian seq and timestamp, then the raw payload.
func (m Message) Encode() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint64(buf[1:9], m.Seq)
	binary.BigEndian.PutUint64(buf[9:17], m.TS)
	copy(buf[headerSize:], m.Payload)
	return buf
}

// Decode parses a binary wire message into an envelope. The returned payload
// aliases data; callers that keep it past the next read must copy.
func Decode(data []byte) (Message, error) {
	if len(data) < headerSize {
		return Message{}, fmt.Errorf("transport: message too short: %d bytes", len(data))
	}
	m := Message{
		Type: MessageType(data[0]),
		Seq:  binary.BigEndian.Uint64(data[1:9]),
		TS:   binary.BigEndian.Uint64(data[9:17]),
	}
	if !m.Type.IsValid() {
		return Message{}, fmt.Errorf("transport: unknown message type %d", data[0])
	}
	if len(data) > headerSize {
		m.Payload = data[headerSize:]
	}
	return m, nil
}
