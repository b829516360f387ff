package server_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v4"

	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/journal"
	"github.com/MrWong99/voxwire/internal/server"
	"github.com/MrWong99/voxwire/internal/transport"
	"github.com/MrWong99/voxwire/pkg/audio"
)

const testSecret = "test-signing-secret-of-sufficient-len"

// testFormat keeps frame periods at 1ms so echo round-trips complete quickly.
var testFormat = audio.Format{SampleRate: 8000, Channels: 1, FrameSize: 8}

func testConfig() *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{
			SampleRate:   testFormat.SampleRate,
			Channels:     testFormat.Channels,
			FrameSize:    testFormat.FrameSize,
			RingCapacity: 64,
			Backend:      "pipe",
			Codec:        config.CodecPCM,
		},
		Engine: config.EngineConfig{
			WindowFloor:   1,
			WindowCeiling: 8,
			DrainTimeout:  config.Duration(200 * time.Millisecond),
		},
		Auth: config.AuthConfig{Secret: testSecret},
	}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// newTestServer builds a server on the pipe backend with an in-memory journal
// and returns it alongside its HTTP test listener and journal.
func newTestServer(t *testing.T) (*server.Server, *httptest.Server, *journal.MemoryRecorder) {
	t.Helper()
	rec := journal.NewMemoryRecorder(0)
	srv, err := server.New(context.Background(), testConfig(), server.WithRecorder(rec))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, rec
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	return conn
}

// handshake performs the hello exchange and returns the server's reply error,
// if any.
func handshake(t *testing.T, conn *websocket.Conn, token string, f audio.Format) (transport.Accepted, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hello, err := transport.EncodeHello(transport.Hello{Token: token, Format: f})
	if err != nil {
		t.Fatalf("failed to encode hello: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		t.Fatalf("failed to write hello: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read handshake reply: %v", err)
	}
	return transport.ParseReply(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshake_Accepted(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	accepted, err := handshake(t, conn, signToken(t, "alice"), testFormat)
	if err != nil {
		t.Fatalf("expected accepted, got %v", err)
	}
	if accepted.SessionID == "" {
		t.Error("accepted reply carries no session id")
	}
	if accepted.Format != testFormat {
		t.Errorf("accepted format: got %v, want %v", accepted.Format, testFormat)
	}

	waitFor(t, "session registration", func() bool { return srv.Sessions() == 1 })
}

func TestHandshake_RejectedBadToken(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, err := handshake(t, conn, "not-a-jwt", testFormat)
	var rejected *transport.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Reason == "" {
		t.Error("rejection carries no reason")
	}
}

func TestHandshake_RejectedFormatMismatch(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	other := audio.Format{SampleRate: 16000, Channels: 2, FrameSize: 320}
	_, err := handshake(t, conn, signToken(t, "alice"), other)
	var rejected *transport.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if !strings.Contains(rejected.Reason, "format") {
		t.Errorf("rejection reason should mention the format, got %q", rejected.Reason)
	}
}

func TestHandshake_MalformedHello(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}
	_, err = transport.ParseReply(data)
	var rejected *transport.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
}

func TestStream_EchoesFramesBack(t *testing.T) {
	_, ts, _ := newTestServer(t)

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, err := handshake(t, conn, signToken(t, "alice"), testFormat); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	// A distinctive frame the echo loop must eventually return.
	marker := make([]int16, testFormat.SamplesPerFrame())
	for i := range marker {
		marker[i] = 1000
	}
	payload := audio.SamplesToBytes(marker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame := transport.Message{Type: transport.TypeData, Seq: 1, TS: transport.Timestamp(), Payload: payload}
	if err := conn.Write(ctx, websocket.MessageBinary, frame.Encode()); err != nil {
		t.Fatalf("failed to write data frame: %v", err)
	}

	var gotAck, gotEcho bool
	for !gotAck || !gotEcho {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed (ack=%v echo=%v): %v", gotAck, gotEcho, err)
		}
		m, err := transport.Decode(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		switch m.Type {
		case transport.TypeAck:
			if m.Seq == 1 {
				gotAck = true
			}
		case transport.TypeData:
			// Ack every server frame so its window keeps moving.
			ack := transport.Message{Type: transport.TypeAck, Seq: m.Seq, TS: m.TS}
			if err := conn.Write(ctx, websocket.MessageBinary, ack.Encode()); err != nil {
				t.Fatalf("failed to write ack: %v", err)
			}
			samples, err := audio.BytesToSamples(m.Payload)
			if err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if len(samples) > 0 && samples[0] == 1000 {
				gotEcho = true
			}
		}
	}
}

func TestSession_JournaledOnDisconnect(t *testing.T) {
	srv, ts, rec := newTestServer(t)

	conn := dialStream(t, ts)
	accepted, err := handshake(t, conn, signToken(t, "bob"), testFormat)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	waitFor(t, "session registration", func() bool { return srv.Sessions() == 1 })

	// A graceful close envelope drains the session cleanly.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	closeMsg := transport.Message{Type: transport.TypeClose}
	if err := conn.Write(ctx, websocket.MessageBinary, closeMsg.Encode()); err != nil {
		t.Fatalf("failed to write close: %v", err)
	}

	waitFor(t, "session teardown", func() bool { return srv.Sessions() == 0 })
	conn.Close(websocket.StatusNormalClosure, "")

	entries, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SessionID != accepted.SessionID {
		t.Errorf("journal session id: got %q, want %q", e.SessionID, accepted.SessionID)
	}
	if e.Subject != "bob" {
		t.Errorf("journal subject: got %q, want %q", e.Subject, "bob")
	}
	if e.ClosedAt.IsZero() {
		t.Error("journal entry has no close time")
	}
}

func TestSession_FailureOutcomeOnAbruptDisconnect(t *testing.T) {
	srv, ts, rec := newTestServer(t)

	conn := dialStream(t, ts)
	if _, err := handshake(t, conn, signToken(t, "carol"), testFormat); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	waitFor(t, "session registration", func() bool { return srv.Sessions() == 1 })

	// Kill the TCP connection without a close handshake.
	conn.CloseNow()

	waitFor(t, "session teardown", func() bool { return srv.Sessions() == 0 })

	entries, err := rec.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	if entries[0].Outcome != journal.OutcomeFailed {
		t.Errorf("outcome: got %q, want %q", entries[0].Outcome, journal.OutcomeFailed)
	}
	if entries[0].Reason == "" {
		t.Error("failed entry carries no reason")
	}
}

func TestServer_SetRevokedRejectsToken(t *testing.T) {
	rec := journal.NewMemoryRecorder(0)
	srv, err := server.New(context.Background(), testConfig(), server.WithRecorder(rec))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	claims := jwt.RegisteredClaims{
		ID:        "revoked-id",
		Subject:   "mallory",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	srv.SetRevoked([]string{"revoked-id"})

	conn := dialStream(t, ts)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, err = handshake(t, conn, token, testFormat)
	var rejected *transport.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError for revoked token, got %v", err)
	}
}
