package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/config"
)

func TestResolveVoice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ara", "ara"},
		{"rex", "rex"},
		{"leo", "leo"},
		{"", "ara"},
		{"bogus", "ara"},
		{"ARA", "ara"},
	}

	for _, tt := range tests {
		if got := ResolveVoice(tt.in); got != tt.want {
			t.Errorf("ResolveVoice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeSpeechServer runs handle on each upgraded connection and returns a
// client configured to dial it.
func fakeSpeechServer(t *testing.T, handle func(t *testing.T, conn *websocket.Conn)) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got %q", got)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(t, conn)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		XAIAPIKey:      "test-key",
		XAISpeechWSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	return NewClient(cfg, zerolog.Nop())
}

// readHandshake consumes and returns the config and text_chunk frames the
// client is expected to send first.
func readHandshake(t *testing.T, conn *websocket.Conn) (configFrame, textFrame) {
	t.Helper()

	var cfg configFrame
	if err := conn.ReadJSON(&cfg); err != nil {
		t.Fatalf("read config frame: %v", err)
	}
	if cfg.Type != "config" {
		t.Errorf("Expected first frame type 'config', got %q", cfg.Type)
	}

	var txt textFrame
	if err := conn.ReadJSON(&txt); err != nil {
		t.Fatalf("read text frame: %v", err)
	}
	if txt.Type != "text_chunk" {
		t.Errorf("Expected second frame type 'text_chunk', got %q", txt.Type)
	}
	if !txt.Data.IsLast {
		t.Error("Expected text chunk marked is_last")
	}

	return cfg, txt
}

func writeAudioFrame(t *testing.T, conn *websocket.Conn, audio string, isLast bool) {
	t.Helper()
	var frame audioFrame
	frame.Data.Data.Audio = audio
	frame.Data.Data.IsLast = isLast
	payload, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Errorf("write audio frame: %v", err)
	}
}

func collect(t *testing.T, s *Stream) []Chunk {
	t.Helper()
	var chunks []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

func TestStreamSpeech_FullStream(t *testing.T) {
	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		cfg, txt := readHandshake(t, conn)
		if cfg.Data.VoiceID != "rex" {
			t.Errorf("Expected voice 'rex', got %q", cfg.Data.VoiceID)
		}
		if txt.Data.Text != "Hello there" {
			t.Errorf("Expected text 'Hello there', got %q", txt.Data.Text)
		}

		writeAudioFrame(t, conn, "Y2h1bmsx", false)
		writeAudioFrame(t, conn, "Y2h1bmsy", false)
		writeAudioFrame(t, conn, "Y2h1bmsz", true)
	})

	stream, err := client.StreamSpeech(context.Background(), "Hello there", "rex")
	if err != nil {
		t.Fatalf("StreamSpeech failed: %v", err)
	}

	chunks := collect(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks[:2] {
		if chunk.IsLast {
			t.Errorf("chunk %d unexpectedly marked last", i)
		}
	}
	if !chunks[2].IsLast {
		t.Error("Expected terminal chunk marked IsLast")
	}
	if chunks[2].Audio != "Y2h1bmsz" {
		t.Errorf("Expected terminal audio 'Y2h1bmsz', got %q", chunks[2].Audio)
	}
}

func TestStreamSpeech_UnknownVoiceFallsBack(t *testing.T) {
	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		cfg, _ := readHandshake(t, conn)
		if cfg.Data.VoiceID != DefaultVoice {
			t.Errorf("Expected default voice %q, got %q", DefaultVoice, cfg.Data.VoiceID)
		}
		writeAudioFrame(t, conn, "YXVkaW8=", true)
	})

	stream, err := client.StreamSpeech(context.Background(), "hi", "no-such-voice")
	if err != nil {
		t.Fatalf("StreamSpeech failed for unknown voice: %v", err)
	}

	chunks := collect(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].IsLast {
		t.Fatalf("Expected exactly one terminal chunk, got %+v", chunks)
	}
}

func TestStreamSpeech_EmptyFinalFrame(t *testing.T) {
	// A terminal frame with no audio ends the stream without yielding a chunk.
	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		readHandshake(t, conn)
		writeAudioFrame(t, conn, "YXVkaW8=", false)
		writeAudioFrame(t, conn, "", true)
	})

	stream, err := client.StreamSpeech(context.Background(), "hi", "ara")
	if err != nil {
		t.Fatalf("StreamSpeech failed: %v", err)
	}

	chunks := collect(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("stream ended with error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].IsLast {
		t.Error("Only chunk should not be marked last; termination came from the empty frame")
	}
}

func TestStreamSpeech_Cancellation(t *testing.T) {
	serverSawClose := make(chan struct{})

	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		readHandshake(t, conn)
		writeAudioFrame(t, conn, "Y2h1bmsx", false)
		// Block until the client closes the upstream socket
		conn.ReadMessage()
		close(serverSawClose)
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamSpeech(ctx, "hi", "ara")
	if err != nil {
		t.Fatalf("StreamSpeech failed: %v", err)
	}

	select {
	case <-stream.Chunks():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	cancel()

	// Channel closes promptly with the context error
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-stream.Chunks():
			open = ok
		case <-timeout:
			t.Fatal("stream did not end after cancellation")
		}
	}

	if err := stream.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	// Upstream socket must be closed, not leaked
	select {
	case <-serverSawClose:
	case <-time.After(5 * time.Second):
		t.Error("upstream socket was not closed after cancellation")
	}
}

func TestStreamSpeech_UnexpectedClose(t *testing.T) {
	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		readHandshake(t, conn)
		writeAudioFrame(t, conn, "Y2h1bmsx", false)
		// Abrupt close, no close handshake
		conn.UnderlyingConn().Close()
	})

	stream, err := client.StreamSpeech(context.Background(), "hi", "ara")
	if err != nil {
		t.Fatalf("StreamSpeech failed: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk before failure, got %d", len(chunks))
	}

	var streamErr *StreamError
	if !errors.As(stream.Err(), &streamErr) {
		t.Fatalf("Expected StreamError, got %v", stream.Err())
	}
	if !streamErr.UnexpectedClose {
		t.Errorf("Expected UnexpectedClose set, got %v", streamErr)
	}
}

func TestStreamSpeech_MalformedFrameIsFatal(t *testing.T) {
	client := fakeSpeechServer(t, func(t *testing.T, conn *websocket.Conn) {
		readHandshake(t, conn)
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		// Stays available; the client must bail regardless
		writeAudioFrame(t, conn, "Y2h1bmsx", true)
	})

	stream, err := client.StreamSpeech(context.Background(), "hi", "ara")
	if err != nil {
		t.Fatalf("StreamSpeech failed: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 0 {
		t.Fatalf("Expected no chunks after malformed frame, got %d", len(chunks))
	}

	var streamErr *StreamError
	if !errors.As(stream.Err(), &streamErr) {
		t.Fatalf("Expected StreamError, got %v", stream.Err())
	}
	if streamErr.UnexpectedClose {
		t.Error("Malformed frame should be a generic failure, not an unexpected close")
	}
}

func TestStreamSpeech_DialFailure(t *testing.T) {
	cfg := &config.Config{
		XAIAPIKey:      "test-key",
		XAISpeechWSURL: "ws://127.0.0.1:1", // nothing listening
	}
	client := NewClient(cfg, zerolog.Nop())

	_, err := client.StreamSpeech(context.Background(), "hi", "ara")
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected StreamError from dial failure, got %v", err)
	}
}
