package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/config"
)

// Client streams synthesized speech from the xAI realtime audio API. One
// upstream WebSocket is opened per StreamSpeech call; streams are finite and
// not restartable.
type Client struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// configFrame is the first frame sent upstream, carrying the resolved voice.
type configFrame struct {
	Type string `json:"type"`
	Data struct {
		VoiceID string `json:"voice_id"`
	} `json:"data"`
}

// textFrame carries the full utterance in a single chunk; no incremental
// input streaming.
type textFrame struct {
	Type string `json:"type"`
	Data struct {
		Text   string `json:"text"`
		IsLast bool   `json:"is_last"`
	} `json:"data"`
}

// audioFrame is the upstream response shape; audio payloads are nested two
// levels deep.
type audioFrame struct {
	Data struct {
		Data struct {
			Audio  string `json:"audio"`
			IsLast bool   `json:"is_last"`
		} `json:"data"`
	} `json:"data"`
}

// NewClient creates a speech streaming client
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		url:    cfg.XAISpeechWSURL,
		apiKey: cfg.XAIAPIKey,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		logger: logger.With().Str("component", "speech").Logger(),
	}
}

// Stream is a lazy, finite sequence of audio chunks. Consume Chunks() until it
// closes, then check Err(). A canceled context surfaces as the context's error,
// not a StreamError.
type Stream struct {
	chunks chan Chunk
	done   chan struct{}
	err    error
}

// Chunks returns the channel of audio chunks, closed when the stream ends for
// any reason.
func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Err reports why the stream ended. It is valid once Chunks() has been closed
// and returns nil for a normal end-of-stream.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// StreamSpeech opens an upstream speech socket for text and returns the chunk
// stream. An unrecognized voiceID is replaced by the default voice, never
// rejected. Canceling ctx closes the upstream socket promptly.
func (c *Client) StreamSpeech(ctx context.Context, text, voiceID string) (*Stream, error) {
	voice := ResolveVoice(voiceID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, &StreamError{Err: fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)}
		}
		return nil, &StreamError{Err: fmt.Errorf("dial %s: %w", c.url, err)}
	}

	cfgMsg := configFrame{Type: "config"}
	cfgMsg.Data.VoiceID = voice
	if err := conn.WriteJSON(cfgMsg); err != nil {
		conn.Close()
		return nil, &StreamError{Err: fmt.Errorf("send config: %w", err)}
	}

	txtMsg := textFrame{Type: "text_chunk"}
	txtMsg.Data.Text = text
	txtMsg.Data.IsLast = true
	if err := conn.WriteJSON(txtMsg); err != nil {
		conn.Close()
		return nil, &StreamError{Err: fmt.Errorf("send text: %w", err)}
	}

	c.logger.Debug().
		Int("text_len", len(text)).
		Str("voice", voice).
		Msg("speech stream opened")

	s := &Stream{
		chunks: make(chan Chunk, 16),
		done:   make(chan struct{}),
	}

	// Closing the conn is the only way to unblock a pending read, so a
	// watcher turns ctx cancellation into a prompt socket close.
	pumpDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-pumpDone:
		}
	}()

	go func() {
		defer close(s.done)
		defer close(s.chunks)
		defer close(pumpDone)
		defer conn.Close()
		s.err = c.pump(ctx, conn, s.chunks)
	}()

	return s, nil
}

// pump reads upstream frames and forwards audio chunks until the terminal
// chunk, an error, or cancellation.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, out chan<- Chunk) error {
	count := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation, not failure
				c.logger.Debug().Int("chunks", count).Msg("speech stream canceled")
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return &StreamError{UnexpectedClose: true, Err: err}
			}
			return &StreamError{Err: fmt.Errorf("read: %w", err)}
		}

		var frame audioFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Malformed frames are fatal for the whole stream
			return &StreamError{Err: fmt.Errorf("malformed frame: %w", err)}
		}

		audio := frame.Data.Data.Audio
		isLast := frame.Data.Data.IsLast

		if audio != "" {
			count++
			select {
			case out <- Chunk{Audio: audio, IsLast: isLast}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if isLast {
			// Done, even if the upstream socket stays open
			c.logger.Debug().Int("chunks", count).Msg("speech stream complete")
			return nil
		}
	}
}
