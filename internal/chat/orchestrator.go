package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/observability"
	"github.com/companionai/chat-gateway/internal/room"
	"github.com/companionai/chat-gateway/internal/speech"
	"github.com/companionai/chat-gateway/internal/store"
)

// AgentReplier generates assistant replies. *agent.Client satisfies it in
// production.
type AgentReplier interface {
	Reply(ctx context.Context, agentID, text string) (string, error)
}

// ChunkStream is a finite sequence of synthesized audio chunks
type ChunkStream interface {
	Chunks() <-chan speech.Chunk
	Err() error
}

// SpeechStreamer opens speech streams. Wrap *speech.Client with
// NewSpeechStreamer to satisfy it.
type SpeechStreamer interface {
	StreamSpeech(ctx context.Context, text, voiceID string) (ChunkStream, error)
}

type speechStreamer struct {
	client *speech.Client
}

// NewSpeechStreamer adapts a speech client to the SpeechStreamer interface
func NewSpeechStreamer(client *speech.Client) SpeechStreamer {
	return speechStreamer{client: client}
}

func (s speechStreamer) StreamSpeech(ctx context.Context, text, voiceID string) (ChunkStream, error) {
	return s.client.StreamSpeech(ctx, text, voiceID)
}

// Orchestrator sequences the work triggered by one user message: persist it,
// obtain the assistant's reply, persist that, and stream the reply's audio.
// It holds no per-session state; the handler owns the session.
type Orchestrator struct {
	store  store.ConversationStore
	agent  AgentReplier
	speech SpeechStreamer
	logger zerolog.Logger
}

// NewOrchestrator creates a message orchestrator
func NewOrchestrator(st store.ConversationStore, agent AgentReplier, sp SpeechStreamer, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		agent:  agent,
		speech: sp,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// HandleUserText persists the user's message, produces the assistant reply and
// persists it. The user's message is saved before the agent is consulted, so a
// failed reply never loses user input. Agent failures degrade to a canned
// tone-matched reply rather than erroring the session.
func (o *Orchestrator) HandleUserText(ctx context.Context, conv *store.Conversation, content string, metrics *observability.SessionMetrics) (*store.Message, *store.Message, error) {
	userMsg, err := o.store.AddMessage(ctx, conv, "user", content)
	if err != nil {
		metrics.RecordError("persist", "orchestrator")
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	replyText := o.replyFor(ctx, conv, content, metrics)

	assistantMsg, err := o.store.AddMessage(ctx, conv, "assistant", replyText)
	if err != nil {
		metrics.RecordError("persist", "orchestrator")
		return userMsg, nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return userMsg, assistantMsg, nil
}

func (o *Orchestrator) replyFor(ctx context.Context, conv *store.Conversation, content string, metrics *observability.SessionMetrics) string {
	if conv.AgentID == "" {
		return o.cannedReply(conv, content)
	}

	metrics.RecordAgentStart()
	reply, err := o.agent.Reply(ctx, conv.AgentID, content)
	metrics.RecordAgentEnd(err == nil)
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("conversation_id", conv.ID).
			Str("agent_id", conv.AgentID).
			Msg("agent reply failed, using fallback")
		metrics.RecordError("agent", "orchestrator")
		return o.cannedReply(conv, content)
	}
	return reply
}

// cannedReply is the deterministic reply used when no agent reply is
// available: tone-keyed when the assistant's settings are known, the
// agent-unavailable default otherwise.
func (o *Orchestrator) cannedReply(conv *store.Conversation, content string) string {
	if conv.Assistant == nil {
		return agentUnavailableReply
	}
	return fallbackReply(conv.Assistant.Tone, content)
}

// StreamReplyAudio synthesizes text and forwards audio_chunk frames to conn in
// arrival order. Cancellation (stop_audio, a newer message, or disconnect) ends
// the stream silently; upstream failures surface as a single best-effort error
// frame. The stream is never retried.
func (o *Orchestrator) StreamReplyAudio(ctx context.Context, conn room.Conn, text, voiceID string, metrics *observability.SessionMetrics) {
	metrics.RecordSpeechStart()

	stream, err := o.speech.StreamSpeech(ctx, text, voiceID)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordSpeechEnd("canceled")
			return
		}
		metrics.RecordSpeechEnd("error")
		metrics.RecordError("speech_dial", "orchestrator")
		o.logger.Error().Err(err).Msg("speech stream failed to open")
		conn.WriteJSON(newErrorFrame(speechErrorMessage(err)))
		return
	}

	var sent int64
	for chunk := range stream.Chunks() {
		if err := conn.WriteJSON(newAudioChunkFrame(chunk.Audio, chunk.IsLast)); err != nil {
			// Client socket is gone; the read loop handles teardown
			o.logger.Debug().Err(err).Msg("audio forward failed")
			break
		}
		sent += int64(len(chunk.Audio))
	}
	metrics.RecordAudioBytes(sent)

	switch err := stream.Err(); {
	case err == nil:
		metrics.RecordSpeechEnd("success")
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// Expected: stop_audio, superseded stream, or disconnect
		metrics.RecordSpeechEnd("canceled")
	default:
		metrics.RecordSpeechEnd("error")
		metrics.RecordError("speech_stream", "orchestrator")
		o.logger.Error().Err(err).Msg("speech stream failed")
		conn.WriteJSON(newErrorFrame(speechErrorMessage(err)))
	}
}

func speechErrorMessage(err error) string {
	var streamErr *speech.StreamError
	if errors.As(err, &streamErr) && streamErr.UnexpectedClose {
		return "Connection to TTS service closed unexpectedly"
	}
	return fmt.Sprintf("TTS error: %v", err)
}
