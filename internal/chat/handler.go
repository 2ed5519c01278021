package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/auth"
	"github.com/companionai/chat-gateway/internal/config"
	"github.com/companionai/chat-gateway/internal/observability"
	"github.com/companionai/chat-gateway/internal/room"
	"github.com/companionai/chat-gateway/internal/store"
)

// Handler owns the WebSocket endpoint at /chat/{conversation_id}/ws. It
// authenticates and authorizes the handshake before upgrading, then runs one
// session per connection: a read loop plus at most one background speech task.
type Handler struct {
	cfg      *config.Config
	registry *room.Registry
	verifier auth.Verifier
	store    store.ConversationStore
	orch     *Orchestrator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the chat WebSocket handler
func NewHandler(cfg *config.Config, registry *room.Registry, verifier auth.Verifier, st store.ConversationStore, orch *Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		verifier: verifier,
		store:    st,
		orch:     orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "chat").Logger(),
	}
}

// session is the per-connection state. Only the read loop mutates it; the
// background speech task sees it read-only.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sock    *Socket
	conv    *store.Conversation
	userID  string
	voiceID string
	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := parseConversationID(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	logger := h.logger.With().
		Str("correlation_id", observability.NewCorrelationID()).
		Str("conversation_id", conversationID).
		Logger()

	// Validate before upgrading. The upgrade in reject() exists only to
	// deliver a close code the client can branch on.
	identity, err := h.verifier.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		logger.Warn().Err(err).Msg("handshake auth failed")
		h.reject(w, r, CloseAuthFailed, "Authentication failed", "auth")
		return
	}

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Msg("conversation not found")
			h.reject(w, r, CloseNotFound, "Conversation not found", "not_found")
			return
		}
		logger.Error().Err(err).Msg("conversation lookup failed")
		h.reject(w, r, websocket.CloseInternalServerErr, "Internal error", "internal")
		return
	}
	if conv.UserID != identity.UserID {
		logger.Warn().Str("user_id", identity.UserID).Msg("conversation access denied")
		h.reject(w, r, CloseAccessDenied, "Access denied", "access_denied")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:     ctx,
		cancel:  cancel,
		sock:    NewSocket(conn),
		conv:    conv,
		userID:  identity.UserID,
		voiceID: h.voiceFor(conv),
		metrics: observability.NewSessionMetrics(conversationID),
		logger:  logger.With().Str("user_id", identity.UserID).Logger(),
	}

	s.metrics.RecordSessionStart()
	h.registry.Join(conv.ID, s.userID, s.sock)
	s.logger.Info().Msg("session started")

	defer func() {
		h.registry.Leave(conv.ID, s.userID, s.sock)
		s.metrics.RecordSessionEnd()
		s.sock.Close()
		s.cancel()
		s.logger.Info().Msg("session ended")
	}()

	if err := s.sock.WriteJSON(newConnectedFrame(conv.ID, s.voiceID)); err != nil {
		s.logger.Warn().Err(err).Msg("connected frame failed")
		return
	}

	h.readLoop(s)
}

// readLoop processes client frames until the socket errors or closes
func (h *Handler) readLoop(s *session) {
	for {
		payload, err := s.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.sock.WriteJSON(newErrorFrame("Invalid message format"))
			continue
		}

		switch frame.Type {
		case framePing:
			s.sock.WriteJSON(newPongFrame())

		case frameStopAudio:
			h.registry.CancelSpeech(s.conv.ID, s.userID)

		case frameMessage:
			if !h.handleMessage(s, frame.Content) {
				return
			}

		default:
			s.sock.WriteJSON(newErrorFrame(fmt.Sprintf("Unknown message type: %s", frame.Type)))
		}
	}
}

// handleMessage runs the message pipeline for one user utterance. Persistence
// and reply generation happen synchronously on the read loop; audio streaming
// moves to a background task so the loop can keep servicing stop_audio and
// ping frames. Returns false when the session must end: a failed pipeline has
// no safe default, so it reports once and drives the session to teardown.
func (h *Handler) handleMessage(s *session, content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		s.sock.WriteJSON(newErrorFrame("Message content cannot be empty"))
		return true
	}

	userMsg, assistantMsg, err := h.orch.HandleUserText(s.ctx, s.conv, content, s.metrics)
	if err != nil {
		s.logger.Error().Err(err).Msg("message pipeline failed")
		s.sock.WriteJSON(newErrorFrame("Failed to process message"))
		return false
	}

	s.sock.WriteJSON(newMessageFrame("user_message", userMsg))
	s.sock.WriteJSON(newMessageFrame("assistant_message", assistantMsg))

	// A newer message supersedes the in-flight audio: SetSpeechTask cancels
	// the previous task before recording this one.
	ctx, cancel := context.WithCancel(s.ctx)
	task := h.registry.SetSpeechTask(s.conv.ID, s.userID, cancel)
	go func() {
		defer h.registry.FinishSpeech(s.conv.ID, s.userID, task)
		defer cancel()
		h.orch.StreamReplyAudio(ctx, s.sock, assistantMsg.Content, s.voiceID, s.metrics)
	}()
	return true
}

// reject refuses a handshake with a distinguishing close code. Close codes can
// only travel over an established WebSocket, so the request is upgraded solely
// to deliver the close frame.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, code int, reason, metricReason string) {
	observability.RecordRejectedHandshake(metricReason)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

func (h *Handler) voiceFor(conv *store.Conversation) string {
	if conv.Assistant != nil && conv.Assistant.VoiceID != "" {
		return conv.Assistant.VoiceID
	}
	return h.cfg.XAIDefaultVoice
}

// parseConversationID extracts the id from /chat/{id}/ws
func parseConversationID(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/chat/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/ws")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
