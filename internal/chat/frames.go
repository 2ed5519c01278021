package chat

import (
	"time"

	"github.com/companionai/chat-gateway/internal/store"
)

// Close codes distinguishing handshake failure causes, so clients can branch
// on why they were rejected.
const (
	CloseAuthFailed   = 4001
	CloseAccessDenied = 4003
	CloseNotFound     = 4004
)

// Client frame types
const (
	frameMessage   = "message"
	frameStopAudio = "stop_audio"
	framePing      = "ping"
)

// clientFrame is the single decode point for client traffic
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Server frames

type connectedFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	VoiceID        string `json:"voice_id"`
}

func newConnectedFrame(conversationID, voiceID string) connectedFrame {
	return connectedFrame{Type: "connected", ConversationID: conversationID, VoiceID: voiceID}
}

type pongFrame struct {
	Type string `json:"type"`
}

func newPongFrame() pongFrame {
	return pongFrame{Type: "pong"}
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorFrame(message string) errorFrame {
	return errorFrame{Type: "error", Message: message}
}

// messageFrame carries a persisted chat message (user_message or
// assistant_message).
type messageFrame struct {
	Type    string         `json:"type"`
	Message messagePayload `json:"message"`
}

type messagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	AudioURL       string `json:"audioUrl"`
	CreatedAt      string `json:"createdAt"`
}

func newMessageFrame(frameType string, msg *store.Message) messageFrame {
	return messageFrame{
		Type: frameType,
		Message: messagePayload{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			AudioURL:       msg.AudioURL,
			CreatedAt:      msg.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// audioChunkFrame carries one base64 chunk of PCM linear16 24kHz mono audio
type audioChunkFrame struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	IsLast bool   `json:"is_last"`
}

func newAudioChunkFrame(audio string, isLast bool) audioChunkFrame {
	return audioChunkFrame{Type: "audio_chunk", Audio: audio, IsLast: isLast}
}
