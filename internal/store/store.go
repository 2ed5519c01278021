package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// Assistant carries the settings the relay needs: the reply tone for fallback
// responses and the configured voice.
type Assistant struct {
	ID      string
	Name    string
	Tone    string
	VoiceID string // empty when the assistant has no voice configured
}

// Conversation is one chat thread. The relay never creates or deletes
// conversations; it only reads them and appends messages.
type Conversation struct {
	ID          string
	UserID      string
	AssistantID string
	Title       string
	AgentID     string // external agent handle; empty when none is associated
	Assistant   *Assistant
}

// Message is one persisted chat message
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	AudioURL       string
	CreatedAt      time.Time
}

// ConversationStore is the external conversation persistence collaborator
type ConversationStore interface {
	// GetConversation loads a conversation with its assistant settings.
	// Returns ErrNotFound when the id does not exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// AddMessage persists one message on the conversation and returns the
	// stored record.
	AddMessage(ctx context.Context, conv *Conversation, role, content string) (*Message, error)
}
