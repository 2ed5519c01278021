package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements ConversationStore against the conversation
// database. Schema ownership (models, migrations) lives with the CRUD
// service; this store only reads conversations and appends messages.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a store to the conversation database
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to conversation store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping verifies database connectivity, for readiness checks
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetConversation loads a conversation and its assistant's tone and voice
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const q = `
		SELECT c.id, c.user_id, c.assistant_id, c.title,
		       COALESCE(c.letta_agent_id, ''),
		       a.id, a.name, COALESCE(a.tone, ''),
		       COALESCE(a.voice_settings->>'voiceId', '')
		FROM conversations c
		JOIN assistants a ON a.id = c.assistant_id
		WHERE c.id = $1`

	conv := &Conversation{Assistant: &Assistant{}}
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&conv.ID, &conv.UserID, &conv.AssistantID, &conv.Title,
		&conv.AgentID,
		&conv.Assistant.ID, &conv.Assistant.Name, &conv.Assistant.Tone,
		&conv.Assistant.VoiceID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// AddMessage appends one message to the conversation
func (s *PostgresStore) AddMessage(ctx context.Context, conv *Conversation, role, content string) (*Message, error) {
	const q = `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, conversation_id, role, content, COALESCE(audio_url, ''), created_at`

	msg := &Message{}
	err := s.pool.QueryRow(ctx, q, conv.ID, role, content).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.AudioURL, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add %s message to conversation %s: %w", role, conv.ID, err)
	}
	return msg, nil
}
