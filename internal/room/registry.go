package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Conn is the minimal socket surface the registry needs. *chat.Socket (a
// write-locked gorilla conn) satisfies it in production; tests use fakes.
type Conn interface {
	WriteJSON(v interface{}) error
}

// SpeechTask is the owned handle for one user's in-flight speech stream.
// Setting a new task for the same user always cancels and supersedes the
// previous one; a task that outlives its registration can no longer evict
// its replacement.
type SpeechTask struct {
	cancel context.CancelFunc
}

// Cancel stops the task. Safe to call more than once.
func (t *SpeechTask) Cancel() {
	t.cancel()
}

// Room tracks the sockets and speech tasks for one conversation. All fields
// are guarded by the owning registry's mutex.
type Room struct {
	conversationID string
	connections    map[string]Conn        // userID -> socket
	speechTasks    map[string]*SpeechTask // userID -> in-flight speech task
}

// Registry is the process-wide table of active chat rooms, keyed by
// conversation id. A room exists iff it has at least one connection.
// Construct one at startup and inject it into every connection handler.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger zerolog.Logger
}

// NewRegistry creates an empty room registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger.With().Str("component", "room").Logger(),
	}
}

// Join adds a user's socket to the conversation's room, creating the room if
// absent. A second connection for the same user replaces the map entry; the
// previous socket is not force-closed (its own read loop tears it down when
// the client drops it), and its eventual Leave is a no-op because Leave is
// keyed by connection identity.
func (r *Registry) Join(conversationID, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		room = &Room{
			conversationID: conversationID,
			connections:    make(map[string]Conn),
			speechTasks:    make(map[string]*SpeechTask),
		}
		r.rooms[conversationID] = room
		r.logger.Info().Str("conversation_id", conversationID).Msg("room created")
	}

	room.connections[userID] = conn
	r.logger.Info().
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Int("users", len(room.connections)).
		Msg("user joined room")
}

// Leave removes the user's entry, cancels any in-flight speech task for that
// user, and removes the room when it becomes empty. The entry is removed only
// if it still maps to conn, so a replaced connection's teardown cannot evict
// its replacement or cancel the live user's state. Idempotent: calling it
// again for the same connection is a no-op.
func (r *Registry) Leave(conversationID, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conversationID, userID, conn)
}

func (r *Registry) leaveLocked(conversationID, userID string, conn Conn) {
	room, ok := r.rooms[conversationID]
	if !ok {
		return
	}

	current, ok := room.connections[userID]
	if !ok || current != conn {
		return
	}

	r.cancelSpeechLocked(room, userID)
	delete(room.connections, userID)

	if len(room.connections) == 0 {
		delete(r.rooms, conversationID)
		r.logger.Info().Str("conversation_id", conversationID).Msg("empty room removed")
		return
	}

	r.logger.Info().
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Int("users", len(room.connections)).
		Msg("user left room")
}

// CancelSpeech cancels the user's in-flight speech task, if any. Canceling an
// absent or already-finished task is a no-op.
func (r *Registry) CancelSpeech(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[conversationID]; ok {
		r.cancelSpeechLocked(room, userID)
	}
}

func (r *Registry) cancelSpeechLocked(room *Room, userID string) {
	task, ok := room.speechTasks[userID]
	if !ok {
		return
	}
	task.Cancel()
	delete(room.speechTasks, userID)
	r.logger.Debug().
		Str("conversation_id", room.conversationID).
		Str("user_id", userID).
		Msg("speech task canceled")
}

// SetSpeechTask records a new speech task for the user, canceling and
// replacing any existing one first. The cancellation of the prior task is
// observable before the new task is recorded. Returns the owned handle to
// pass back to FinishSpeech.
func (r *Registry) SetSpeechTask(conversationID, userID string, cancel context.CancelFunc) *SpeechTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		// Connection already torn down; nothing should own this task
		cancel()
		return &SpeechTask{cancel: cancel}
	}

	r.cancelSpeechLocked(room, userID)

	task := &SpeechTask{cancel: cancel}
	room.speechTasks[userID] = task
	return task
}

// FinishSpeech removes the task entry after natural completion. The entry is
// removed only if task is still the current one, so a finishing task never
// evicts its replacement.
func (r *Registry) FinishSpeech(conversationID, userID string, task *SpeechTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	if current, ok := room.speechTasks[userID]; ok && current == task {
		delete(room.speechTasks, userID)
	}
}

// SendToUser sends a message to one user in a room. Returns false if the room
// or user is absent or the write fails.
func (r *Registry) SendToUser(conversationID, userID string, msg interface{}) bool {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	conn, ok := room.connections[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := conn.WriteJSON(msg); err != nil {
		r.logger.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("send to user failed")
		return false
	}
	return true
}

// Broadcast sends a message to every user in the room except excludeUser.
// Failed sends are tolerated per-recipient; the failing recipient's
// connection is removed so half-open sockets self-heal. Returns the number of
// successful sends.
func (r *Registry) Broadcast(conversationID string, msg interface{}, excludeUser string) int {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn().Str("conversation_id", conversationID).Msg("broadcast to absent room")
		return 0
	}

	targets := make(map[string]Conn, len(room.connections))
	for userID, conn := range room.connections {
		if excludeUser != "" && userID == excludeUser {
			continue
		}
		targets[userID] = conn
	}
	r.mu.Unlock()

	sent := 0
	var failed []string
	for userID, conn := range targets {
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.Warn().
				Err(err).
				Str("conversation_id", conversationID).
				Str("user_id", userID).
				Msg("broadcast send failed")
			failed = append(failed, userID)
			continue
		}
		sent++
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, userID := range failed {
			r.leaveLocked(conversationID, userID, targets[userID])
		}
		r.mu.Unlock()
	}

	return sent
}

// HasRoom reports whether a room exists for the conversation
func (r *Registry) HasRoom(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[conversationID]
	return ok
}

// UserCount returns the number of connected users in a room, 0 if absent
func (r *Registry) UserCount(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[conversationID]; ok {
		return len(room.connections)
	}
	return 0
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// HasSpeechTask reports whether the user has an in-flight speech task
func (r *Registry) HasSpeechTask(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[conversationID]; ok {
		_, ok := room.speechTasks[userID]
		return ok
	}
	return false
}
