package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/config"
	"github.com/companionai/chat-gateway/internal/resilience"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		AgentBaseURL:               srv.URL,
		AgentToken:                 "agent-token",
		AgentTimeout:               5,
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: 30,
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestReply_ToolCallResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/agents/agent-7/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer agent-token" {
			t.Errorf("expected bearer token header, got %q", got)
		}

		var req replyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "Hi" {
			t.Errorf("unexpected request messages: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(replyResponse{Messages: []responseMessage{
			{MessageType: "reasoning_message", Content: "thinking..."},
			{MessageType: typeToolCallMessage, ToolCall: &toolCall{
				Name:      sendMessageTool,
				Arguments: `{"message":"Hello from the agent"}`,
			}},
		}})
	})

	reply, err := client.Reply(context.Background(), "agent-7", "Hi")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "Hello from the agent" {
		t.Errorf("Expected tool-call reply, got %q", reply)
	}
}

func TestReply_AssistantMessageFallback(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(replyResponse{Messages: []responseMessage{
			{MessageType: typeAssistantMessage, Content: "first"},
			{MessageType: typeAssistantMessage, Content: "latest"},
		}})
	})

	reply, err := client.Reply(context.Background(), "agent-7", "Hi")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "latest" {
		t.Errorf("Expected last assistant message, got %q", reply)
	}
}

func TestReply_IgnoresOtherToolCalls(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(replyResponse{Messages: []responseMessage{
			{MessageType: typeToolCallMessage, ToolCall: &toolCall{
				Name:      "archival_memory_insert",
				Arguments: `{"content":"remember this"}`,
			}},
			{MessageType: typeAssistantMessage, Content: "the actual reply"},
		}})
	})

	reply, err := client.Reply(context.Background(), "agent-7", "Hi")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "the actual reply" {
		t.Errorf("Expected assistant message, got %q", reply)
	}
}

func TestReply_NoUserFacingReply(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(replyResponse{Messages: []responseMessage{
			{MessageType: "reasoning_message", Content: "hmm"},
		}})
	})

	_, err := client.Reply(context.Background(), "agent-7", "Hi")
	if err == nil {
		t.Fatal("Expected error for response with no user-facing reply")
	}
}

func TestReply_ServerError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Reply(context.Background(), "agent-7", "Hi")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
}

func TestReply_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})

	// Max failures is 2 in the test config
	for i := 0; i < 2; i++ {
		if _, err := client.Reply(context.Background(), "agent-7", "Hi"); err == nil {
			t.Fatal("Expected failure")
		}
	}

	_, err := client.Reply(context.Background(), "agent-7", "Hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 upstream calls before the circuit opened, got %d", calls)
	}
}

func TestHealthCheck(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	healthy, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !healthy {
		t.Error("Expected healthy")
	}
}
