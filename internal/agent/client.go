package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionai/chat-gateway/internal/config"
	"github.com/companionai/chat-gateway/internal/observability"
	"github.com/companionai/chat-gateway/internal/resilience"
)

// Client talks to the external agent runtime that generates assistant
// replies. Calls are bounded by the configured timeout and guarded by a
// circuit breaker; a failure here is recoverable (the orchestration layer
// falls back to a canned reply) so errors are returned, never retried.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates an agent service client
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.AgentBaseURL,
		token:   cfg.AgentToken,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.AgentTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(
			"agent",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "agent").Logger(),
	}
}

// Reply sends the user's text to the agent and returns the assistant's reply
func (c *Client) Reply(ctx context.Context, agentID, text string) (string, error) {
	var reply string
	err := c.breaker.Do(func() error {
		var callErr error
		reply, callErr = c.sendMessage(ctx, agentID, text)
		return callErr
	})

	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.State()))

	if err != nil {
		return "", err
	}
	return reply, nil
}

// HealthCheck probes the agent runtime, for readiness checks
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) sendMessage(ctx context.Context, agentID, text string) (string, error) {
	body, err := json.Marshal(replyRequest{
		Messages: []requestMessage{{Role: "user", Content: text}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal agent request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/agents/%s/messages", c.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create agent request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var decoded replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}

	reply, err := extractReply(&decoded)
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("agent_id", agentID).
		Dur("latency", time.Since(start)).
		Int("reply_len", len(reply)).
		Msg("agent reply received")

	return reply, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// extractReply pulls the user-facing reply out of the agent's message list.
// A send_message tool call wins; otherwise the last assistant_message with
// content is used.
func extractReply(resp *replyResponse) (string, error) {
	for _, msg := range resp.Messages {
		if msg.MessageType != typeToolCallMessage || msg.ToolCall == nil {
			continue
		}
		if msg.ToolCall.Name != sendMessageTool {
			continue
		}
		var args sendMessageArgs
		if err := json.Unmarshal([]byte(msg.ToolCall.Arguments), &args); err != nil {
			return "", fmt.Errorf("decode send_message arguments: %w", err)
		}
		if args.Message != "" {
			return args.Message, nil
		}
	}

	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg := resp.Messages[i]
		if msg.MessageType == typeAssistantMessage && msg.Content != "" {
			return msg.Content, nil
		}
	}

	return "", fmt.Errorf("agent response carried no user-facing reply")
}
