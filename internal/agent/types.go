package agent

// replyRequest is the message-send payload for the agent runtime
type replyRequest struct {
	Messages []requestMessage `json:"messages"`
}

type requestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// replyResponse is the agent runtime's response envelope. The message list
// mixes internal reasoning, tool traffic, and the user-facing reply; each
// entry is discriminated by message_type. This is the single decode point
// for agent output — nothing downstream inspects raw agent JSON.
type replyResponse struct {
	Messages []responseMessage `json:"messages"`
}

type responseMessage struct {
	MessageType string    `json:"message_type"`
	Content     string    `json:"content,omitempty"`
	ToolCall    *toolCall `json:"tool_call,omitempty"`
}

type toolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// Message types the decoder recognizes; everything else is skipped.
const (
	typeAssistantMessage = "assistant_message"
	typeToolCallMessage  = "tool_call_message"
)

// sendMessageTool is the tool the agent uses to address the user directly
const sendMessageTool = "send_message"

type sendMessageArgs struct {
	Message string `json:"message"`
}
