package chat

import "fmt"

// agentUnavailableReply is used when a conversation has an agent but no
// assistant settings to key a tone from.
const agentUnavailableReply = "I'm sorry, I'm having trouble connecting to my memory system right now. " +
	"Please try again."

// toneTemplate renders a canned reply around a truncated prefix of the
// user's text.
type toneTemplate struct {
	format string
	limit  int
}

// Canned replies keyed by assistant tone, used only when the agent call
// fails or no agent is associated with the conversation.
var toneFallbacks = map[string]toneTemplate{
	// Positive tones
	"professional": {"Thank you for your message. I understand you're asking about: %s. Let me help you with that systematically.", 50},
	"friendly":     {"Thanks for sharing that with me! I'd love to help you with: %s...", 30},
	"humorous":     {"Ooh, interesting question! You asked about %s... *adjusts comedy glasses* Let me see what I can do!", 30},
	"empathetic":   {"I hear you, and I appreciate you sharing that with me. Let's explore this together: %s...", 30},
	"motivational": {"YES! Great question, champion! You're asking about %s - let's crush this!", 30},
	"cheerful":     {"Oh how wonderful! I love that you're asking about %s! This is going to be fun!", 30},
	"playful":      {"Ooh ooh! %s... *bounces excitedly* Let me play with this idea!", 30},
	"enthusiastic": {"WOW! What an exciting question about %s! I'm so pumped to explore this with you!", 30},
	"warm":         {"I'm so glad you came to me with this. %s... Let me wrap my thoughts around this for you.", 30},
	"supportive":   {"I'm here for you. You're asking about %s, and we'll work through this together, one step at a time.", 30},
	// Neutral tones
	"casual":        {"Hey! Got your message about %s... Let me think about that for a sec.", 30},
	"formal":        {"I acknowledge your inquiry regarding: %s. Please allow me to provide a considered response.", 50},
	"mysterious":    {"Ah... an intriguing inquiry. %s... The answer lies within the shadows of knowledge...", 30},
	"calm":          {"I see you're asking about %s... Let's take a moment to consider this thoughtfully.", 30},
	"analytical":    {"Interesting. You've presented: %s. Let me analyze the key components systematically.", 40},
	"stoic":         {"You ask about %s. Very well. Let me offer what wisdom I can.", 30},
	"philosophical": {"Ah, %s... This raises deeper questions about the nature of understanding itself.", 30},
	// Negative tones
	"sarcastic":   {"Oh, how original. %s... Let me pretend I haven't heard that before.", 30},
	"blunt":       {"You want to know about %s. Fine. Here's the truth without the sugar coating.", 30},
	"cynical":     {"So you're asking about %s. Of course you are. Everyone wants easy answers.", 30},
	"melancholic": {"You ask about %s... *sighs* Very well, though the answer may not bring the comfort you seek.", 30},
	"stern":       {"Listen carefully. You're asking about %s. I'll tell you once, so pay attention.", 30},
	"dramatic":    {"BEHOLD! You dare ask about %s! The very cosmos trembles at such a question!", 30},
	"pessimistic": {"You're asking about %s. I suppose I can try, though it probably won't help much.", 30},
}

// fallbackReply generates a deterministic canned response for the tone,
// templated with a prefix of the user's text. Unrecognized tones get a
// generic template.
func fallbackReply(tone, userMessage string) string {
	tmpl, ok := toneFallbacks[tone]
	if !ok {
		return fmt.Sprintf("I received your message: %s...", prefix(userMessage, 50))
	}
	return fmt.Sprintf(tmpl.format, prefix(userMessage, tmpl.limit))
}

// prefix truncates s to at most n characters without splitting a rune
func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
