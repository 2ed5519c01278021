package speech

import "fmt"

// Chunk is one piece of synthesized audio: base64-encoded PCM linear16,
// 24kHz, mono. IsLast marks the terminal chunk of a stream.
type Chunk struct {
	Audio  string
	IsLast bool
}

// StreamError reports a failed speech stream. UnexpectedClose is set when the
// upstream socket closed abnormally mid-stream, so callers can report
// "closed unexpectedly" distinctly from generic failures.
type StreamError struct {
	UnexpectedClose bool
	Err             error
}

func (e *StreamError) Error() string {
	if e.UnexpectedClose {
		return fmt.Sprintf("speech stream closed unexpectedly: %v", e.Err)
	}
	return fmt.Sprintf("speech stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// DefaultVoice is substituted for any voice id not in the allow-list.
const DefaultVoice = "ara"

var validVoices = map[string]bool{
	"ara": true,
	"rex": true,
	"sal": true,
	"eve": true,
	"una": true,
	"leo": true,
}

// ResolveVoice validates a voice id against the allow-list and substitutes
// DefaultVoice for unrecognized ids. It never fails.
func ResolveVoice(voiceID string) string {
	if validVoices[voiceID] {
		return voiceID
	}
	return DefaultVoice
}
