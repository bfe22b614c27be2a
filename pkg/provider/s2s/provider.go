// Package s2s defines the Provider interface for realtime speech-to-speech
// voice backends.
//
// An S2S provider wraps a realtime voice model that accepts raw microphone
// audio and answers with synthesised audio in a single stateful session. The
// central abstraction is [SessionHandle]: audio is pushed with SendAudio, and
// everything the backend sends back (audio chunks, transcription fragments,
// tool calls) arrives on one ordered event channel so consumers observe it in
// exactly the order it was received.
//
// All implementations must be safe for concurrent use.
package s2s

import "context"

// EventKind classifies an inbound [Event].
type EventKind int

const (
	// EventAudio carries one base64-encoded chunk of synthesised audio.
	EventAudio EventKind = iota + 1

	// EventInputTranscription carries a fragment of the user's recognised speech.
	EventInputTranscription

	// EventOutputTranscription carries a fragment of the model's spoken text.
	EventOutputTranscription

	// EventToolCall carries a function call requested by the model.
	EventToolCall
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInputTranscription:
		return "input_transcription"
	case EventOutputTranscription:
		return "output_transcription"
	case EventToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is one inbound message from the backend. Exactly one payload field is
// meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	// Audio is the base64-encoded PCM payload for EventAudio. It is passed
	// through undecoded so a malformed chunk can be skipped by the consumer.
	Audio string

	// MIMEType is the declared format of Audio, e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Text is the transcription fragment for the transcription kinds.
	Text string

	// ToolCall is set for EventToolCall.
	ToolCall *ToolCall
}

// FunctionDeclaration describes a tool the model may call.
type FunctionDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON-schema object. Nil means the function takes no
	// arguments.
	Parameters map[string]any
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// Tools lists the functions offered to the model.
	Tools []FunctionDeclaration

	// Transcribe enables input and output transcription events.
	Transcribe bool
}

// SessionHandle represents an open S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one chunk of 16 kHz mono little-endian PCM16 audio.
	// Chunks are forwarded in call order. Returns an error if the session is
	// closed or the transport fails.
	SendAudio(chunk []byte) error

	// Events returns the channel of inbound events in arrival order. It is
	// closed when the session ends for any reason; check Err afterwards.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if the backend
	// closed it normally or Close was called.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens realtime voice sessions.
type Provider interface {
	// Connect establishes a new session. The returned handle is ready to
	// accept audio immediately. The caller owns the handle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
