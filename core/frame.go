// Package session orchestrates real-time voice agent sessions: it brokers
// room credentials, runs the streaming frame pipeline between a transport
// and the speech/language providers, and supervises session teardown.
package session

import "github.com/prediqt/voicepipe/core/llms"

// Frame is the unit of data flowing through the pipeline. The set of
// implementations is closed; stages switch on the concrete type and pass
// frames they do not handle through unchanged.
type Frame interface {
	isFrame()
}

// AudioChunkFrame carries a bounded slice of PCM audio. Inbound chunks have
// an empty GenerationID; synthesized chunks carry the generation that
// produced them so stale audio can be dropped after an interruption.
type AudioChunkFrame struct {
	Audio        []byte
	GenerationID string
}

// TranscriptDeltaFrame carries an incremental piece of text attributed to a
// speaker. User deltas come from transcription, assistant deltas from the
// language model stream.
type TranscriptDeltaFrame struct {
	Role         llms.Role
	Text         string
	GenerationID string
}

// ContextMessageFrame carries a complete message destined for the
// conversation context. Interrupted marks an assistant message truncated to
// the portion synthesized before cancellation.
type ContextMessageFrame struct {
	Message      llms.Message
	GenerationID string
	Interrupted  bool
}

// ToolCallRequestFrame announces a tool invocation requested by the model.
type ToolCallRequestFrame struct {
	Call         llms.ToolCall
	GenerationID string
}

// ToolCallResultFrame carries a completed tool invocation, response
// included. It is only emitted when the owning generation is still live.
type ToolCallResultFrame struct {
	Call         llms.ToolCall
	GenerationID string
	Failed       bool
}

// RunFrame requests a model generation from the current context without a
// preceding user message. Used to make the agent speak first on connect.
type RunFrame struct{}

type ControlSignal string

const (
	// ControlEndOfTurn marks the user's turn complete. It flows in-band so
	// stages observe it after every frame of the turn it closes.
	ControlEndOfTurn ControlSignal = "end_of_turn"
	// ControlInterrupt reports that the user started speaking over the
	// agent. Broadcast out-of-band to every stage.
	ControlInterrupt ControlSignal = "interrupt"
	// ControlCancel aborts the named generation. Broadcast out-of-band.
	ControlCancel ControlSignal = "cancel"
)

// ControlFrame carries a lifecycle signal. GenerationID scopes interrupt and
// cancel signals to a single generation.
type ControlFrame struct {
	Signal       ControlSignal
	GenerationID string
}

func (AudioChunkFrame) isFrame()      {}
func (TranscriptDeltaFrame) isFrame() {}
func (ContextMessageFrame) isFrame()  {}
func (ToolCallRequestFrame) isFrame() {}
func (ToolCallResultFrame) isFrame()  {}
func (RunFrame) isFrame()             {}
func (ControlFrame) isFrame()         {}
