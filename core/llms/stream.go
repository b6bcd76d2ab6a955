package llms

import "context"

// Stream is a lazily-evaluated generation stream. Chunks is an iterator in
// the for-range-over-func style; breaking out of the range abandons the
// stream.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}
