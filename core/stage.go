package session

import "context"

// emitFunc hands a frame to the next stage, blocking under backpressure.
type emitFunc func(Frame)

// stage is one unit of the pipeline. Each stage runs on its own worker
// goroutine; the pipeline feeds it frames from its bus one at a time, so
// implementations never need internal locking against the pipeline itself.
type stage interface {
	name() string

	// processFrame handles one in-band frame, emitting zero or more frames
	// downstream. Frames a stage does not consume must be passed through.
	processFrame(ctx context.Context, frame Frame, emit emitFunc) error

	// processControl handles one lifecycle signal. In-band signals are
	// re-emitted downstream by the pipeline after this returns; broadcast
	// signals are not, as every stage receives them directly.
	processControl(ctx context.Context, frame ControlFrame, emit emitFunc) error
}

// sourceStage is implemented by stages that produce frames on their own,
// independent of upstream input.
type sourceStage interface {
	stage
	run(ctx context.Context, emit emitFunc) error
}

// startableStage is implemented by stages that need their downstream emitter
// before the first frame arrives, typically to wire provider callbacks.
type startableStage interface {
	stage
	start(ctx context.Context, emit emitFunc) error
}

// stoppableStage is implemented by stages holding provider connections that
// must be released on pipeline shutdown.
type stoppableStage interface {
	stage
	stop(ctx context.Context) error
}
