package session

import "context"

const frameQueueCapacity = 16

// frameBus is the bounded queue feeding one pipeline stage. Data frames flow
// in-band through frames; broadcast control signals bypass the backlog
// through the control channel and are always drained first, so a stage
// observes a cancellation before any frame queued behind it.
type frameBus struct {
	frames  chan Frame
	control chan ControlFrame
}

func newFrameBus() *frameBus {
	return &frameBus{
		frames:  make(chan Frame, frameQueueCapacity),
		control: make(chan ControlFrame, frameQueueCapacity),
	}
}

// push enqueues a data frame, blocking when the stage is backlogged. It
// returns false once ctx is done.
func (b *frameBus) push(ctx context.Context, frame Frame) bool {
	select {
	case b.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// pushControl enqueues an out-of-band signal ahead of the data backlog.
func (b *frameBus) pushControl(ctx context.Context, frame ControlFrame) bool {
	select {
	case b.control <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// next returns the next frame for the stage, preferring control signals. The
// second return reports whether the frame arrived out-of-band; the third is
// false once ctx is done.
func (b *frameBus) next(ctx context.Context) (Frame, bool, bool) {
	select {
	case frame := <-b.control:
		return frame, true, true
	default:
	}

	select {
	case frame := <-b.control:
		return frame, true, true
	case frame := <-b.frames:
		return frame, false, true
	case <-ctx.Done():
		return nil, false, false
	}
}
