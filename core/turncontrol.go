package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TurnState is the conversational state of a session.
type TurnState string

const (
	TurnStateIdle          TurnState = "idle"
	TurnStateUserSpeaking  TurnState = "user_speaking"
	TurnStateProcessing    TurnState = "processing"
	TurnStateAgentSpeaking TurnState = "agent_speaking"
	TurnStateClosed        TurnState = "closed"
)

// generation is one model response attempt. Its context is cancelled the
// moment the generation is interrupted or superseded, which aborts the model
// stream and any in-flight tool calls derived from it.
type generation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool
}

func (g *generation) isCancelled() bool {
	return g == nil || g.cancelled.Load()
}

// turnController owns the turn state machine and the at-most-one live
// generation invariant. Stages report speech and generation lifecycle
// events; the controller decides when an interruption cancels a generation
// and broadcasts the cancellation to the whole pipeline.
type turnController struct {
	mu      sync.Mutex
	state   TurnState
	baseCtx context.Context

	broadcast func(ControlFrame)

	active      *generation
	generations map[string]*generation

	endOfTurnAt  time.Time
	firstAudioIn map[string]bool
}

func newTurnController(baseCtx context.Context, broadcast func(ControlFrame)) *turnController {
	return &turnController{
		state:        TurnStateIdle,
		baseCtx:      baseCtx,
		broadcast:    broadcast,
		generations:  map[string]*generation{},
		firstAudioIn: map[string]bool{},
	}
}

func (c *turnController) State() TurnState {
	if c == nil {
		return TurnStateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// onSpeechStarted handles voice activity from the user. Speech over an
// active generation is an interruption: the generation is cancelled on the
// spot and the cancellation is broadcast before any frame produced after it.
func (c *turnController) onSpeechStarted() {
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.state == TurnStateClosed {
		c.mu.Unlock()
		return
	}

	interrupted := c.active
	if c.state == TurnStateProcessing || c.state == TurnStateAgentSpeaking {
		c.cancelLocked(interrupted)
	} else {
		interrupted = nil
	}
	c.state = TurnStateUserSpeaking
	c.mu.Unlock()

	if interrupted != nil {
		c.broadcast(ControlFrame{Signal: ControlCancel, GenerationID: interrupted.id})
	}
}

// onEndOfTurn marks the user turn complete and starts the latency clock for
// the upcoming response.
func (c *turnController) onEndOfTurn() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == TurnStateClosed {
		return
	}
	c.state = TurnStateProcessing
	c.endOfTurnAt = time.Now()
}

// beginGeneration allocates the next generation. Any generation still live
// is cancelled first; the pipeline never runs two generations at once.
func (c *turnController) beginGeneration() *generation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && !c.active.isCancelled() {
		log.Println("Warning: starting generation while previous is live, cancelling previous")
		c.cancelLocked(c.active)
	}

	baseCtx := c.baseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	gen := &generation{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	c.active = gen
	c.generations[gen.id] = gen
	if c.state == TurnStateIdle {
		c.state = TurnStateProcessing
	}
	return gen
}

// finishGeneration releases a generation once its frames have been fully
// emitted. The state returns to idle unless the user is already speaking
// again or the session is closed.
func (c *turnController) finishGeneration(gen *generation) {
	if c == nil || gen == nil {
		return
	}
	gen.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != gen {
		return
	}
	c.active = nil
	if c.state == TurnStateProcessing || c.state == TurnStateAgentSpeaking {
		c.state = TurnStateIdle
	}
}

// onAgentAudio reports synthesized audio reaching the transport. The first
// chunk of a generation flips the state to agent speaking and logs the
// end-of-turn to first-audio latency.
func (c *turnController) onAgentAudio(generationID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[generationID]
	if gen == nil || gen.isCancelled() || c.active != gen {
		return
	}
	if c.state == TurnStateProcessing {
		c.state = TurnStateAgentSpeaking
	}
	if !c.firstAudioIn[generationID] {
		c.firstAudioIn[generationID] = true
		if !c.endOfTurnAt.IsZero() {
			log.Printf("User-bot latency: %.3fs", time.Since(c.endOfTurnAt).Seconds())
		}
	}
}

// isCancelled reports whether the named generation was interrupted. Unknown
// generations count as cancelled so late frames from a finished pipeline
// run are dropped rather than replayed.
func (c *turnController) isCancelled(generationID string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[generationID]
	if gen == nil {
		return true
	}
	return gen.isCancelled()
}

func (c *turnController) activeGeneration() *generation {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// close cancels whatever generation is live and freezes the state machine.
func (c *turnController) close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.cancelLocked(c.active)
	}
	c.state = TurnStateClosed
}

func (c *turnController) cancelLocked(gen *generation) {
	if gen == nil {
		return
	}
	gen.cancelled.Store(true)
	gen.cancel()
}
