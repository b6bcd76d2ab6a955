package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pipeline runs an ordered chain of stages, one worker goroutine per stage,
// connected by bounded frame buses. Frames enter at the head, flow stage to
// stage in order, and fall off the tail; control signals can additionally be
// broadcast to every stage at once.
type pipeline struct {
	stages []stage
	buses  []*frameBus

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newPipeline(stages ...stage) *pipeline {
	buses := make([]*frameBus, len(stages))
	for i := range stages {
		buses[i] = newFrameBus()
	}
	return &pipeline{stages: stages, buses: buses, stop: make(chan struct{})}
}

// Enqueue feeds a frame into the head of the pipeline.
func (p *pipeline) Enqueue(ctx context.Context, frame Frame) bool {
	if p == nil || len(p.buses) == 0 {
		return false
	}
	return p.buses[0].push(ctx, frame)
}

// Broadcast delivers a control signal to every stage out-of-band, ahead of
// each stage's data backlog.
func (p *pipeline) Broadcast(ctx context.Context, frame ControlFrame) {
	if p == nil {
		return
	}
	for _, bus := range p.buses {
		bus.pushControl(ctx, frame)
	}
}

// Stop shuts the pipeline down. Safe to call before Run and more than once;
// a Stop that lands before Run still takes effect once Run starts.
func (p *pipeline) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() { close(p.stop) })
}

// Run starts every stage and blocks until the context is cancelled or a
// stage worker fails. All accumulated worker errors are joined.
//
// Contract: call Run at most once per pipeline instance.
func (p *pipeline) Run(ctx context.Context) error {
	if p == nil || len(p.stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already started")
	}

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	emitters := p.emitters(ctx)
	for i, s := range p.stages {
		if startable, ok := s.(startableStage); ok {
			if err := startable.start(ctx, emitters[i]); err != nil {
				recordedErr := fmt.Errorf("failed to start %s stage: %w", s.name(), err)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
				return recordedErr
			}
		}
	}

	wg := &sync.WaitGroup{}
	for i, s := range p.stages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(s.name(), func(ctx context.Context) error {
				return p.runStage(ctx, s, p.buses[i], emitters[i])
			})
		}()

		if source, ok := s.(sourceStage); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(s.name()+" source", func(ctx context.Context) error {
					return source.run(ctx, emitters[i])
				})
			}()
		}
	}

	wg.Wait()

	for _, s := range p.stages {
		if stoppable, ok := s.(stoppableStage); ok {
			if err := stoppable.stop(context.WithoutCancel(ctx)); err != nil {
				recordedErr := fmt.Errorf("failed to stop %s stage: %w", s.name(), err)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}
	}

	if workerErr != nil {
		span.RecordError(workerErr)
		span.SetStatus(codes.Error, workerErr.Error())
	}
	return workerErr
}

// emitters builds the per-stage downstream emit functions. Stage i emits
// into stage i+1's bus; the tail stage's emissions are discarded.
func (p *pipeline) emitters(ctx context.Context) []emitFunc {
	emitters := make([]emitFunc, len(p.stages))
	for i := range p.stages {
		if i == len(p.stages)-1 {
			emitters[i] = func(Frame) {}
			continue
		}
		next := p.buses[i+1]
		emitters[i] = func(frame Frame) {
			next.push(ctx, frame)
		}
	}
	return emitters
}

// runStage is the per-stage worker loop. A processing error fails the stage
// only when it is not a pass-through recovery; stages signal recoverable
// provider failures by logging and emitting fallback frames instead of
// returning errors.
func (p *pipeline) runStage(ctx context.Context, s stage, bus *frameBus, emit emitFunc) error {
	for {
		frame, outOfBand, ok := bus.next(ctx)
		if !ok {
			return nil
		}

		if controlFrame, isControl := frame.(ControlFrame); isControl {
			if err := s.processControl(ctx, controlFrame, emit); err != nil {
				return fmt.Errorf("control %q: %w", controlFrame.Signal, err)
			}
			if !outOfBand {
				emit(controlFrame)
			}
			continue
		}

		if err := s.processFrame(ctx, frame, emit); err != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
}
