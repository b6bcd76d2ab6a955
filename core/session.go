package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/rooms"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusClosing      Status = "closing"
	StatusClosed       Status = "closed"
)

// Session is one client's voice conversation from credential provisioning
// to teardown. It brokers a room, joins it over the transport, runs the
// streaming pipeline while the client is connected, and releases everything
// exactly once when the client leaves or the context is cancelled.
type Session struct {
	id        string
	createdAt time.Time

	broker    rooms.Broker
	transport Transport
	options   Options

	room  rooms.Room
	token string

	statusMu sync.RWMutex
	status   Status

	baseCtx    context.Context
	context    *ConversationContext
	controller *turnController
	pipeline   *pipeline

	closeOnce sync.Once
	closed    chan struct{}
}

func New(broker rooms.Broker, transport Transport, opts ...Option) *Session {
	options := Options{
		encoding:             audio.DefaultEncodingInfo(),
		vadParams:            audio.DefaultVADParams(),
		memorySearchLimit:    defaultMemorySearchLimit,
		memoryScoreThreshold: defaultMemoryScoreThreshold,
	}
	for _, opt := range opts {
		opt(&options)
	}

	id := uuid.NewString()
	if options.roomName == "" {
		options.roomName = "voicepipe-" + id[:8]
	}

	return &Session{
		id:        id,
		createdAt: time.Now(),
		broker:    broker,
		transport: transport,
		options:   options,
		status:    StatusProvisioning,
		closed:    make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Done closes once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Room returns the brokered room. Valid after Provision.
func (s *Session) Room() rooms.Room { return s.room }

// Token returns the brokered client token. Valid after Provision.
func (s *Session) Token() string { return s.token }

// Provision brokers the room and client token for this session. It must be
// called before Run so the credentials can be handed to the client first.
func (s *Session) Provision(ctx context.Context) (rooms.Room, string, error) {
	ctx, span := tracer.Start(ctx, "session.provision")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	room, token, err := s.broker.Provision(ctx, s.options.roomName)
	if err != nil {
		recordedErr := fmt.Errorf("failed to provision session credentials: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return rooms.Room{}, "", recordedErr
	}

	s.room = room
	s.token = token
	return room, token, nil
}

// Run joins the room and drives the session until the client disconnects,
// the pipeline fails, or ctx is cancelled. Teardown happens exactly once on
// every exit path.
//
// Contract: call Run at most once per session instance, after Provision.
func (s *Session) Run(ctx context.Context) error {
	if s.options.llm == nil || s.options.speechToText == nil || s.options.textToSpeech == nil {
		return fmt.Errorf("session requires llm, speech-to-text, and text-to-speech clients")
	}
	if s.room.URL == "" {
		return fmt.Errorf("session is not provisioned")
	}

	ctx, span := tracer.Start(ctx, "session.run")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))
	s.baseCtx = ctx

	if err := s.transport.Join(ctx, s.room.URL, s.token); err != nil {
		recordedErr := fmt.Errorf("failed to join room: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		s.Close(ctx)
		return recordedErr
	}

	s.assemblePipeline(ctx)

	pipelineDone := make(chan error, 1)
	pipelineStarted := false
	for {
		select {
		case event, ok := <-s.transport.Events():
			if !ok {
				s.Close(ctx)
				return nil
			}

			switch event.Kind {
			case TransportClientConnected:
				if pipelineStarted {
					continue
				}
				pipelineStarted = true
				s.setStatus(StatusActive)
				logger.InfoContext(ctx, "client connected", "session.id", s.id)

				go func() {
					pipelineDone <- s.pipeline.Run(ctx)
				}()
				if s.options.introduceAgent {
					s.pipeline.Enqueue(ctx, RunFrame{})
				}

			case TransportClientDisconnected:
				logger.InfoContext(ctx, "client disconnected", "session.id", s.id)
				s.Close(ctx)
				if pipelineStarted {
					return <-pipelineDone
				}
				return nil
			}

		case err := <-pipelineDone:
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			s.Close(ctx)
			return err

		case <-ctx.Done():
			s.Close(context.WithoutCancel(ctx))
			if pipelineStarted {
				<-pipelineDone
			}
			return ctx.Err()
		}
	}
}

// Close tears the session down: the live generation is cancelled, the
// pipeline stopped, the transport left, and the brokered room released.
// Duplicate calls, including racing disconnect events, are no-ops.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.setStatus(StatusClosing)

		s.controller.close()
		s.pipeline.Stop()

		if s.transport != nil {
			if err := s.transport.Leave(ctx); err != nil {
				recordedErr := fmt.Errorf("failed to leave room: %w", err)
				span := trace.SpanFromContext(ctx)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}

		if s.broker != nil && s.room.URL != "" {
			if released := s.broker.Release(ctx, s.options.roomName); !released {
				log.Println("Warning: failed to release room", s.options.roomName)
			}
		}

		s.setStatus(StatusClosed)
		close(s.closed)
	})
}

func (s *Session) setStatus(status Status) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
}

// assemblePipeline wires the fixed stage chain around the conversation
// context and turn controller.
func (s *Session) assemblePipeline(ctx context.Context) {
	s.context = NewConversationContext(s.options.systemPrompt)
	s.controller = newTurnController(ctx, func(frame ControlFrame) {
		s.pipeline.Broadcast(s.baseCtx, frame)
	})

	var vad audio.VoiceActivityDetector
	if !s.options.vadDisabled {
		vad = audio.NewEnergyDetector(s.options.vadParams, s.options.encoding, audio.VADCallbacks{
			OnSpeechStarted: s.controller.onSpeechStarted,
		})
	}

	detector := s.options.turnDetector
	if detector == nil {
		detector = audio.NewSmartTurnDetector(audio.DefaultSmartTurnParams())
	}

	router := newToolRouter(s.options.tools...)

	stages := []stage{
		newAudioInputStage(s.transport, vad),
		newSTTStage(s.options.speechToText, s.controller, detector, s.options.encoding),
		newUserAggregatorStage(s.context),
	}
	if s.options.memory != nil {
		stages = append(stages, newMemoryStage(s.options.memory, s.context, s.options.memorySearchLimit, s.options.memoryScoreThreshold))
	}
	stages = append(stages,
		newLLMStage(s.options.llm, s.context, router, s.controller),
		newTTSStage(s.options.textToSpeech, s.controller, s.options.encoding),
		newAudioOutputStage(s.transport, s.controller),
		newAssistantAggregatorStage(s.context, s.controller, s.options.memory),
	)

	s.pipeline = newPipeline(stages...)
}

// Conversation exposes the session's conversation context. Nil until Run
// assembles the pipeline.
func (s *Session) Conversation() *ConversationContext {
	return s.context
}
