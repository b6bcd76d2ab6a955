package session

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/texttospeech"
)

// ttsStage streams assistant transcript deltas into speech synthesis and
// emits the synthesized audio downstream tagged with its generation. On
// cancellation it aborts synthesis and emits a truncated assistant message
// carrying only the text that made it into the voice stream.
type ttsStage struct {
	client     TextToSpeechClient
	controller *turnController
	encoding   audio.EncodingInfo

	mu           sync.Mutex
	emit         emitFunc
	generationID string
	spoken       strings.Builder
}

func newTTSStage(client TextToSpeechClient, controller *turnController, encoding audio.EncodingInfo) *ttsStage {
	return &ttsStage{client: client, controller: controller, encoding: encoding}
}

func (s *ttsStage) name() string { return "text to speech" }

func (s *ttsStage) start(ctx context.Context, emit emitFunc) error {
	s.mu.Lock()
	s.emit = emit
	s.mu.Unlock()

	return s.client.OpenStream(ctx,
		texttospeech.WithEncodingInfo(s.encoding),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			s.mu.Lock()
			generationID := s.generationID
			emit := s.emit
			s.mu.Unlock()
			if emit != nil && generationID != "" {
				emit(AudioChunkFrame{Audio: chunk, GenerationID: generationID})
			}
		}),
	)
}

func (s *ttsStage) stop(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *ttsStage) processFrame(_ context.Context, frame Frame, emit emitFunc) error {
	switch frame := frame.(type) {
	case TranscriptDeltaFrame:
		if frame.Role != llms.RoleAssistant {
			emit(frame)
			return nil
		}
		if s.controller.isCancelled(frame.GenerationID) {
			return nil
		}

		s.mu.Lock()
		s.generationID = frame.GenerationID
		s.spoken.WriteString(frame.Text)
		s.mu.Unlock()

		if err := s.client.SendText(frame.Text); err != nil {
			log.Println("Failed to send text to synthesis:", err)
		}
		emit(frame)

	case ContextMessageFrame:
		if frame.Message.Role == llms.RoleAssistant && !frame.Interrupted {
			s.mu.Lock()
			s.spoken.Reset()
			s.generationID = ""
			s.mu.Unlock()

			if err := s.client.EndOfText(); err != nil {
				log.Println("Failed to finish synthesis utterance:", err)
			}
		}
		emit(frame)

	default:
		emit(frame)
	}
	return nil
}

func (s *ttsStage) processControl(_ context.Context, frame ControlFrame, emit emitFunc) error {
	if frame.Signal != ControlCancel {
		return nil
	}

	s.mu.Lock()
	spoken := strings.TrimSpace(s.spoken.String())
	generationID := s.generationID
	s.spoken.Reset()
	s.generationID = ""
	s.mu.Unlock()

	if err := s.client.Cancel(); err != nil {
		log.Println("Failed to cancel synthesis:", err)
	}

	if spoken != "" && (frame.GenerationID == "" || frame.GenerationID == generationID) {
		emit(ContextMessageFrame{
			Message:      llms.Message{Role: llms.RoleAssistant, Content: spoken},
			GenerationID: generationID,
			Interrupted:  true,
		})
	}
	return nil
}
