package session

import (
	"context"
	"fmt"

	"github.com/prediqt/voicepipe/core/audio"
)

// audioInputStage is the pipeline source. It pumps inbound transport audio
// through voice activity detection and onto the bus as audio chunk frames.
type audioInputStage struct {
	transport Transport
	vad       audio.VoiceActivityDetector
}

func newAudioInputStage(transport Transport, vad audio.VoiceActivityDetector) *audioInputStage {
	return &audioInputStage{transport: transport, vad: vad}
}

func (s *audioInputStage) name() string { return "audio input" }

func (s *audioInputStage) run(ctx context.Context, emit emitFunc) error {
	for {
		select {
		case chunk, ok := <-s.transport.AudioIn():
			if !ok {
				return nil
			}
			if s.vad != nil {
				s.vad.Process(chunk)
			}
			emit(AudioChunkFrame{Audio: chunk})
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *audioInputStage) processFrame(_ context.Context, frame Frame, emit emitFunc) error {
	emit(frame)
	return nil
}

func (s *audioInputStage) processControl(context.Context, ControlFrame, emitFunc) error {
	return nil
}

// audioOutputStage is the playback sink. It writes synthesized audio to the
// transport, dropping chunks that belong to a cancelled generation, and
// reports playback to the turn controller.
type audioOutputStage struct {
	transport  Transport
	controller *turnController
}

func newAudioOutputStage(transport Transport, controller *turnController) *audioOutputStage {
	return &audioOutputStage{transport: transport, controller: controller}
}

func (s *audioOutputStage) name() string { return "audio output" }

func (s *audioOutputStage) processFrame(_ context.Context, frame Frame, emit emitFunc) error {
	audioFrame, ok := frame.(AudioChunkFrame)
	if !ok {
		emit(frame)
		return nil
	}
	if audioFrame.GenerationID == "" || s.controller.isCancelled(audioFrame.GenerationID) {
		return nil
	}

	if err := s.transport.WriteAudio(audioFrame.Audio); err != nil {
		return fmt.Errorf("failed to write audio to transport: %w", err)
	}
	s.controller.onAgentAudio(audioFrame.GenerationID)
	return nil
}

func (s *audioOutputStage) processControl(_ context.Context, frame ControlFrame, _ emitFunc) error {
	if frame.Signal == ControlCancel {
		s.transport.FlushAudio()
	}
	return nil
}
