// Package texttospeech defines the streaming synthesis contract: text
// increments in, synthesized audio callbacks out, cancellable mid-utterance.
package texttospeech

import "github.com/prediqt/voicepipe/core/audio"

type TextToSpeechOptions struct {
	// SpeechAudioCallback receives synthesized audio chunks in generation
	// order.
	SpeechAudioCallback func(audio []byte)
	// SpeechEndedCallback fires once the current utterance is fully
	// synthesized.
	SpeechEndedCallback func()

	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithSpeechAudioCallback(callback func(audio []byte)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		o.SpeechAudioCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		o.EncodingInfo = encodingInfo
	}
}
