package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// VoiceActivityDetector reports when speech starts and stops in the raw
// input audio stream. It runs ahead of transcription so interruptions can be
// detected before any transcript is available.
type VoiceActivityDetector interface {
	// Process inspects one audio chunk and fires the configured callbacks.
	Process(chunk []byte)
	// IsSpeaking reports whether speech is currently active.
	IsSpeaking() bool
	// Reset clears detector state between turns.
	Reset()
}

// TurnDetector decides whether a finalized utterance actually ends the
// user's turn. Voice activity alone would cut users off during natural
// pauses, so the decision is made on the transcript boundary as well.
type TurnDetector interface {
	// EndOfTurn reports whether the accumulated transcript, together with
	// the trailing silence observed so far, completes the turn.
	EndOfTurn(transcript string, trailingSilence time.Duration) bool
	// HoldTimeout bounds how long a held-open turn may wait for more
	// speech before it is closed regardless.
	HoldTimeout() time.Duration
	// Reset clears state for the next turn.
	Reset()
}

type VADParams struct {
	// StartThreshold is the normalized energy level above which a chunk
	// counts as speech.
	StartThreshold float64
	// StopSilence is how much trailing sub-threshold audio ends a speech
	// segment.
	StopSilence time.Duration
}

func DefaultVADParams() VADParams {
	return VADParams{
		StartThreshold: 0.02,
		StopSilence:    100 * time.Millisecond,
	}
}

type VADCallbacks struct {
	OnSpeechStarted func()
	OnSpeechEnded   func()
}

// EnergyDetector is a threshold voice-activity detector over linear16 audio.
// It is deliberately simple: a model-backed detector can replace it behind
// the VoiceActivityDetector contract without touching the pipeline.
type EnergyDetector struct {
	mu sync.Mutex

	params    VADParams
	encoding  EncodingInfo
	callbacks VADCallbacks

	speaking     bool
	silentBytes  int
	stopSilenceB int
}

func NewEnergyDetector(params VADParams, encoding EncodingInfo, callbacks VADCallbacks) *EnergyDetector {
	if encoding.IsZero() {
		encoding = DefaultEncodingInfo()
	}
	if params.StartThreshold == 0 {
		params.StartThreshold = DefaultVADParams().StartThreshold
	}
	if params.StopSilence == 0 {
		params.StopSilence = DefaultVADParams().StopSilence
	}

	stopSilenceBytes := int(float64(encoding.BytesPerSecond()) * params.StopSilence.Seconds())

	return &EnergyDetector{
		params:       params,
		encoding:     encoding,
		callbacks:    callbacks,
		stopSilenceB: stopSilenceBytes,
	}
}

func (d *EnergyDetector) Process(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	energy := rmsEnergy(chunk)

	d.mu.Lock()
	var started, ended bool
	if energy >= d.params.StartThreshold {
		d.silentBytes = 0
		if !d.speaking {
			d.speaking = true
			started = true
		}
	} else if d.speaking {
		d.silentBytes += len(chunk)
		if d.silentBytes >= d.stopSilenceB {
			d.speaking = false
			d.silentBytes = 0
			ended = true
		}
	}
	d.mu.Unlock()

	if started && d.callbacks.OnSpeechStarted != nil {
		d.callbacks.OnSpeechStarted()
	}
	if ended && d.callbacks.OnSpeechEnded != nil {
		d.callbacks.OnSpeechEnded()
	}
}

func (d *EnergyDetector) IsSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *EnergyDetector) Reset() {
	d.mu.Lock()
	d.speaking = false
	d.silentBytes = 0
	d.mu.Unlock()
}

// rmsEnergy computes normalized root-mean-square energy of linear16 samples.
func rmsEnergy(chunk []byte) float64 {
	sampleCount := len(chunk) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(chunk[i:]))
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(sampleCount))
}
