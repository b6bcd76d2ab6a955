package audio

import (
	"strings"
	"time"
)

// SmartTurnParams tunes the heuristic turn detector.
type SmartTurnParams struct {
	// MinTrailingSilence is the least silence required before a turn can
	// end at all.
	MinTrailingSilence time.Duration
	// MaxTrailingSilence ends the turn unconditionally, even mid-sentence.
	MaxTrailingSilence time.Duration
}

func DefaultSmartTurnParams() SmartTurnParams {
	return SmartTurnParams{
		MinTrailingSilence: 100 * time.Millisecond,
		MaxTrailingSilence: 3 * time.Second,
	}
}

// SmartTurnDetector approximates a semantic end-of-turn decision: short
// pauses only end the turn when the transcript looks complete, while long
// pauses always do. A model-backed analyzer can replace it behind the
// TurnDetector contract.
type SmartTurnDetector struct {
	params SmartTurnParams
}

func NewSmartTurnDetector(params SmartTurnParams) *SmartTurnDetector {
	defaults := DefaultSmartTurnParams()
	if params.MinTrailingSilence == 0 {
		params.MinTrailingSilence = defaults.MinTrailingSilence
	}
	if params.MaxTrailingSilence == 0 {
		params.MaxTrailingSilence = defaults.MaxTrailingSilence
	}
	return &SmartTurnDetector{params: params}
}

func (d *SmartTurnDetector) EndOfTurn(transcript string, trailingSilence time.Duration) bool {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return false
	}
	if trailingSilence < d.params.MinTrailingSilence {
		return false
	}
	if trailingSilence >= d.params.MaxTrailingSilence {
		return true
	}

	return !endsMidSentence(transcript)
}

// HoldTimeout matches the unconditional cutoff: a turn held open past
// MaxTrailingSilence is closed even mid-sentence.
func (d *SmartTurnDetector) HoldTimeout() time.Duration {
	return d.params.MaxTrailingSilence
}

func (d *SmartTurnDetector) Reset() {}

var continuationSuffixes = []string{
	"and", "or", "but", "so", "because", "um", "uh", "the", "a", "an",
	"to", "of", "with", "like",
}

func endsMidSentence(transcript string) bool {
	if strings.HasSuffix(transcript, ",") || strings.HasSuffix(transcript, "-") {
		return true
	}

	words := strings.Fields(strings.ToLower(strings.TrimRight(transcript, ".?!")))
	if len(words) == 0 {
		return true
	}
	last := words[len(words)-1]
	for _, suffix := range continuationSuffixes {
		if last == suffix {
			return true
		}
	}
	return false
}
