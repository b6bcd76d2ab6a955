package session

import (
	"context"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/memories"
	"github.com/prediqt/voicepipe/core/speechtotext"
	"github.com/prediqt/voicepipe/core/texttospeech"
)

// StreamingLLM is the language model contract the pipeline generates
// responses with.
type StreamingLLM interface {
	PromptWithStream(opts ...llms.StreamingPromptOption) llms.Stream
}

// SpeechToTextClient is the live transcription contract.
type SpeechToTextClient interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Close(ctx context.Context) error
}

// TextToSpeechClient is the streaming synthesis contract.
type TextToSpeechClient interface {
	OpenStream(ctx context.Context, opts ...texttospeech.TextToSpeechOption) error
	SendText(text string) error
	EndOfText() error
	Cancel() error
	Close(ctx context.Context) error
}

const (
	defaultMemorySearchLimit    = 10
	defaultMemoryScoreThreshold = 0.3
)

type Options struct {
	roomName     string
	systemPrompt string

	llm          StreamingLLM
	speechToText SpeechToTextClient
	textToSpeech TextToSpeechClient
	memory       memories.Store
	tools        []llms.Tool

	encoding       audio.EncodingInfo
	vadParams      audio.VADParams
	vadDisabled    bool
	turnDetector   audio.TurnDetector
	introduceAgent bool

	memorySearchLimit    int
	memoryScoreThreshold float64
}

type Option func(*Options)

// WithRoomName overrides the brokered room name, which otherwise derives
// from the session ID.
func WithRoomName(name string) Option {
	return func(o *Options) { o.roomName = name }
}

// WithSystemPrompt sets the base system prompt pinned at the head of the
// conversation context.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.systemPrompt = prompt }
}

func WithStreamingLLM(llm StreamingLLM) Option {
	return func(o *Options) { o.llm = llm }
}

func WithSpeechToTextClient(client SpeechToTextClient) Option {
	return func(o *Options) { o.speechToText = client }
}

func WithTextToSpeechClient(client TextToSpeechClient) Option {
	return func(o *Options) { o.textToSpeech = client }
}

// WithMemoryStore enables long-term memory recall and recording.
func WithMemoryStore(store memories.Store) Option {
	return func(o *Options) { o.memory = store }
}

// WithTools registers tools the model may invoke during a generation.
func WithTools(tools ...llms.Tool) Option {
	return func(o *Options) { o.tools = append(o.tools, tools...) }
}

func WithEncodingInfo(encoding audio.EncodingInfo) Option {
	return func(o *Options) { o.encoding = encoding }
}

// WithVADParams tunes the energy voice-activity detector used for
// interruption detection.
func WithVADParams(params audio.VADParams) Option {
	return func(o *Options) { o.vadParams = params }
}

// WithoutVAD disables local voice-activity detection; interruption then
// relies solely on the transcription provider's speech events.
func WithoutVAD() Option {
	return func(o *Options) { o.vadDisabled = true }
}

// WithTurnDetector sets the end-of-turn decision heuristic.
func WithTurnDetector(detector audio.TurnDetector) Option {
	return func(o *Options) { o.turnDetector = detector }
}

// WithIntroduction makes the agent speak first when the client connects,
// generating an opening line from the bare system prompt.
func WithIntroduction() Option {
	return func(o *Options) { o.introduceAgent = true }
}

// WithMemorySearchLimit caps how many memories a recall search returns.
func WithMemorySearchLimit(limit int) Option {
	return func(o *Options) { o.memorySearchLimit = limit }
}

// WithMemoryScoreThreshold drops recalled memories scored below the
// threshold.
func WithMemoryScoreThreshold(threshold float64) Option {
	return func(o *Options) { o.memoryScoreThreshold = threshold }
}
