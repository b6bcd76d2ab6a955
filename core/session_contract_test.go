package session

import (
	"context"
	"sync"
	"time"

	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/memories"
	"github.com/prediqt/voicepipe/core/rooms"
	"github.com/prediqt/voicepipe/core/speechtotext"
	"github.com/prediqt/voicepipe/core/texttospeech"
)

type fakeBroker struct {
	mu        sync.Mutex
	released  []string
	provision func(name string) (rooms.Room, string, error)
}

func (b *fakeBroker) Provision(_ context.Context, name string) (rooms.Room, string, error) {
	if b.provision != nil {
		return b.provision(name)
	}
	return rooms.Room{Name: name, URL: "https://rooms.test/" + name}, "token-" + name, nil
}

func (b *fakeBroker) Release(_ context.Context, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, name)
	return true
}

func (b *fakeBroker) releaseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.released)
}

type fakeTransport struct {
	events  chan TransportEvent
	audioIn chan []byte

	mu         sync.Mutex
	written    chan []byte
	flushes    chan struct{}
	leaveCalls int
	leaveOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(chan TransportEvent, 8),
		audioIn: make(chan []byte, 32),
		written: make(chan []byte, 64),
		flushes: make(chan struct{}, 8),
	}
}

func (t *fakeTransport) Join(context.Context, string, string) error { return nil }

func (t *fakeTransport) Events() <-chan TransportEvent { return t.events }

func (t *fakeTransport) AudioIn() <-chan []byte { return t.audioIn }

func (t *fakeTransport) WriteAudio(chunk []byte) error {
	t.written <- chunk
	return nil
}

func (t *fakeTransport) FlushAudio() {
	select {
	case t.flushes <- struct{}{}:
	default:
	}
}

func (t *fakeTransport) Leave(context.Context) error {
	t.mu.Lock()
	t.leaveCalls++
	t.mu.Unlock()
	t.leaveOnce.Do(func() {
		close(t.events)
	})
	return nil
}

func (t *fakeTransport) leaveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveCalls
}

func (t *fakeTransport) connectClient() {
	t.events <- TransportEvent{Kind: TransportClientConnected, At: time.Now()}
}

func (t *fakeTransport) disconnectClient() {
	t.events <- TransportEvent{Kind: TransportClientDisconnected, At: time.Now()}
}

// scriptedSTTClient captures the transcription callbacks so tests can fire
// speech events directly.
type scriptedSTTClient struct {
	mu      sync.Mutex
	options speechtotext.TranscriptionOptions
	ready   chan struct{}
}

func newScriptedSTTClient() *scriptedSTTClient {
	return &scriptedSTTClient{ready: make(chan struct{})}
}

func (s *scriptedSTTClient) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.Lock()
	s.options = options
	s.mu.Unlock()
	close(s.ready)
	return nil
}

func (s *scriptedSTTClient) SendAudio([]byte) error { return nil }

func (s *scriptedSTTClient) Close(context.Context) error { return nil }

func (s *scriptedSTTClient) fireSpeechStarted() {
	s.mu.Lock()
	callback := s.options.SpeechStartedCallback
	s.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (s *scriptedSTTClient) fireTranscript(transcript string) {
	s.mu.Lock()
	callback := s.options.TranscriptionCallback
	s.mu.Unlock()
	if callback != nil {
		callback(transcript)
	}
}

// scriptedTTSClient echoes every text increment back as an audio chunk.
type scriptedTTSClient struct {
	mu        sync.Mutex
	options   texttospeech.TextToSpeechOptions
	sent      []string
	ended     int
	cancelled chan struct{}
}

func newScriptedTTSClient() *scriptedTTSClient {
	return &scriptedTTSClient{cancelled: make(chan struct{}, 8)}
}

func (s *scriptedTTSClient) OpenStream(_ context.Context, opts ...texttospeech.TextToSpeechOption) error {
	options := texttospeech.TextToSpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.Lock()
	s.options = options
	s.mu.Unlock()
	return nil
}

func (s *scriptedTTSClient) SendText(text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	callback := s.options.SpeechAudioCallback
	s.mu.Unlock()
	if callback != nil {
		callback([]byte(text))
	}
	return nil
}

func (s *scriptedTTSClient) EndOfText() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	return nil
}

func (s *scriptedTTSClient) Cancel() error {
	select {
	case s.cancelled <- struct{}{}:
	default:
	}
	return nil
}

func (s *scriptedTTSClient) Close(context.Context) error { return nil }

type streamContentChunkStub struct {
	content string
}

func (stub streamContentChunkStub) FinishReason() *string { return nil }
func (stub streamContentChunkStub) Content() string       { return stub.content }

type streamToolCallChunkStub struct {
	call llms.ToolCall
}

func (stub streamToolCallChunkStub) FinishReason() *string { return nil }
func (stub streamToolCallChunkStub) ToolCall() llms.ToolCall {
	return stub.call
}

// scriptedStreamLLM replays one scripted chunk sequence per prompt and
// records the messages each prompt carried.
type scriptedStreamLLM struct {
	mu      sync.Mutex
	scripts [][]llms.StreamChunk
	prompts []llms.StreamingPromptOptions
	called  chan struct{}
}

func newScriptedStreamLLM(scripts ...[]llms.StreamChunk) *scriptedStreamLLM {
	return &scriptedStreamLLM{scripts: scripts, called: make(chan struct{}, 8)}
}

func (s *scriptedStreamLLM) PromptWithStream(opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.Lock()
	s.prompts = append(s.prompts, options)
	var chunks []llms.StreamChunk
	if len(s.scripts) > 0 {
		chunks = s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	s.mu.Unlock()

	select {
	case s.called <- struct{}{}:
	default:
	}
	return scriptedStream{chunks: chunks}
}

func (s *scriptedStreamLLM) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedStreamLLM) prompt(i int) llms.StreamingPromptOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

type scriptedStream struct {
	chunks []llms.StreamChunk
}

func (s scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range s.chunks {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// repeatingStreamLLM keeps yielding the same chunk until its context is
// cancelled, for interruption tests.
type repeatingStreamLLM struct {
	chunk    string
	interval time.Duration
}

func (s repeatingStreamLLM) PromptWithStream(...llms.StreamingPromptOption) llms.Stream {
	return repeatingStream{chunk: s.chunk, interval: s.interval}
}

type repeatingStream struct {
	chunk    string
	interval time.Duration
}

func (s repeatingStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !yield(streamContentChunkStub{content: s.chunk}, nil) {
					return
				}
			}
		}
	}
}

func memoryFixture(text string) memories.Memory {
	return memories.Memory{ID: "mem-" + text[:4], Text: text, Score: 0.9}
}

type scriptedMemoryStore struct {
	mu       sync.Mutex
	memories []memories.Memory
	recorded []string
	searches []string
}

func (s *scriptedMemoryStore) Search(_ context.Context, query string, _ ...memories.SearchOption) ([]memories.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, query)
	return s.memories, nil
}

func (s *scriptedMemoryStore) Record(_ context.Context, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, role+": "+content)
	return nil
}
