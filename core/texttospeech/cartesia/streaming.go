// Package cartesia implements streaming speech synthesis over the Cartesia
// websocket API.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prediqt/voicepipe/core/audio"
	"github.com/prediqt/voicepipe/core/texttospeech"
)

const (
	synthesizeURL = "wss://api.cartesia.ai/tts/websocket"

	defaultModel      = "sonic-3"
	defaultAPIVersion = "2025-04-16"

	// maxTrackedCancellations bounds the cancelled-context set. Chunks for
	// a cancelled context stop arriving shortly after the cancel request,
	// so only the most recent entries still matter.
	maxTrackedCancellations = 8
)

type TextToSpeechClient struct {
	apiKey     string
	model      string
	voice      string
	apiVersion string

	mu             sync.Mutex
	conn           *websocket.Conn
	contextID      string
	options        texttospeech.TextToSpeechOptions
	cancelled      map[string]bool
	cancelledOrder []string
}

type Option func(*TextToSpeechClient)

func WithModel(model string) Option {
	return func(c *TextToSpeechClient) { c.model = model }
}

func WithAPIVersion(version string) Option {
	return func(c *TextToSpeechClient) { c.apiVersion = version }
}

func NewTextToSpeechClient(apiKey, voice string, opts ...Option) *TextToSpeechClient {
	client := &TextToSpeechClient{
		apiKey:     apiKey,
		model:      defaultModel,
		voice:      voice,
		apiVersion: defaultAPIVersion,
		cancelled:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type synthesizeRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceConfig  `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language"`
	ContextID    string       `json:"context_id"`
	Continue     bool         `json:"continue"`
}

type cancelRequest struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

type voiceConfig struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type synthesizeResponse struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
	Data      string `json:"data"`
	Error     string `json:"error"`
}

// OpenStream connects the synthesis websocket and starts a fresh
// generation context.
func (c *TextToSpeechClient) OpenStream(ctx context.Context, opts ...texttospeech.TextToSpeechOption) error {
	options := texttospeech.TextToSpeechOptions{EncodingInfo: audio.DefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	if c.apiKey == "" {
		return fmt.Errorf("cartesia api key not set")
	}

	synthesisUrl, _ := url.Parse(synthesizeURL)
	queryParams := synthesisUrl.Query()
	queryParams.Set("api_key", c.apiKey)
	queryParams.Set("cartesia_version", c.apiVersion)
	synthesisUrl.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, synthesisUrl.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to open socket connection to cartesia: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.contextID = uuid.NewString()
	c.options = options
	c.mu.Unlock()

	go c.readAndProcessMessages(conn)

	return nil
}

// SendText streams one text increment into the current generation context.
func (c *TextToSpeechClient) SendText(text string) error {
	return c.sendTranscript(text, true)
}

// EndOfText marks the current utterance complete; synthesis finishes the
// remaining buffered text and fires the speech-ended callback.
func (c *TextToSpeechClient) EndOfText() error {
	return c.sendTranscript("", false)
}

func (c *TextToSpeechClient) sendTranscript(text string, more bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("synthesis stream is not open")
	}

	request := synthesizeRequest{
		ModelID:    c.model,
		Transcript: text,
		Voice:      voiceConfig{Mode: "id", ID: c.voice},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.options.EncodingInfo.SampleRate,
		},
		Language:  "en",
		ContextID: c.contextID,
		Continue:  more,
	}
	if err := c.conn.WriteJSON(request); err != nil {
		return fmt.Errorf("failed to write to cartesia client: %w", err)
	}
	if !more {
		// continue=false closes the synthesis context server-side.
		c.contextID = uuid.NewString()
	}
	return nil
}

// Cancel aborts the in-flight generation context mid-utterance. Audio
// chunks still in flight for that context are dropped.
func (c *TextToSpeechClient) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.contextID == "" {
		return nil
	}

	c.markCancelledLocked(c.contextID)
	if err := c.conn.WriteJSON(cancelRequest{ContextID: c.contextID, Cancel: true}); err != nil {
		return fmt.Errorf("failed to cancel cartesia context: %w", err)
	}
	c.contextID = uuid.NewString()
	return nil
}

// markCancelledLocked records a cancelled context and evicts the oldest
// entries past the tracking bound. Callers hold c.mu.
func (c *TextToSpeechClient) markCancelledLocked(contextID string) {
	c.cancelled[contextID] = true
	c.cancelledOrder = append(c.cancelledOrder, contextID)
	for len(c.cancelledOrder) > maxTrackedCancellations {
		delete(c.cancelled, c.cancelledOrder[0])
		c.cancelledOrder = c.cancelledOrder[1:]
	}
}

func (c *TextToSpeechClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close cartesia connection: %w", err)
	}
	return nil
}

func (c *TextToSpeechClient) readAndProcessMessages(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Println("Failed to read cartesia websocket message:", err)
			}

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			return
		}

		var response synthesizeResponse
		if err := json.Unmarshal(msg, &response); err != nil {
			log.Println("Failed to unmarshal cartesia message:", err)
			continue
		}

		c.mu.Lock()
		stale := c.cancelled[response.ContextID]
		options := c.options
		c.mu.Unlock()
		if stale {
			continue
		}

		switch response.Type {
		case "chunk":
			chunk, err := base64.StdEncoding.DecodeString(response.Data)
			if err != nil {
				log.Println("Failed to decode cartesia audio chunk:", err)
				continue
			}
			if options.SpeechAudioCallback != nil {
				options.SpeechAudioCallback(chunk)
			}

		case "done":
			if options.SpeechEndedCallback != nil {
				options.SpeechEndedCallback()
			}

		case "error":
			log.Println("Cartesia synthesis error:", response.Error)
		}
	}
}
