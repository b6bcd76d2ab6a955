// Package wsaudio implements the session transport over a plain websocket
// media bridge: binary messages carry raw PCM audio both ways, text
// messages carry JSON peer lifecycle events from the bridge.
package wsaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	session "github.com/prediqt/voicepipe/core"
)

const (
	eventQueueCapacity = 8
	audioQueueCapacity = 32
)

type bridgeMessage struct {
	Type string `json:"type"`
}

const (
	messageClientConnected    = "client_connected"
	messageClientDisconnected = "client_disconnected"
	messageFlush              = "flush"
)

// Transport bridges session audio over a websocket connection to the room's
// media endpoint.
type Transport struct {
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	events  chan session.TransportEvent
	audioIn chan []byte
	done    chan struct{}

	leaveOnce sync.Once
}

var _ session.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		dialer:  websocket.DefaultDialer,
		events:  make(chan session.TransportEvent, eventQueueCapacity),
		audioIn: make(chan []byte, audioQueueCapacity),
		done:    make(chan struct{}),
	}
}

// Join dials the room's media endpoint and starts relaying. The token is
// presented as a bearer credential.
func (t *Transport) Join(ctx context.Context, roomURL, token string) error {
	endpoint, err := mediaEndpoint(roomURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("failed to join room %q: %w", roomURL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readAndProcessMessages(conn)

	return nil
}

func (t *Transport) Events() <-chan session.TransportEvent { return t.events }

func (t *Transport) AudioIn() <-chan []byte { return t.audioIn }

func (t *Transport) WriteAudio(chunk []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport is not joined")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write audio to bridge: %w", err)
	}
	return nil
}

// FlushAudio asks the bridge to drop synthesized audio it has buffered but
// not yet played to the client.
func (t *Transport) FlushAudio() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(bridgeMessage{Type: messageFlush}); err != nil {
		log.Println("Failed to flush bridge audio:", err)
	}
}

func (t *Transport) Leave(context.Context) error {
	t.leaveOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
	})
	return nil
}

func (t *Transport) readAndProcessMessages(conn *websocket.Conn) {
	defer close(t.audioIn)
	defer close(t.events)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case <-t.done:
				default:
					log.Println("Failed to read bridge message:", err)
				}
			}
			t.deliverEvent(session.TransportEvent{
				Kind: session.TransportClientDisconnected,
				At:   time.Now(),
			})
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			chunk := make([]byte, len(msg))
			copy(chunk, msg)
			select {
			case t.audioIn <- chunk:
			case <-t.done:
				return
			}

		case websocket.TextMessage:
			var message bridgeMessage
			if err := json.Unmarshal(msg, &message); err != nil {
				log.Println("Failed to unmarshal bridge message:", err)
				continue
			}
			switch message.Type {
			case messageClientConnected:
				t.deliverEvent(session.TransportEvent{
					Kind: session.TransportClientConnected,
					At:   time.Now(),
				})
			case messageClientDisconnected:
				t.deliverEvent(session.TransportEvent{
					Kind: session.TransportClientDisconnected,
					At:   time.Now(),
				})
			}
		}
	}
}

func (t *Transport) deliverEvent(event session.TransportEvent) {
	select {
	case t.events <- event:
	case <-t.done:
	}
}

// mediaEndpoint derives the websocket media URL from the brokered room URL.
func mediaEndpoint(roomURL string) (string, error) {
	parsed, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("invalid room url %q: %w", roomURL, err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported room url scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
