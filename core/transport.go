package session

import (
	"context"
	"time"
)

// TransportEventKind enumerates client lifecycle events a transport reports.
type TransportEventKind string

const (
	TransportClientConnected    TransportEventKind = "client_connected"
	TransportClientDisconnected TransportEventKind = "client_disconnected"
)

// TransportEvent is one client lifecycle notification from the transport.
type TransportEvent struct {
	Kind TransportEventKind
	At   time.Time
}

// Transport is the media connection between the session and the client. It
// joins the brokered room, surfaces client lifecycle events, and moves raw
// audio both ways.
type Transport interface {
	// Join connects the transport to the room using brokered credentials.
	Join(ctx context.Context, roomURL, token string) error

	// Events delivers client lifecycle notifications. The channel closes
	// when the transport leaves the room.
	Events() <-chan TransportEvent

	// AudioIn delivers bounded chunks of inbound client audio. The channel
	// closes when the transport leaves the room.
	AudioIn() <-chan []byte

	// WriteAudio plays one chunk of synthesized audio to the client.
	WriteAudio(chunk []byte) error

	// FlushAudio discards any synthesized audio buffered but not yet
	// played. Called on interruption.
	FlushAudio()

	// Leave disconnects from the room and closes the event and audio
	// channels. Safe to call more than once.
	Leave(ctx context.Context) error
}
