// Package gateway serves the control-channel handshake: a client opens a
// websocket, receives brokered room credentials as a single JSON message,
// and the connection closes. The media session then runs out-of-band over
// the room transport.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

const (
	connectPath      = "/connect"
	handshakeTimeout = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Handshake is the credential payload returned to the client, plus the
// session runner the gateway launches after the reply is on the wire.
type Handshake struct {
	RoomURL string `json:"room_url"`
	Token   string `json:"token"`

	// Run drives the brokered session. Started in the background once the
	// handshake reply is delivered; never sent to the client.
	Run func(ctx context.Context) error `json:"-"`
}

// ConnectFunc provisions one session for an incoming client. It is called
// serially, one handshake at a time.
type ConnectFunc func(ctx context.Context) (Handshake, error)

// Gateway is the websocket handshake server. Each accepted connection
// provisions a session through the connect callback, replies with the
// credentials, closes the socket, and runs the session in the background.
type Gateway struct {
	addr    string
	connect ConnectFunc

	upgrader websocket.Upgrader

	handshakeMu sync.Mutex
	sessions    sync.WaitGroup

	baseCtx context.Context
}

func New(addr string, connect ConnectFunc) *Gateway {
	return &Gateway{
		addr:    addr,
		connect: connect,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ListenAndServe serves handshakes until ctx is cancelled, then drains
// in-flight sessions.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.baseCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc(connectPath, g.handleConnect)

	server := &http.Server{
		Addr:              g.addr,
		Handler:           otelhttp.NewHandler(mux, "gateway"),
		ReadHeaderTimeout: handshakeTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down gateway server: %w", err)
	}

	g.sessions.Wait()
	return nil
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "gateway.handshake")
	defer span.End()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	defer conn.Close()

	// One handshake at a time: provisioning races against the same broker
	// account otherwise.
	g.handshakeMu.Lock()
	handshake, err := g.connect(ctx)
	g.handshakeMu.Unlock()
	if err != nil {
		recordedErr := fmt.Errorf("failed to provision session: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(time.Second))
		return
	}

	if err := conn.WriteJSON(handshake); err != nil {
		recordedErr := fmt.Errorf("failed to deliver handshake: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	if handshake.Run == nil {
		return
	}

	g.sessions.Add(1)
	go func() {
		defer g.sessions.Done()
		if err := handshake.Run(g.baseCtx); err != nil {
			logger.ErrorContext(g.baseCtx, "session ended with error", "error", err)
		}
	}()
}
