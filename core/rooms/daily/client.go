// Package daily implements the room broker against the Daily REST API.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prediqt/voicepipe/core/rooms"
)

const (
	defaultBaseURL = "https://api.daily.co/v1"

	// sessionExpiry bounds both the room and its access token.
	sessionExpiry = 8 * time.Hour
)

// Broker provisions private Daily rooms with owner tokens.
type Broker struct {
	apiKey     string
	baseURL    string
	domain     string
	httpClient *http.Client
}

var _ rooms.Broker = (*Broker)(nil)

type Option func(*Broker)

func WithBaseURL(baseURL string) Option {
	return func(b *Broker) { b.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(b *Broker) { b.httpClient = httpClient }
}

// NewBroker creates a broker for the given Daily domain (the subdomain of
// *.daily.co that room URLs live under).
func NewBroker(apiKey, domain string, opts ...Option) *Broker {
	broker := &Broker{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		domain:     domain,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(broker)
	}
	return broker
}

type roomProperties struct {
	Expiry     float64 `json:"exp"`
	EnableChat bool    `json:"enable_chat"`
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type tokenProperties struct {
	RoomName        string  `json:"room_name"`
	Expiry          float64 `json:"exp"`
	IsOwner         bool    `json:"is_owner"`
	EjectAtTokenExp bool    `json:"eject_at_token_exp"`
}

type createTokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Provision creates a private room with chat enabled and an 8 hour expiry,
// then issues an 8 hour owner token that ejects its holder at expiry.
//
// Room creation is allowed to fail: the broker falls back to the
// deterministic room URL for the same name, so a room that already exists
// (or a transient API failure) degrades silently instead of aborting the
// session. Token issuance failure is returned as-is.
func (b *Broker) Provision(ctx context.Context, name string) (rooms.Room, string, error) {
	expiry := time.Now().Add(sessionExpiry)

	room, err := b.createRoom(ctx, name, expiry)
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.AddEvent("room creation degraded, using fallback room")
		if !isAlreadyExists(err) {
			log.Printf("Room creation for %q degraded: %v", name, err)
			span.RecordError(err)
		}
		room = rooms.Room{
			Name:   name,
			URL:    fmt.Sprintf("https://%s.daily.co/%s", b.domain, name),
			Expiry: expiry,
		}
	}

	token, err := b.issueToken(ctx, name, expiry)
	if err != nil {
		return rooms.Room{}, "", fmt.Errorf("failed to issue room token: %w", err)
	}

	return room, token, nil
}

// Release deletes the room by name. It never fails: an error is logged and
// treated as the room already being gone.
func (b *Broker) Release(ctx context.Context, name string) bool {
	req, err := b.newRequest(ctx, http.MethodDelete, "/rooms/"+name, nil)
	if err != nil {
		log.Printf("Failed to build room deletion request for %q: %v", name, err)
		return false
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		log.Printf("Failed to delete room %q: %v", name, err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("Failed to delete room %q: unexpected status %s", name, resp.Status)
		return false
	}
	return true
}

func (b *Broker) createRoom(ctx context.Context, name string, expiry time.Time) (rooms.Room, error) {
	body := createRoomRequest{
		Name:    name,
		Privacy: "private",
		Properties: roomProperties{
			Expiry:     float64(expiry.Unix()),
			EnableChat: true,
		},
	}

	var created roomResponse
	if err := b.post(ctx, "/rooms", body, &created); err != nil {
		return rooms.Room{}, err
	}

	return rooms.Room{Name: created.Name, URL: created.URL, Expiry: expiry}, nil
}

func (b *Broker) issueToken(ctx context.Context, roomName string, expiry time.Time) (string, error) {
	body := createTokenRequest{
		Properties: tokenProperties{
			RoomName:        roomName,
			Expiry:          float64(expiry.Unix()),
			IsOwner:         true,
			EjectAtTokenExp: true,
		},
	}

	var issued tokenResponse
	if err := b.post(ctx, "/meeting-tokens", body, &issued); err != nil {
		return "", err
	}
	return issued.Token, nil
}

func (b *Broker) post(ctx context.Context, path string, body any, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := b.newRequest(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := &apiError{Status: resp.StatusCode, Body: string(respBody)}
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
	}
	return nil
}

func (b *Broker) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	return req, nil
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daily api returned status %d: %s", e.Status, e.Body)
}

// isAlreadyExists distinguishes the benign idempotency case (the named room
// is already there) from genuine provisioning failure. Both fall back to the
// deterministic URL, but only the latter is worth logging.
func isAlreadyExists(err error) bool {
	apiErr, ok := err.(*apiError)
	if !ok {
		return false
	}
	return apiErr.Status == http.StatusBadRequest &&
		strings.Contains(apiErr.Body, "already exists")
}
