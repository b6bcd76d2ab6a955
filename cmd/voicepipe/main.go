// Command voicepipe runs the voice agent session server: a websocket
// handshake gateway that brokers a media room per client and drives the
// conversation pipeline against the speech and language providers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	session "github.com/prediqt/voicepipe/core"
	"github.com/prediqt/voicepipe/core/gateway"
	"github.com/prediqt/voicepipe/core/llms"
	"github.com/prediqt/voicepipe/core/llms/openai"
	"github.com/prediqt/voicepipe/core/memories/mem0"
	"github.com/prediqt/voicepipe/core/rooms/daily"
	"github.com/prediqt/voicepipe/core/search/tavily"
	"github.com/prediqt/voicepipe/core/speechtotext/deepgram"
	"github.com/prediqt/voicepipe/core/texttospeech/cartesia"
	"github.com/prediqt/voicepipe/core/transports/wsaudio"
)

const systemPrompt = "You are Jane, a friendly and helpful assistant on a voice call. " +
	"Your responses are spoken aloud, so keep them short and conversational " +
	"and never use special characters, markup, or lists. " +
	"Start by briefly introducing yourself."

type config struct {
	addr string

	dailyAPIKey string
	dailyDomain string

	openAIAPIKey string
	openAIModel  string

	deepgramAPIKey string

	cartesiaAPIKey  string
	cartesiaVoiceID string

	mem0APIKey string
	mem0UserID string

	tavilyAPIKey string
}

func loadConfig() (config, error) {
	cfg := config{
		addr:            envOr("VOICEPIPE_ADDR", ":8080"),
		dailyAPIKey:     os.Getenv("DAILY_API_KEY"),
		dailyDomain:     os.Getenv("DAILY_DOMAIN"),
		openAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		openAIModel:     os.Getenv("OPENAI_MODEL"),
		deepgramAPIKey:  os.Getenv("DEEPGRAM_API_KEY"),
		cartesiaAPIKey:  os.Getenv("CARTESIA_API_KEY"),
		cartesiaVoiceID: os.Getenv("CARTESIA_VOICE_ID"),
		mem0APIKey:      os.Getenv("MEM0_API_KEY"),
		mem0UserID:      envOr("MEM0_USER_ID", "voicepipe"),
		tavilyAPIKey:    os.Getenv("TAVILY_API_KEY"),
	}

	for name, value := range map[string]string{
		"DAILY_API_KEY":     cfg.dailyAPIKey,
		"DAILY_DOMAIN":      cfg.dailyDomain,
		"OPENAI_API_KEY":    cfg.openAIAPIKey,
		"DEEPGRAM_API_KEY":  cfg.deepgramAPIKey,
		"CARTESIA_API_KEY":  cfg.cartesiaAPIKey,
		"CARTESIA_VOICE_ID": cfg.cartesiaVoiceID,
	} {
		if value == "" {
			return config{}, fmt.Errorf("%s is required", name)
		}
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := daily.NewBroker(cfg.dailyAPIKey, cfg.dailyDomain)

	connect := func(ctx context.Context) (gateway.Handshake, error) {
		var llmOpts []openai.Option
		if cfg.openAIModel != "" {
			llmOpts = append(llmOpts, openai.WithModel(cfg.openAIModel))
		}

		opts := []session.Option{
			session.WithSystemPrompt(systemPrompt),
			session.WithIntroduction(),
			session.WithStreamingLLM(openai.NewClient(cfg.openAIAPIKey, llmOpts...)),
			session.WithSpeechToTextClient(deepgram.NewTranscriptionClient(cfg.deepgramAPIKey)),
			session.WithTextToSpeechClient(cartesia.NewTextToSpeechClient(cfg.cartesiaAPIKey, cfg.cartesiaVoiceID)),
		}

		var tools []llms.Tool
		if cfg.tavilyAPIKey != "" {
			tools = append(tools, tavily.NewClient(cfg.tavilyAPIKey).Tool())
		}
		if len(tools) > 0 {
			opts = append(opts, session.WithTools(tools...))
		}

		if cfg.mem0APIKey != "" {
			store := mem0.NewClient(cfg.mem0APIKey, cfg.mem0UserID,
				mem0.WithAgentID("jane"),
			)
			opts = append(opts, session.WithMemoryStore(store))
		}

		s := session.New(broker, wsaudio.New(), opts...)

		room, token, err := s.Provision(ctx)
		if err != nil {
			return gateway.Handshake{}, err
		}

		return gateway.Handshake{
			RoomURL: room.URL,
			Token:   token,
			Run:     s.Run,
		}, nil
	}

	g := gateway.New(cfg.addr, connect)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("gateway listening", "addr", cfg.addr)
		return g.ListenAndServe(ctx)
	})

	if err := group.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
