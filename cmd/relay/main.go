package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/voice-support-relay/internal/audio"
	"github.com/voice-support-relay/internal/kb"
	"github.com/voice-support-relay/internal/logging"
	"github.com/voice-support-relay/internal/relay"
	"github.com/voice-support-relay/internal/ticket"
	"github.com/voice-support-relay/internal/tools"
)

const realtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

const systemMessage = "You are a helpful and professional AI support assistant for a customer helpdesk. " +
	"Answer questions using the search_knowledge_base tool whenever the caller asks about a product or service. " +
	"Early in the call, ask for the caller's email address and save it with save_user_email. " +
	"Once the caller has clearly stated their issue, record it with set_reason_for_calling. " +
	"If the knowledge base has no answer, let the caller know a support ticket will be filed on their behalf. " +
	"Keep responses short and conversational; you are speaking over the phone."

const greetingPrompt = "Greet the user with: \"Hello! I'm your AI support assistant. How can I help you today?\""

// Options are the runtime settings, populated from flags with environment
// fallbacks.
type Options struct {
	Addr          string `long:"addr" env:"ADDR" default:":5050" description:"HTTP listen address"`
	PublicHost    string `long:"public-host" env:"PUBLIC_HOST" description:"externally visible host for the media stream URL (defaults to the request host)"`
	OpenAIKey     string `long:"openai-api-key" env:"OPENAI_API_KEY" description:"OpenAI API key"`
	Voice         string `long:"voice" env:"VOICE" default:"alloy" description:"realtime voice"`
	RecordingsDir string `long:"recordings-dir" env:"RECORDINGS_DIR" default:"call_recordings" description:"directory for per-call recordings"`

	HelpdeskURL      string `long:"helpdesk-url" env:"KAYAKO_API_URL" description:"helpdesk API base URL"`
	HelpdeskEmail    string `long:"helpdesk-email" env:"KAYAKO_EMAIL" description:"helpdesk agent email"`
	HelpdeskPassword string `long:"helpdesk-password" env:"KAYAKO_PASSWORD" description:"helpdesk agent password"`
	RequesterID      int    `long:"default-requester-id" env:"DEFAULT_REQUESTER_ID" default:"309" description:"requester id used when the caller gives no email"`

	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"Postgres DSN for knowledge base embeddings"`

	RecordingRetention time.Duration `long:"recording-retention" env:"RECORDING_RETENTION" default:"168h" description:"how long call recordings are kept"`
	RecordingMaxCalls  int           `long:"recording-max-calls" env:"RECORDING_MAX_CALLS" default:"500" description:"cap on retained call directories"`
}

func main() {
	// Missing .env is fine; real deployments configure the environment.
	_ = godotenv.Load()

	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	logging.Init()
	defer func() { _ = logging.Sync() }()

	if opts.OpenAIKey == "" {
		logging.Fatalw("OPENAI_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayCfg, err := buildRelayConfig(ctx, opts)
	if err != nil {
		logging.Fatalw("startup failed", "err", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	audio.StartRecordingCleaner(ctx, &wg, opts.RecordingsDir, opts.RecordingRetention, time.Hour, opts.RecordingMaxCalls)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Voice support relay is running"})
	})
	e.GET("/incoming-call", incomingCall(opts))
	e.POST("/incoming-call", incomingCall(opts))
	e.GET("/media-stream", mediaStream(opts, relayCfg))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logging.Warnw("server shutdown", "err", err)
		}
	}()

	logging.Infow("listening", "addr", opts.Addr)
	if err := e.Start(opts.Addr); err != nil && err != http.ErrServerClosed {
		logging.Fatalw("server failed", "err", err)
	}
	wg.Wait()
}

// buildRelayConfig assembles the per-call collaborators. The knowledge base
// and helpdesk are optional; without them the assistant still answers, it
// just cannot search articles or file tickets.
func buildRelayConfig(ctx context.Context, opts Options) (relay.Config, error) {
	var knowledge tools.KnowledgeBase
	if opts.DatabaseURL != "" {
		store, err := kb.NewPgStore(ctx, opts.DatabaseURL)
		if err != nil {
			return relay.Config{}, fmt.Errorf("knowledge base store: %w", err)
		}
		knowledge = kb.NewEngine(store, opts.OpenAIKey)
	} else {
		logging.Warnw("DATABASE_URL not set, knowledge base search disabled")
	}

	var finalize relay.Finalizer
	if opts.HelpdeskURL != "" && opts.HelpdeskEmail != "" && opts.HelpdeskPassword != "" {
		client := ticket.NewClient(opts.HelpdeskURL, opts.HelpdeskEmail, opts.HelpdeskPassword)
		transcriber := audio.NewTranscriber(opts.OpenAIKey)
		finalize = ticket.NewFinalizer(client, transcriber, opts.RequesterID)
	} else {
		logging.Warnw("helpdesk credentials not set, post-call tickets disabled")
	}

	return relay.Config{
		RecordingsDir: opts.RecordingsDir,
		Session: relay.SessionConfig{
			Voice:        opts.Voice,
			Instructions: systemMessage,
			Tools:        tools.Schemas(),
		},
		Greeting: greetingPrompt,
		Tools:    tools.NewDefaultDispatcher(knowledge),
		Finalize: finalize,
	}, nil
}

// incomingCall answers Twilio's webhook with TwiML that connects the call to
// the media stream endpoint.
func incomingCall(opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		host := opts.PublicHost
		if host == "" {
			host = c.Request().Host
		}
		twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say>Please wait while we connect your call to the A. I. voice assistant.</Say>
    <Pause length="1"/>
    <Say>O. K. you can start talking!</Say>
    <Connect>
        <Stream url="wss://%s/media-stream"/>
    </Connect>
</Response>`, host)
		return c.XMLBlob(http.StatusOK, []byte(twiml))
	}
}

var upgrader = websocket.Upgrader{
	// Twilio connects from its own infrastructure; origin checks do not
	// apply to machine-to-machine media streams.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mediaStream upgrades the Twilio connection, dials the realtime backend,
// and runs the relay until the call ends.
func mediaStream(opts Options, cfg relay.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		telephony, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logging.Warnw("telephony upgrade failed", "err", err)
			return err
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+opts.OpenAIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
		backend, _, err := websocket.DefaultDialer.DialContext(c.Request().Context(), realtimeURL, header)
		if err != nil {
			logging.Errorw("realtime backend dial failed", "err", err)
			_ = telephony.Close()
			return nil
		}

		callID := uuid.NewString()
		logging.Infow("call connected", "call_id", callID)
		r := relay.New(cfg, telephony, backend)
		if err := r.Run(c.Request().Context()); err != nil {
			logging.Warnw("call ended with error", "call_id", callID, "err", err)
		} else {
			logging.Infow("call ended", "call_id", callID)
		}
		return nil
	}
}
