package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	twilioclient "github.com/twilio/twilio-go"

	"github.com/steven-haddix/nomnom/internal/config"
	"github.com/steven-haddix/nomnom/internal/handler"
	"github.com/steven-haddix/nomnom/internal/service/agent"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
	"github.com/steven-haddix/nomnom/internal/service/speech"
	telnyxservice "github.com/steven-haddix/nomnom/internal/service/telnyx"
	"github.com/steven-haddix/nomnom/internal/service/transcribe"
	"github.com/steven-haddix/nomnom/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	rdb, err := store.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	callStore := store.NewCallStore(rdb)
	historyStore := store.NewHistoryStore(rdb)

	if err := store.Migrate(cfg.Database.URL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	pool, err := store.OpenPostgres(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	restaurants := store.NewRestaurantStore(pool)

	transcriber := transcribe.NewService(transcribe.Config{APIKey: cfg.Deepgram.APIKey})
	synthesizer := speech.NewService(speech.Config{
		APIKey:       cfg.ElevenLabs.APIKey,
		VoiceID:      cfg.ElevenLabs.VoiceID,
		Model:        cfg.ElevenLabs.ModelID,
		OutputFormat: cfg.ElevenLabs.OutputFormat,
	})

	calls := callservice.NewManager(callStore, transcriber, synthesizer)

	telnyxClient := telnyxservice.NewClient(cfg.Telnyx.APIKey)
	twilioClient := twilioclient.NewRestClientWithParams(twilioclient.ClientParams{
		Username: cfg.Twilio.AccountSID,
		Password: cfg.Twilio.AuthToken,
	})

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize chat model: %v", err)
	}
	responder, err := agent.NewResponder(ctx, chatModel, historyStore, telnyxClient)
	if err != nil {
		log.Fatalf("failed to initialize responder: %v", err)
	}

	contexts := agent.NewContextFactory(restaurants)
	agents := agent.NewFactory(calls, responder, telnyxClient)

	router := handler.NewRouter(calls, contexts, agents, telnyxClient, twilioClient, cfg.Server.PublicWSURL)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("nomnom listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
