package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omni-assistant/backend/internal/ai"
	"github.com/omni-assistant/backend/internal/config"
	"github.com/omni-assistant/backend/internal/crypto"
	"github.com/omni-assistant/backend/internal/db"
	httpapi "github.com/omni-assistant/backend/internal/http"
	"github.com/omni-assistant/backend/internal/knowledge"
	"github.com/omni-assistant/backend/internal/service"
	"github.com/omni-assistant/backend/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "omni-backend").Logger()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ENCRYPTION_KEY")
	}

	embedFn := chromem.NewEmbeddingFuncOpenAICompat(
		cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, nil)
	kb, err := knowledge.New(cfg.DataDir, embedFn,
		cfg.KnowledgeEmbedTimeout, cfg.KnowledgeQueryTimeout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("knowledge store init failed")
	}

	var client ai.Client
	if cfg.AIAPIKey == "" {
		client = &ai.MockClient{}
		logger.Info().Msg("AI_API_KEY not set, using mock AI client")
	} else {
		client = &ai.HTTPClient{
			BaseURL: cfg.AIBaseURL,
			APIKey:  cfg.AIAPIKey,
			Model:   cfg.AIModel,
			Timeout: cfg.AITimeout,
			Client:  &http.Client{Timeout: cfg.AITimeout + 5*time.Second},
		}
	}

	identity := &service.Resolver{Store: store, Logger: logger}
	conversations := &service.ConversationManager{
		Store:         store,
		Logger:        logger,
		HistoryWindow: cfg.HistoryWindow,
	}
	tools := &service.ToolExecutor{Store: store, Logger: logger}
	orchestrator := &service.Orchestrator{
		AI:            client,
		Knowledge:     kb,
		Tools:         tools,
		Logger:        logger,
		MaxToolRounds: cfg.MaxToolRounds,
		KnowledgeTopK: cfg.KnowledgeTopK,
		Temperature:   cfg.AITemperature,
		MaxTokens:     cfg.AIMaxTokens,
		RetryBackoff:  cfg.RetryBackoff,
	}
	pipeline := &service.Pipeline{
		Store:         store,
		Identity:      identity,
		Conversations: conversations,
		Orchestrator:  orchestrator,
		Dispatcher: &service.Dispatcher{
			Senders: transport.NewSenderRegistry(cipher, logger, ""),
			Logger:  logger,
		},
		Limiter: service.NewSenderLimiter(cfg.SenderRate, cfg.SenderBurst),
		Logger:  logger,
	}

	queue := service.NewQueue(pipeline, logger, cfg.QueueSize, cfg.Workers, cfg.PipelineTimeout)
	queueCtx, stopQueue := context.WithCancel(ctx)
	queue.Start(queueCtx)

	router := httpapi.Router(cfg, httpapi.Deps{
		Store:     store,
		Pipeline:  pipeline,
		Queue:     queue,
		Identity:  identity,
		Tools:     tools,
		Knowledge: kb,
		Cipher:    cipher,
		Vapi:      transport.NewVapiClient(cfg.VapiBaseURL, cfg.VapiPrivateKey, logger),
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	stopQueue()
	queue.Close()
	logger.Info().Msg("server stopped")
}
