// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/config"
	"github.com/capitalize-ai/conversation-actors/internal/conversation"
	"github.com/capitalize-ai/conversation-actors/internal/handler"
	"github.com/capitalize-ai/conversation-actors/internal/llm"
	"github.com/capitalize-ai/conversation-actors/internal/middleware"
	natsclient "github.com/capitalize-ai/conversation-actors/internal/nats"
	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
	"github.com/capitalize-ai/conversation-actors/internal/service"
	"github.com/capitalize-ai/conversation-actors/internal/store"
	redisstore "github.com/capitalize-ai/conversation-actors/internal/store/redis"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
	"github.com/capitalize-ai/conversation-actors/pkg/tracing"
)

const reviewerInstructions = `You review the assistant's draft answer to the user.
Correct mistakes and fill gaps. If the draft is already good, repeat it unchanged.
Reply only with the final answer for the user.`

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.FromEnv(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server",
		zap.String("state_backend", cfg.StateBackend),
		zap.String("policy", cfg.OrchestrationPolicy),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-actors", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// State store and event stream
	var (
		stateStore store.Store
		events     conversation.EventSink
		pinger     handler.Pinger
	)
	switch cfg.StateBackend {
	case config.BackendNATS:
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "conversation-actors",
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		kv, err := natsclient.EnsureStateBucket(ctx, natsClient, cfg.NATSKVBucket)
		if err != nil {
			log.Fatal("failed to open state bucket", zap.Error(err))
		}
		if err := natsclient.EnsureStream(ctx, natsClient); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}

		stateStore = kv
		events = natsclient.NewEventPublisher(natsClient)
		pinger = natsClient

	case config.BackendRedis:
		rs, err := redisstore.Connect(ctx, cfg.RedisURL, cfg.StateKeyPrefix)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rs.Close()

		stateStore = rs
		pinger = rs

	default:
		log.Warn("using in-memory state; conversations are lost on restart")
		stateStore = store.NewMemoryStore()
	}
	stateStore = store.Instrument(cfg.StateBackend, stateStore)

	// LLM client and agents
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}

	policy, err := buildPolicy(cfg, llmClient, log)
	if err != nil {
		log.Fatal("failed to build turn policy", zap.Error(err))
	}

	engine, err := orchestration.NewEngine(policy, orchestration.Options{
		MaxRounds: cfg.OrchestrationMaxRounds,
		Deadline:  cfg.OrchestrationDeadline,
		Reducer:   llm.NewStructuredReducer(llmClient, cfg.LLMModel),
		Logger:    log,
	})
	if err != nil {
		log.Fatal("failed to create orchestration engine", zap.Error(err))
	}

	// Initialize services
	conversationSvc := service.NewConversationService(service.Config{
		Store:         stateStore,
		Engine:        engine,
		Summarizer:    llm.NewSummarizer(llmClient, cfg.LLMModel),
		Events:        events,
		IdleTTL:       cfg.ActorIdleTTL,
		SweepInterval: cfg.ActorSweepInterval,
		MailboxSize:   cfg.ActorMailboxSize,
		IndexTimeout:  cfg.IndexTimeout,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(cfg.StateBackend, pinger, conversationSvc.ActiveConversations)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(conversationSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes; a missing token means the anonymous owner
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.Logging(log))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := conversationSvc.Close(shutdownCtx); err != nil {
		log.Error("failed to drain actors", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	return llm.NewClient(llm.ClientConfig{
		Provider: provider,
		APIKey:   key,
		Model:    cfg.LLMModel,
	})
}

// buildPolicy assembles the agents for the configured turn policy. The
// assistant always speaks first; multi-agent policies add a reviewer.
func buildPolicy(cfg *config.Config, client llm.Client, log *logger.Logger) (orchestration.TurnPolicy, error) {
	assistant := llm.NewChatAgent(client, llm.AgentConfig{
		Name:        "assistant",
		Description: "Answers the user's question.",
		Model:       cfg.LLMModel,
		MaxHistory:  cfg.AgentMaxHistory,
	}, log)
	reviewer := llm.NewChatAgent(client, llm.AgentConfig{
		Name:         "reviewer",
		Description:  "Checks and improves the assistant's draft.",
		Instructions: reviewerInstructions,
		Model:        cfg.LLMModel,
		MaxHistory:   cfg.AgentMaxHistory,
	}, log)

	switch cfg.OrchestrationPolicy {
	case config.PolicySingle:
		return orchestration.Single(assistant), nil
	case config.PolicyRoundRobin:
		return orchestration.RoundRobin(assistant, reviewer), nil
	case config.PolicyManager:
		return orchestration.ManagerDriven(llm.NewManager(client, cfg.LLMModel, log), assistant, reviewer), nil
	default:
		return orchestration.TurnPolicy{}, fmt.Errorf("unknown policy %q", cfg.OrchestrationPolicy)
	}
}
