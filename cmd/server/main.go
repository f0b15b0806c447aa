// Vectr - Incident Intelligence Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/usman-khan12/Vectr/internal/agent"
	"github.com/usman-khan12/Vectr/internal/analysis"
	"github.com/usman-khan12/Vectr/internal/api"
	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/compress"
	"github.com/usman-khan12/Vectr/internal/config"
	"github.com/usman-khan12/Vectr/internal/identity"
	"github.com/usman-khan12/Vectr/internal/imagery"
	"github.com/usman-khan12/Vectr/internal/llm"
	"github.com/usman-khan12/Vectr/internal/middleware"
	"github.com/usman-khan12/Vectr/internal/pipeline"
	"github.com/usman-khan12/Vectr/internal/transcribe"
	"github.com/usman-khan12/Vectr/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "transcriber", cfg.Transcriber)
	for name, ok := range cfg.CredentialStatus() {
		if !ok {
			slog.Warn("Credential not configured, dependent calls will fail", "setting", name)
		}
	}

	// Providers.
	p := cfg.Providers
	imageryOpts := []imagery.Option{
		imagery.WithMapsBaseURL(p.MapsBaseURL),
		imagery.WithStreetViewURL(p.StreetViewURL),
		imagery.WithTimeout(p.Timeout),
		imagery.WithLogger(logger),
	}
	images, err := imagery.NewFetcher(p.GoogleMapsAPIKey, imageryOpts...)
	if err != nil {
		slog.Error("Failed to initialize imagery fetcher", "error", err)
		os.Exit(1)
	}
	geocoder, err := imagery.NewGeocoder(p.GoogleMapsAPIKey, imageryOpts...)
	if err != nil {
		slog.Error("Failed to initialize geocoder", "error", err)
		os.Exit(1)
	}

	model := llm.NewClient(p.GeminiAPIKey,
		llm.WithModel(p.LLMModel),
		llm.WithBaseURL(p.LLMBaseURL),
		llm.WithHTTPTimeout(p.Timeout),
		llm.WithLogger(logger),
	)
	scene := analysis.NewSceneAnalyzer(model, logger)
	positioning := analysis.NewPositioningAnalyzer(model, logger)
	reports := analysis.NewReportSynthesizer(model, logger)

	compressor := compress.NewClient(p.TokenCompanyAPIKey,
		compress.WithURL(p.CompressionURL),
		compress.WithModel(p.CompressionModel),
		compress.WithTimeout(p.Timeout),
		compress.WithLogger(logger),
	)

	transcriber, err := transcribe.New(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize transcriber", "error", err)
		os.Exit(1)
	}

	enricher := pipeline.New(pipeline.Deps{
		Images:      images,
		Scene:       scene,
		Positioning: positioning,
		Structured:  positioning,
		Reports:     reports,
		Compressor:  compressor,
	}, cfg.Pipeline.Aggressiveness, logger)

	// Voice channel and tactical sessions.
	hub := channel.NewHub(cfg.Channel.MetadataLimit, logger)
	tokens := identity.NewRegistry()
	limiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	feed := agent.NewFeed(cfg)
	defer feed.Close()
	hub.AddSink(feed)

	utteranceLogger, err := agent.NewUtteranceLogger(cfg.UtteranceLog, logger)
	if err != nil {
		slog.Error("Failed to initialize utterance logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := utteranceLogger.Close(); closeErr != nil {
			slog.Error("Failed to close utterance logger", "error", closeErr)
		}
	}()
	hub.AddSink(utteranceLogger)

	supervisor := agent.NewSupervisor(agent.Tools{
		Images:      images,
		Scene:       scene,
		Positioning: positioning,
	}, agent.NewLLMVoice(model, logger), logger)
	supervisor.Attach(hub)

	hub.OnRoomClosed(func(name string) {
		revoked := tokens.RevokeRoom(name)
		feed.Forget(name)
		limiter.Forget(name)
		slog.Info("Room resources released", "room", name, "tokens_revoked", revoked)
	})

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(cfg, hub)
	incidentHandler := api.NewIncidentHandler(api.IncidentDeps{
		Enricher:         enricher,
		Geocoder:         geocoder,
		Rooms:            hub,
		Tokens:           tokens,
		Sessions:         supervisor,
		Limiter:          limiter,
		SideChannelLimit: cfg.Pipeline.SideChannelLimit,
		MaxBodySize:      cfg.SSE.MaxRequestBodySize,
	})
	emsHandler := api.NewEMSHandler(api.EMSDeps{
		Compressor:   compressor,
		Reporter:     reports,
		Transcriber:  transcriber,
		Images:       images,
		Scene:        scene,
		Structured:   positioning,
		Geocoder:     geocoder,
		DemoFallback: cfg.DemoIntakeFallback,
		MaxBodySize:  cfg.SSE.MaxRequestBodySize,
	})
	wsHandler := channel.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)
	incidentHandler.RegisterRoutes(r)
	emsHandler.RegisterRoutes(r)

	// Token-scoped routes.
	feed.RegisterRoutes(r, tokens)
	r.With(identity.Middleware(tokens)).Get("/ws/incident/{room}", wsHandler.ServeHTTP)

	// Serve embedded dispatcher console (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE and WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel.StartReaper(ctx, hub, cfg.Channel.ReapInterval, cfg.Channel.EmptyTimeout)
	slog.Info("Room reaper started", "empty_timeout", cfg.Channel.EmptyTimeout)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll("server shutting down")
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Sessions did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
