package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pricepulse/pricepulse-bot/internal/analyzer"
	"github.com/pricepulse/pricepulse-bot/internal/config"
	"github.com/pricepulse/pricepulse-bot/internal/feed"
	"github.com/pricepulse/pricepulse-bot/internal/pipeline"
	"github.com/pricepulse/pricepulse-bot/internal/platform"
	"github.com/pricepulse/pricepulse-bot/internal/price"
	"github.com/pricepulse/pricepulse-bot/internal/publisher"
	"github.com/pricepulse/pricepulse-bot/internal/scheduler"
	"github.com/pricepulse/pricepulse-bot/internal/storage"
)

type Server struct {
	sched *scheduler.Scheduler
	store *storage.Client
}

func main() {
	slog.Info("Starting PricePulse bot...")
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.ProjectID)
	if err != nil {
		slog.Error("Critical error initializing Firestore client", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Every collaborator is constructed exactly once here and shared by all
	// task invocations for the process lifetime.
	priceSvc := price.NewService(cfg.PriceAPIURL, cfg.PriceCurrency, cfg.MaxRetries, cfg.PriceCallTimeout)
	fetcher := feed.NewFetcher(cfg.FeedAPIURL, cfg.FeedAPIKey, cfg.FeedCallTimeout)

	gemini, err := analyzer.NewGeminiScorer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("Critical error initializing Gemini client", "error", err)
		os.Exit(1)
	}
	if gemini == nil {
		slog.Warn("GEMINI_API_KEY not set, all analyses will use the lexicon fallback")
	}
	analysisSvc := analyzer.NewService(store, gemini, analyzer.NewLexiconScorer(), cfg.AnalyzerCallTimeout)

	adapters := platform.BuildAdapters(cfg.Platforms)
	if len(adapters) == 0 {
		slog.Warn("No platform adapters enabled, publish cycles will fail until one is configured")
	}
	pub := publisher.New(adapters, store, cfg.SendTimeout)
	gate := publisher.NewGate(store, cfg.SuppressionWindow)

	pipe := pipeline.New(store, priceSvc, fetcher, analysisSvc, gate, pub, cfg)

	sched := scheduler.New(cfg.SchedulePlan, cfg.Timezone,
		withTimeout(pipe.RunPublishCycle, 4*time.Minute),
		withTimeout(pipe.RunIngestCycle, 4*time.Minute),
		withTimeout(pipe.RunAnalysisCycle, 10*time.Minute),
		cfg.IngestInterval, cfg.AnalysisInterval)
	sched.Start(ctx)
	defer sched.Stop()

	srv := &Server{sched: sched, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /trigger/publish", srv.TriggerPublishHandler)
	mux.HandleFunc("POST /schedule", srv.RearmScheduleHandler)
	mux.HandleFunc("GET /stats/publishes", srv.PublishStatsHandler)
	mux.HandleFunc("GET /stats/analyses", srv.AnalysisStatsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port, "nextPublish", sched.NextPublishAt())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

// withTimeout bounds every scheduled cycle; a stuck upstream cannot wedge the
// scheduler loop.
func withTimeout(task scheduler.Task, timeout time.Duration) scheduler.Task {
	return func(ctx context.Context) error {
		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return task(taskCtx)
	}
}

// TriggerPublishHandler runs the identical pipeline as a scheduled firing,
// same suppression and fallback rules included. Work happens asynchronously
// so the HTTP response isn't blocked by upstream calls.
func (s *Server) TriggerPublishHandler(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		if !s.sched.TriggerPublishNow(ctx) {
			slog.Warn("Manual publish trigger skipped, cycle already running")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Publish cycle started.")
}

// RearmScheduleHandler replaces the live publish plan with the submitted
// comma-separated HH:MM list, same format as the SCHEDULE variable.
func (s *Server) RearmScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	plan, err := config.ParseSchedulePlan(r.PostFormValue("schedule"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}
	if !s.sched.Rearm(plan) {
		http.Error(w, "scheduler is not running", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintf(w, "Schedule updated, next publish at %s.\n", s.sched.NextPublishAt().Format(time.RFC3339))
}

func (s *Server) PublishStatsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.RecentPublishes(r.Context(), 20)
	if err != nil {
		slog.Error("Failed to load recent publishes", "error", err)
		http.Error(w, "failed to load publish history", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		slog.Error("Failed to encode publish history", "error", err)
	}
}

func (s *Server) AnalysisStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AnalysisStatistics(r.Context(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		slog.Error("Failed to load analysis statistics", "error", err)
		http.Error(w, "failed to load analysis statistics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Error("Failed to encode analysis statistics", "error", err)
	}
}
