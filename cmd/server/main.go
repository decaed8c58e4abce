// Mingle - real-time "find your match" party game server
// Entry point for the web server
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/findosh/mingle/internal/config"
	"github.com/findosh/mingle/internal/handlers"
	"github.com/findosh/mingle/internal/middleware"
	"github.com/findosh/mingle/internal/realtime"
	"github.com/findosh/mingle/internal/services/assignment"
	"github.com/findosh/mingle/internal/services/auth"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/findosh/mingle/internal/services/lobby"
	"github.com/findosh/mingle/internal/services/matching"
	"github.com/findosh/mingle/internal/services/presence"
	"github.com/findosh/mingle/internal/storage"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	db, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	sessionRepo := storage.NewSessionRepository(db)
	playerRepo := storage.NewPlayerRepository(db)

	// Realtime fan-out and leaderboard throttling
	hub := realtime.NewHub(cfg.Debug)
	leaderboards := lobby.NewLeaderboards(sessionRepo, playerRepo)
	throttler := broadcast.NewThrottler(cfg.ThrottleInterval, leaderboards, hub)

	// Initialize services
	authService := auth.NewService(cfg)
	lobbyService := lobby.NewService(sessionRepo, playerRepo, authService, hub, throttler, cfg.DefaultMaxPlayers)
	presenceManager := presence.NewManager(sessionRepo, playerRepo, authService, hub, throttler)
	assignmentEngine := assignment.NewEngine(playerRepo)
	matchProtocol := matching.NewProtocol(playerRepo, matching.Rewards{
		Finder:            cfg.FinderReward,
		Found:             cfg.FoundReward,
		WrongGuessPenalty: cfg.WrongGuessPenalty,
	}, hub, throttler)

	// Initialize handlers
	h := handlers.New(
		cfg,
		authService,
		lobbyService,
		leaderboards,
		presenceManager,
		assignmentEngine,
		matchProtocol,
		hub,
	)
	mux := h.Routes(middleware.NewAuth(authService))

	// Apply global middleware
	handler := middleware.Chain(
		mux,
		middleware.Recover,
		middleware.SecurityHeaders,
		middleware.Logger,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Mingle server starting on http://localhost%s", srv.Addr)
		log.Printf("Environment: %s", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	// Let deferred leaderboard pushes fire before the store closes
	throttler.Close()
}
