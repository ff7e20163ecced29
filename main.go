package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"reeltrack/api"
	"reeltrack/config"
	"reeltrack/handlers"
	"reeltrack/services/loader"
	"reeltrack/services/metadata"
	"reeltrack/services/watched"
	"reeltrack/utils"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🎬 reeltrack Backend Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("REELTRACK_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	logOutput := io.Writer(os.Stdout)

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			defer fileWriter.Close()
			logOutput = io.MultiWriter(os.Stdout, fileWriter)
		}
	}
	log.SetOutput(logOutput)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: parseLogLevel(settings.Log.Level)})))
	if settings.Log.File != "" {
		log.Printf("Logging to file: %s", settings.Log.File)
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	if settings.Backend.BaseURL == "" {
		fmt.Println("⚠️  No watched backend configured; loads will report an error until backend.baseUrl is set.")
	}

	metadataService := metadata.NewService(settings.Metadata.TMDBAPIKey, metadata.OptionsFromSettings(settings.Metadata))
	if !metadataService.IsConfigured() {
		fmt.Println("⚠️  TMDB API key missing; watched movies will load without details.")
	}

	watchedClient := watched.NewClient(
		settings.Backend.BaseURL,
		settings.Backend.APIKey,
		&http.Client{Timeout: settings.Backend.BackendTimeout()},
	)

	registry := loader.NewRegistry(
		watchedClient,
		metadataService,
		loader.Options{MaxConcurrentDetails: settings.Loader.MaxConcurrentDetails},
		settings.Loader.ViewIdleTimeout(),
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		registry.Run(sweepCtx, time.Minute)
	}()

	// Construct router
	var r *mux.Router = utils.NewRouter()
	settingsHandler := handlers.NewSettingsHandler(cfgManager)
	settingsHandler.SetMetadataService(metadataService) // Enable hot reload of the TMDB key
	settingsHandler.SetBackend(watchedClient)           // Enable hot reload of the backend endpoint
	api.Register(r, settingsHandler, handlers.NewViewsHandler(registry))

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)
	slog.Info("server starting",
		"addr", addr,
		"config", cfgManager.Path(),
		"backend", settings.Backend.BaseURL,
		"tmdb_configured", metadataService.IsConfigured(),
		"max_concurrent_details", settings.Loader.MaxConcurrentDetails,
	)

	// Create HTTP server with timeouts; ?wait=true requests block for a full cycle
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close every view so in-flight cycles are cancelled
	log.Println("🧹 Closing watched-movie views...")
	stopSweep()
	<-sweepDone

	slog.Info("shutdown complete")
	log.Println("✅ Shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
