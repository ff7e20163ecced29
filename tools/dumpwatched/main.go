package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"reeltrack/config"
	"reeltrack/services/loader"
	"reeltrack/services/metadata"
	"reeltrack/services/watched"
)

func main() {
	var (
		configPath = flag.String("config", "cache/settings.json", "Path to backend settings.json")
		username   = flag.String("user", "", "Username to load (empty loads the current user)")
	)
	flag.Parse()

	mgr := config.NewManager(*configPath)
	settings, err := mgr.Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := watched.NewClient(settings.Backend.BaseURL, settings.Backend.APIKey, &http.Client{Timeout: settings.Backend.BackendTimeout()})
	details := metadata.NewService(settings.Metadata.TMDBAPIKey, metadata.OptionsFromSettings(settings.Metadata))

	state, err := loader.LoadOnce(ctx, source, details, *username, loader.Options{
		MaxConcurrentDetails: settings.Loader.MaxConcurrentDetails,
	})
	if err != nil {
		stop()
		log.Fatalf("load interrupted: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		log.Fatalf("encode state: %v", err)
	}
	if state.HasError() {
		stop()
		os.Exit(1)
	}
}
