package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"reeltrack/config"
	"reeltrack/models"
)

var ErrMissingTMDBID = errors.New("record has no tmdb id")

// Options tunes the TMDB client. Zero values keep the defaults.
type Options struct {
	Language        string
	HTTPClient      *http.Client
	BaseURL         string
	RequestInterval time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
}

// Service resolves watched-movie records to TMDB details.
type Service struct {
	mu   sync.RWMutex
	tmdb *tmdbClient

	// Concurrent lookups for the same movie share one request.
	inflight singleflight.Group
}

// OptionsFromSettings maps the metadata section of settings.json.
func OptionsFromSettings(m config.MetadataSettings) Options {
	return Options{
		Language:        m.Language,
		RequestInterval: m.RequestInterval(),
		MaxAttempts:     m.MaxAttempts,
	}
}

func NewService(tmdbAPIKey string, opts Options) *Service {
	return &Service{tmdb: buildClient(tmdbAPIKey, opts)}
}

func buildClient(apiKey string, opts Options) *tmdbClient {
	c := newTMDBClient(apiKey, opts.Language, opts.HTTPClient)
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	if opts.RequestInterval > 0 {
		c.minInterval = opts.RequestInterval
	} else if opts.RequestInterval < 0 {
		c.minInterval = 0
	}
	if opts.MaxAttempts > 0 {
		c.maxAttempts = uint(opts.MaxAttempts)
	}
	if opts.RetryDelay > 0 {
		c.retryDelay = opts.RetryDelay
	}
	return c
}

// UpdateAPIKey swaps the TMDB client for one using the new key.
func (s *Service) UpdateAPIKey(tmdbAPIKey string, opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tmdb = buildClient(tmdbAPIKey, opts)
}

// IsConfigured reports whether a TMDB key is present.
func (s *Service) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tmdb.isConfigured()
}

// FetchDetails returns TMDB details for a watched record.
func (s *Service) FetchDetails(ctx context.Context, record models.WatchedMovieRecord) (*models.MovieDetails, error) {
	if record.TMDBID <= 0 {
		return nil, fmt.Errorf("%w (record %q)", ErrMissingTMDBID, record.Title)
	}
	return s.MovieDetails(ctx, record.TMDBID)
}

// MovieDetails looks up a movie by TMDB id.
func (s *Service) MovieDetails(ctx context.Context, tmdbID int64) (*models.MovieDetails, error) {
	s.mu.RLock()
	client := s.tmdb
	s.mu.RUnlock()

	if !client.isConfigured() {
		return nil, ErrNotConfigured
	}

	v, err, _ := s.inflight.Do(strconv.FormatInt(tmdbID, 10), func() (any, error) {
		return client.movieDetails(ctx, tmdbID)
	})
	if err != nil {
		return nil, fmt.Errorf("tmdb movie %d: %w", tmdbID, err)
	}

	// Callers sharing a flight must not share the pointer.
	details := *v.(*models.MovieDetails)
	if details.Genres != nil {
		details.Genres = append([]models.Genre(nil), details.Genres...)
	}
	return &details, nil
}
