package watched

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"reeltrack/models"
)

var (
	ErrBaseURLRequired = errors.New("watched backend url not configured")
	ErrUserNotFound    = errors.New("user not found")
	ErrUpstream        = errors.New("watched backend request failed")
	ErrInvalidUsername = errors.New("invalid username")
)

// watchedAtLayouts are tried in order; the backend has sent all of them.
var watchedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Client talks to the watched-movie backend.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpc:   httpc,
	}
}

// Reconfigure points the client at another backend. Requests already in
// flight keep the old endpoint.
func (c *Client) Reconfigure(baseURL, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c.apiKey = strings.TrimSpace(apiKey)
}

// endpoint returns the list URL for username and the API key to send; an
// empty username addresses the caller's own list.
func (c *Client) endpoint(username string) (string, string, error) {
	c.mu.RLock()
	baseURL, apiKey := c.baseURL, c.apiKey
	c.mu.RUnlock()

	if baseURL == "" {
		return "", "", ErrBaseURLRequired
	}
	username = strings.TrimSpace(username)
	var (
		endpoint string
		err      error
	)
	switch username {
	case "":
		endpoint, err = url.JoinPath(baseURL, "api", "me", "watched")
	case ".", "..":
		return "", "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	default:
		// Escaped so the name stays a single path segment.
		endpoint, err = url.JoinPath(baseURL, "api", "users", url.PathEscape(username), "watched")
	}
	return endpoint, apiKey, err
}

// WatchedMovies returns the user's watched movies in backend order.
func (c *Client) WatchedMovies(ctx context.Context, username string) ([]models.WatchedMovieRecord, error) {
	endpoint, apiKey, err := c.endpoint(username)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.TrimSpace(username) != "" {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read watched movies: %w", err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode watched movies: %w", err)
	}

	log.Printf("[watched] fetched %d record(s) for %q", len(records), username)
	return records, nil
}

// decodeRecords accepts either a bare array or an {"items": [...]} envelope.
func decodeRecords(body []byte) ([]models.WatchedMovieRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []models.WatchedMovieRecord{}, nil
	}

	var wire []wireRecord
	if trimmed[0] == '{' {
		var envelope struct {
			Items []wireRecord `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		wire = envelope.Items
	} else if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, err
	}

	records := make([]models.WatchedMovieRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.toModel())
	}
	return records, nil
}

// wireRecord tolerates both camelCase and snake_case field names.
type wireRecord struct {
	ID             json.RawMessage `json:"id"`
	TMDBID         int64           `json:"tmdbId"`
	TMDBIDSnake    int64           `json:"tmdb_id"`
	Title          string          `json:"title"`
	Rating         string          `json:"rating"`
	Mood           string          `json:"mood"`
	CurrentMood    string          `json:"current_mood"`
	WatchedAt      string          `json:"watchedAt"`
	WatchedAtSnake string          `json:"watched_at"`
}

func (w wireRecord) toModel() models.WatchedMovieRecord {
	rec := models.WatchedMovieRecord{
		ID:        rawID(w.ID),
		TMDBID:    w.TMDBID,
		Title:     w.Title,
		Rating:    normalizeRating(w.Rating),
		Mood:      w.Mood,
	}
	if rec.TMDBID == 0 {
		rec.TMDBID = w.TMDBIDSnake
	}
	if rec.Mood == "" {
		rec.Mood = w.CurrentMood
	}
	raw := w.WatchedAt
	if strings.TrimSpace(raw) == "" {
		raw = w.WatchedAtSnake
	}
	rec.WatchedAt = parseWatchedAt(raw)
	return rec
}

// parseWatchedAt returns nil for empty or unparseable timestamps; one bad
// value must not fail the whole list. Zone-less values are taken as UTC.
func parseWatchedAt(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range watchedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	log.Printf("[watched] ignoring unparseable watched_at %q", raw)
	return nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func normalizeRating(r string) models.WatchedRating {
	switch models.WatchedRating(strings.ToLower(strings.TrimSpace(r))) {
	case models.RatingDisliked:
		return models.RatingDisliked
	case models.RatingGood:
		return models.RatingGood
	case models.RatingLoved:
		return models.RatingLoved
	default:
		return models.RatingNone
	}
}
