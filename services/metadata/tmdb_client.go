package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/text/language"

	"reeltrack/models"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	// Posters: w500 is plenty for list cards; backdrops: w1280 for 1080p backgrounds
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
)

var (
	ErrNotConfigured = errors.New("tmdb api key not configured")
	ErrMovieNotFound = errors.New("tmdb movie not found")
)

// statusError carries a non-2xx TMDB response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tmdb request failed: %s", e.status)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client

	maxAttempts uint
	retryDelay  time.Duration

	// Rate limiting
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func newTMDBClient(apiKey, lang string, httpc *http.Client) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &tmdbClient{
		apiKey:      strings.TrimSpace(apiKey),
		language:    normalizeLanguage(lang),
		baseURL:     tmdbBaseURL,
		httpc:       httpc,
		maxAttempts: 3,
		retryDelay:  300 * time.Millisecond,
		minInterval: 20 * time.Millisecond, // TMDB has generous rate limits
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

func (c *tmdbClient) throttle(ctx context.Context) error {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()
	if wait := c.minInterval - time.Since(c.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// doGET performs an HTTP GET with rate limiting and retry with exponential backoff.
// Network errors, 429 and 5xx are retried; any other failure is returned at once.
func (c *tmdbClient) doGET(ctx context.Context, endpoint string, v any) error {
	attempts := c.maxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			if err := c.throttle(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := c.httpc.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				serr := &statusError{code: resp.StatusCode, status: resp.Status}
				if serr.retryable() {
					return serr
				}
				if resp.StatusCode == http.StatusNotFound {
					return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrMovieNotFound, serr))
				}
				return retry.Unrecoverable(serr)
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode tmdb response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[tmdb] request failed (attempt %d/%d): %v", n+1, attempts, err)
		}),
	)
}

type tmdbMovieResponse struct {
	ID               int64   `json:"id"`
	IMDBID           string  `json:"imdb_id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	OriginalLanguage string  `json:"original_language"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	ReleaseDate      string  `json:"release_date"`
	Runtime          int     `json:"runtime"`
	VoteAverage      float64 `json:"vote_average"`
	Popularity       float64 `json:"popularity"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	Genres           []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

func (c *tmdbClient) movieDetails(ctx context.Context, tmdbID int64) (*models.MovieDetails, error) {
	if !c.isConfigured() {
		return nil, ErrNotConfigured
	}

	endpoint, err := url.JoinPath(c.baseURL, "movie", strconv.FormatInt(tmdbID, 10))
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("language", c.language)
	u.RawQuery = q.Encode()

	var movie tmdbMovieResponse
	if err := c.doGET(ctx, u.String(), &movie); err != nil {
		return nil, err
	}

	details := &models.MovieDetails{
		ID:             fmt.Sprintf("tmdb:movie:%d", movie.ID),
		TMDBID:         movie.ID,
		IMDBID:         movie.IMDBID,
		Title:          movie.Title,
		OriginalTitle:  movie.OriginalTitle,
		Overview:       movie.Overview,
		Tagline:        movie.Tagline,
		ReleaseDate:    movie.ReleaseDate,
		Year:           parseTMDBYear(movie.ReleaseDate),
		RuntimeMinutes: movie.Runtime,
		VoteAverage:    movie.VoteAverage,
		Popularity:     movie.Popularity,
		Language:       movie.OriginalLanguage,
		Poster:         buildTMDBImage(movie.PosterPath, tmdbPosterSize, "poster"),
		Backdrop:       buildTMDBImage(movie.BackdropPath, tmdbBackdropSize, "backdrop"),
	}
	for _, g := range movie.Genres {
		details.Genres = append(details.Genres, models.Genre{ID: g.ID, Name: g.Name})
	}

	return details, nil
}

func parseTMDBYear(date string) int {
	if date == "" {
		return 0
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.Year()
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			return y
		}
	}
	return 0
}

func buildTMDBImage(imagePath, size, imageType string) *models.Image {
	trimmed := strings.TrimSpace(imagePath)
	if trimmed == "" {
		return nil
	}
	fullPath := path.Join(size, strings.TrimPrefix(trimmed, "/"))
	return &models.Image{
		URL:  fmt.Sprintf("%s/%s", tmdbImageBaseURL, fullPath),
		Type: imageType,
	}
}

// normalizeLanguage turns user input like "en", "pt_br" or "de-at" into the
// language-REGION form TMDB expects.
func normalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return "en-US"
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "en-US"
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf != language.Exact {
		region = language.MustParseRegion("US")
	}
	return base.String() + "-" + region.String()
}
