package loader

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"

	"reeltrack/models"
)

//go:generate mockgen -source=loader.go -destination=mock_sources_test.go -package=loader

// LoadErrorMessage is what the view layer sees when the base fetch fails.
const LoadErrorMessage = "Failed to load watched movies"

var (
	ErrClosed     = errors.New("loader closed")
	ErrSuperseded = errors.New("load cycle superseded by a newer one")
)

// WatchedSource returns a user's watched movies; an empty username means the
// current user.
type WatchedSource interface {
	WatchedMovies(ctx context.Context, username string) ([]models.WatchedMovieRecord, error)
}

// DetailFetcher enriches a single watched record.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, record models.WatchedMovieRecord) (*models.MovieDetails, error)
}

type Options struct {
	// MaxConcurrentDetails caps the enrichment fan-out. Zero runs one
	// goroutine per record.
	MaxConcurrentDetails int
}

// Loader owns the watched-movie state for one view.
//
// Every cycle takes a new generation number and cancels the one before it.
// Only the cycle holding the latest generation may write to the state, so a
// slow earlier cycle can never overwrite a newer result.
type Loader struct {
	source  WatchedSource
	details DetailFetcher
	opts    Options

	lifetime context.Context
	stop     context.CancelFunc
	bg       conc.WaitGroup

	mu          sync.Mutex
	state       models.LoadState
	username    string
	generation  uint64
	cancelCycle context.CancelFunc
	activated   bool
	closed      bool
	subscribers map[chan models.LoadState]struct{}
}

func New(source WatchedSource, details DetailFetcher, username string, opts Options) *Loader {
	lifetime, stop := context.WithCancel(context.Background())
	username = strings.TrimSpace(username)
	return &Loader{
		source:      source,
		details:     details,
		opts:        opts,
		lifetime:    lifetime,
		stop:        stop,
		username:    username,
		state:       models.LoadState{Items: []models.EnrichedWatchedMovie{}, Username: username},
		subscribers: make(map[chan models.LoadState]struct{}),
	}
}

// State returns a snapshot of the current state.
func (l *Loader) State() models.LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Username returns the username the loader is bound to.
func (l *Loader) Username() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.username
}

// Activate runs the initial load. Later calls are no-ops.
func (l *Loader) Activate(ctx context.Context) (models.LoadState, error) {
	l.mu.Lock()
	if l.activated && !l.closed {
		state := l.state.Clone()
		l.mu.Unlock()
		return state, nil
	}
	c, err := l.beginLocked(ctx, l.username)
	l.mu.Unlock()
	if err != nil {
		return l.State(), err
	}
	return l.run(c)
}

// SetUsername rebinds the loader. A new cycle starts only when the username
// differs from the current one and the loader has been activated.
func (l *Loader) SetUsername(ctx context.Context, username string) (models.LoadState, bool, error) {
	username = strings.TrimSpace(username)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.State(), false, ErrClosed
	}
	if username == l.username {
		state := l.state.Clone()
		l.mu.Unlock()
		return state, false, nil
	}
	l.username = username
	if !l.activated {
		l.state.Username = username
		state := l.state.Clone()
		l.mu.Unlock()
		return state, false, nil
	}
	c, err := l.beginLocked(ctx, username)
	l.mu.Unlock()
	if err != nil {
		return l.State(), false, err
	}

	state, err := l.run(c)
	return state, true, err
}

// Refresh re-runs the cycle for the username bound when the cycle starts.
func (l *Loader) Refresh(ctx context.Context) (models.LoadState, error) {
	l.mu.Lock()
	c, err := l.beginLocked(ctx, l.username)
	l.mu.Unlock()
	if err != nil {
		return l.State(), err
	}
	return l.run(c)
}

// Load binds the loader to username and runs one full cycle: base fetch,
// concurrent enrichment, commit.
//
// A failed base fetch is reported through the state's Error, not the returned
// error. The returned error is ErrClosed, ErrSuperseded, or the context error
// when the caller gave up; in the last case items and error stay as they were.
func (l *Loader) Load(ctx context.Context, username string) (models.LoadState, error) {
	username = strings.TrimSpace(username)

	l.mu.Lock()
	c, err := l.beginLocked(ctx, username)
	l.mu.Unlock()
	if err != nil {
		return l.State(), err
	}
	return l.run(c)
}

// cycle is one issued load.
type cycle struct {
	gen      uint64
	username string
	ctx      context.Context
	done     func()
}

func (l *Loader) run(c cycle) (models.LoadState, error) {
	defer c.done()

	started := time.Now()
	records, err := l.source.WatchedMovies(c.ctx, c.username)
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		return l.abandon(c, ctxErr)
	}
	if err != nil {
		log.Printf("[loader] watched movies for %q failed: %v", c.username, err)
		return l.commit(c, func(s *models.LoadState) {
			msg := LoadErrorMessage
			s.Error = &msg
			s.Loading = false
		})
	}

	items := l.enrich(c.ctx, records)
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		return l.abandon(c, ctxErr)
	}

	state, err := l.commit(c, func(s *models.LoadState) {
		s.Items = items
		s.Loading = false
	})
	if err != nil {
		return state, err
	}

	log.Printf("[loader] loaded %d watched movie(s) for %q in %s", len(items), c.username, time.Since(started).Round(time.Millisecond))
	return state, nil
}

// beginLocked issues a new generation bound to username, cancels the
// previous cycle and publishes loading=true with the error cleared. Items are
// left in place. The caller holds l.mu.
func (l *Loader) beginLocked(ctx context.Context, username string) (cycle, error) {
	if l.closed {
		return cycle{}, ErrClosed
	}
	if l.cancelCycle != nil {
		l.cancelCycle()
	}

	l.generation++
	gen := l.generation
	l.activated = true
	l.username = username

	cycleCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(l.lifetime, cancel)
	l.cancelCycle = cancel

	l.state.Loading = true
	l.state.Error = nil
	l.state.Username = username
	l.state.Generation = gen
	l.notifyLocked()

	return cycle{
		gen:      gen,
		username: username,
		ctx:      cycleCtx,
		done: func() {
			stopOnClose()
			cancel()
		},
	}, nil
}

// staleLocked reports why gen may no longer write to the state.
func (l *Loader) staleLocked(gen uint64) error {
	switch {
	case l.closed:
		return ErrClosed
	case gen != l.generation:
		return ErrSuperseded
	}
	return nil
}

// commit applies mutate only if c is still the latest cycle.
func (l *Loader) commit(c cycle, mutate func(*models.LoadState)) (models.LoadState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.staleLocked(c.gen); err != nil {
		slog.Debug("discarding stale cycle", "component", "loader", "generation", c.gen, "username", c.username, "reason", err)
		return l.state.Clone(), err
	}
	mutate(&l.state)
	now := time.Now().UTC()
	l.state.UpdatedAt = &now
	l.cancelCycle = nil
	l.notifyLocked()
	return l.state.Clone(), nil
}

// abandon ends a cycle whose context was cancelled. Only loading is
// cleared; items and error keep the last completed result.
func (l *Loader) abandon(c cycle, cause error) (models.LoadState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.staleLocked(c.gen); err != nil {
		slog.Debug("discarding stale cycle", "component", "loader", "generation", c.gen, "username", c.username, "reason", err)
		return l.state.Clone(), err
	}
	log.Printf("[loader] cycle %d for %q cancelled: %v", c.gen, c.username, cause)
	l.state.Loading = false
	l.cancelCycle = nil
	l.notifyLocked()
	return l.state.Clone(), cause
}

// enrich fetches details for every record concurrently and keeps the input
// order. A failing record gets nil details; it never fails the batch.
func (l *Loader) enrich(ctx context.Context, records []models.WatchedMovieRecord) []models.EnrichedWatchedMovie {
	if len(records) == 0 {
		return []models.EnrichedWatchedMovie{}
	}

	workers := l.opts.MaxConcurrentDetails
	if workers <= 0 || workers > len(records) {
		workers = len(records)
	}

	mapper := iter.Mapper[models.WatchedMovieRecord, models.EnrichedWatchedMovie]{MaxGoroutines: workers}
	return mapper.Map(records, func(rec *models.WatchedMovieRecord) models.EnrichedWatchedMovie {
		return models.EnrichedWatchedMovie{
			WatchedMovieRecord: *rec,
			FullDetails:        l.fetchDetails(ctx, *rec),
		}
	})
}

func (l *Loader) fetchDetails(ctx context.Context, rec models.WatchedMovieRecord) (details *models.MovieDetails) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[loader] details for tmdb %d (%s) panicked: %v", rec.TMDBID, rec.Title, r)
			details = nil
		}
	}()

	details, err := l.details.FetchDetails(ctx, rec)
	if err != nil {
		log.Printf("[loader] details for tmdb %d (%s) unavailable: %v", rec.TMDBID, rec.Title, err)
		return nil
	}
	return details
}

// Go runs op in the background, bound to the loader's lifetime.
// It is a no-op once the loader is closed.
func (l *Loader) Go(op func(ctx context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	ctx := l.lifetime
	l.bg.Go(func() { op(ctx) })
}

// Subscribe returns a channel that receives a snapshot after every state
// change. Slow readers only see the latest snapshot. The channel is closed
// by unsubscribe or Close.
func (l *Loader) Subscribe() (<-chan models.LoadState, func()) {
	ch := make(chan models.LoadState, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if _, ok := l.subscribers[ch]; ok {
				delete(l.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (l *Loader) notifyLocked() {
	if len(l.subscribers) == 0 {
		return
	}
	snapshot := l.state.Clone()
	for ch := range l.subscribers {
		select {
		case ch <- snapshot:
		default:
			// drop the unread snapshot in favour of the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// Wait blocks until at least one cycle has finished and none is running.
func (l *Loader) Wait(ctx context.Context) (models.LoadState, error) {
	updates, unsubscribe := l.Subscribe()
	defer unsubscribe()

	for {
		state := l.State()
		if state.Generation > 0 && !state.Loading {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return l.State(), ErrClosed
			}
		}
	}
}

// Close cancels any running cycle, waits for background work and releases
// subscribers. The final state never reports loading. Further loads return
// ErrClosed.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.cancelCycle != nil {
		l.cancelCycle()
		l.cancelCycle = nil
	}
	l.stop()
	if l.state.Loading {
		l.state.Loading = false
		l.notifyLocked()
	}
	for ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = make(map[chan models.LoadState]struct{})
	l.mu.Unlock()

	l.bg.Wait()
}

// LoadOnce runs a single cycle on a throwaway loader. The error is non-nil
// only when ctx ended before the cycle completed.
func LoadOnce(ctx context.Context, source WatchedSource, details DetailFetcher, username string, opts Options) (models.LoadState, error) {
	l := New(source, details, username, opts)
	defer l.Close()
	return l.Load(ctx, username)
}
