package loader

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reeltrack/models"
)

var ErrViewNotFound = errors.New("view not found")

// View is one activated loader owned by a client screen.
type View struct {
	ID        string
	CreatedAt time.Time
	Loader    *Loader

	lastSeen atomic.Int64
}

func (v *View) touch(now time.Time) {
	v.lastSeen.Store(now.UnixNano())
}

// LastSeen returns when the view was last accessed.
func (v *View) LastSeen() time.Time {
	return time.Unix(0, v.lastSeen.Load()).UTC()
}

// ViewInfo is the listing form of a view.
type ViewInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Registry tracks the open views.
type Registry struct {
	source      WatchedSource
	details     DetailFetcher
	opts        Options
	idleTimeout time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	views map[string]*View
}

func NewRegistry(source WatchedSource, details DetailFetcher, opts Options, idleTimeout time.Duration) *Registry {
	return &Registry{
		source:      source,
		details:     details,
		opts:        opts,
		idleTimeout: idleTimeout,
		now:         time.Now,
		views:       make(map[string]*View),
	}
}

// Open creates a view for username and starts its initial load in the
// background.
func (r *Registry) Open(username string) *View {
	now := r.now()
	view := &View{
		ID:        uuid.NewString(),
		CreatedAt: now.UTC(),
		Loader:    New(r.source, r.details, username, r.opts),
	}
	view.touch(now)

	r.mu.Lock()
	r.views[view.ID] = view
	r.mu.Unlock()

	view.Loader.Go(func(ctx context.Context) {
		if _, err := view.Loader.Activate(ctx); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("[views] initial load for view %s: %v", view.ID, err)
		}
	})

	log.Printf("[views] opened view %s for %q", view.ID, strings.TrimSpace(username))
	return view
}

// Get returns the view and marks it as recently used.
func (r *Registry) Get(id string) (*View, error) {
	r.mu.RLock()
	view, ok := r.views[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrViewNotFound
	}
	view.touch(r.now())
	return view, nil
}

// Close removes the view and stops its loader.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	view, ok := r.views[strings.TrimSpace(id)]
	if ok {
		delete(r.views, view.ID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	view.Loader.Close()
	log.Printf("[views] closed view %s", view.ID)
	return nil
}

// List returns all open views, oldest first.
func (r *Registry) List() []ViewInfo {
	r.mu.RLock()
	out := make([]ViewInfo, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, ViewInfo{
			ID:        v.ID,
			Username:  v.Loader.Username(),
			CreatedAt: v.CreatedAt,
			LastSeen:  v.LastSeen(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// LoadOnce runs a single cycle without registering a view.
func (r *Registry) LoadOnce(ctx context.Context, username string) (models.LoadState, error) {
	return LoadOnce(ctx, r.source, r.details, username, r.opts)
}

// Sweep closes views idle for longer than the idle timeout and returns how
// many were closed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var stale []*View
	for id, v := range r.views {
		if v.LastSeen().Before(cutoff) {
			stale = append(stale, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range stale {
		v.Loader.Close()
		log.Printf("[views] closed idle view %s", v.ID)
	}
	return len(stale)
}

// Run sweeps idle views every interval until ctx is done, then closes all views.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// CloseAll stops every open view.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.views = make(map[string]*View)
	r.mu.Unlock()

	for _, v := range views {
		v.Loader.Close()
	}
}
