package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"reeltrack/models"
	"reeltrack/services/loader"

	"github.com/gorilla/mux"
)

type viewRegistry interface {
	Open(username string) *loader.View
	Get(id string) (*loader.View, error)
	Close(id string) error
	List() []loader.ViewInfo
	LoadOnce(ctx context.Context, username string) (models.LoadState, error)
}

var _ viewRegistry = (*loader.Registry)(nil)

type usernamePayload struct {
	Username string `json:"username"`
}

type viewResponse struct {
	ID    string           `json:"id"`
	State models.LoadState `json:"state"`
}

// ViewsHandler exposes watched-movie views to the front end.
type ViewsHandler struct {
	Registry viewRegistry
}

func NewViewsHandler(registry viewRegistry) *ViewsHandler {
	return &ViewsHandler{Registry: registry}
}

// CreateView opens a view and starts its initial load.
func (h *ViewsHandler) CreateView(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeUsername(w, r)
	if !ok {
		return
	}

	view := h.Registry.Open(payload.Username)
	state := view.Loader.State()
	if wantsWait(r) {
		var err error
		state, err = view.Loader.Wait(r.Context())
		if err != nil {
			writeLoaderError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(viewResponse{ID: view.ID, State: state})
}

func (h *ViewsHandler) ListViews(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Registry.List())
}

// GetView returns the current state of a view.
func (h *ViewsHandler) GetView(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view.Loader.State())
}

// UpdateView rebinds a view to another username, reloading if it changed.
func (h *ViewsHandler) UpdateView(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	payload, ok := decodeUsername(w, r)
	if !ok {
		return
	}

	if !wantsWait(r) {
		username := payload.Username
		view.Loader.Go(func(ctx context.Context) {
			view.Loader.SetUsername(ctx, username)
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(view.Loader.State())
		return
	}

	state, _, err := view.Loader.SetUsername(r.Context(), payload.Username)
	if err != nil {
		writeLoaderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// Refresh re-runs the load cycle for the view's username.
func (h *ViewsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if !wantsWait(r) {
		view.Loader.Go(func(ctx context.Context) {
			view.Loader.Refresh(ctx)
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(view.Loader.State())
		return
	}

	state, err := view.Loader.Refresh(r.Context())
	if err != nil {
		writeLoaderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *ViewsHandler) DeleteView(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["viewID"])
	if err := h.Registry.Close(id); err != nil {
		writeLoaderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LoadWatched runs a single load cycle without keeping a view around.
func (h *ViewsHandler) LoadWatched(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	state, err := h.Registry.LoadOnce(r.Context(), username)
	if err != nil {
		writeLoaderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *ViewsHandler) lookup(w http.ResponseWriter, r *http.Request) (*loader.View, bool) {
	id := strings.TrimSpace(mux.Vars(r)["viewID"])
	if id == "" {
		http.Error(w, "view id is required", http.StatusBadRequest)
		return nil, false
	}
	view, err := h.Registry.Get(id)
	if err != nil {
		writeLoaderError(w, err)
		return nil, false
	}
	return view, true
}

// decodeUsername reads an optional {"username": "..."} body.
func decodeUsername(w http.ResponseWriter, r *http.Request) (usernamePayload, bool) {
	var payload usernamePayload
	if r.Body == nil {
		return payload, true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return payload, false
	}
	payload.Username = strings.TrimSpace(payload.Username)
	return payload, true
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

func writeLoaderError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, loader.ErrViewNotFound):
		status = http.StatusNotFound
	case errors.Is(err, loader.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, loader.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), status)
}
