package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"reeltrack/config"
	"reeltrack/services/metadata"
)

type settingsStore interface {
	Load() (config.Settings, error)
	LoadPersisted() (config.Settings, error)
	Save(config.Settings) error
}

type metadataReloader interface {
	UpdateAPIKey(tmdbAPIKey string, opts metadata.Options)
}

type backendReloader interface {
	Reconfigure(baseURL, apiKey string)
}

var (
	_ settingsStore    = (*config.Manager)(nil)
	_ metadataReloader = (*metadata.Service)(nil)
)

type SettingsHandler struct {
	Manager         settingsStore
	MetadataService metadataReloader
	Backend         backendReloader
}

func NewSettingsHandler(m settingsStore) *SettingsHandler {
	return &SettingsHandler{Manager: m}
}

// SetMetadataService sets the metadata service for hot reloading API keys
func (h *SettingsHandler) SetMetadataService(ms metadataReloader) {
	h.MetadataService = ms
}

// SetBackend sets the watched backend client for hot reloading its endpoint
func (h *SettingsHandler) SetBackend(b backendReloader) {
	h.Backend = b
}

// SettingsResponse is the stored settings plus the keys that environment
// variables currently override. Overridden values are not included, so a
// GET followed by a PUT never writes them to disk.
type SettingsResponse struct {
	config.Settings
	EnvOverrides []string `json:"envOverrides,omitempty"`
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.LoadPersisted()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettingsResponse{Settings: s, EnvOverrides: config.EnvOverrides()})
}

func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	// Unknown fields are ignored so older front ends can still save
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := h.Manager.Save(s); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	// Re-read so defaults and environment overrides apply to the reload
	effective, err := h.Manager.Load()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	h.reloadServices(effective)

	stored, err := h.Manager.LoadPersisted()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SettingsResponse{Settings: stored, EnvOverrides: config.EnvOverrides()})
}

// reloadServices reloads services that cache configuration at startup.
// Loader and server settings take effect on restart.
func (h *SettingsHandler) reloadServices(s config.Settings) {
	if h.MetadataService != nil {
		h.MetadataService.UpdateAPIKey(s.Metadata.TMDBAPIKey, metadata.OptionsFromSettings(s.Metadata))
		log.Printf("[settings] reloaded metadata service (language=%s)", s.Metadata.Language)
	}

	if h.Backend != nil {
		h.Backend.Reconfigure(s.Backend.BaseURL, s.Backend.APIKey)
		log.Printf("[settings] watched backend now %s", s.Backend.BaseURL)
	}
}
