package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Backend  BackendSettings  `json:"backend"`
	Metadata MetadataSettings `json:"metadata"`
	Loader   LoaderSettings   `json:"loader"`
	Log      LogConfig        `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// BackendSettings points at the watched-movie service.
type BackendSettings struct {
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"apiKey"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type MetadataSettings struct {
	TMDBAPIKey        string `json:"tmdbApiKey"`
	Language          string `json:"language"`
	RequestIntervalMs int    `json:"requestIntervalMs"`
	MaxAttempts       int    `json:"maxAttempts"`
}

type LoaderSettings struct {
	MaxConcurrentDetails int `json:"maxConcurrentDetails"` // 0 = one goroutine per record
	ViewIdleMinutes      int `json:"viewIdleMinutes"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// BackendTimeout returns the HTTP timeout for the watched-movie service.
func (b BackendSettings) BackendTimeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// RequestInterval returns the minimum spacing between TMDB requests.
func (m MetadataSettings) RequestInterval() time.Duration {
	if m.RequestIntervalMs < 0 {
		return 0
	}
	return time.Duration(m.RequestIntervalMs) * time.Millisecond
}

// ViewIdleTimeout returns how long an untouched view lives.
func (l LoaderSettings) ViewIdleTimeout() time.Duration {
	if l.ViewIdleMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(l.ViewIdleMinutes) * time.Minute
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7780},
		Backend:  BackendSettings{BaseURL: "http://localhost:8000", APIKey: "", TimeoutSeconds: 15},
		Metadata: MetadataSettings{TMDBAPIKey: "", Language: "en", RequestIntervalMs: 20, MaxAttempts: 3},
		Loader:   LoaderSettings{MaxConcurrentDetails: 0, ViewIdleMinutes: 30},
		Log: LogConfig{
			File:       "cache/logs/reeltrack.log",
			Level:      "info",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
	fs   afero.Fs
}

func NewManager(configPath string) *Manager {
	return NewManagerWithFs(configPath, afero.NewOsFs())
}

// NewManagerWithFs is NewManager on an arbitrary filesystem.
func NewManagerWithFs(configPath string, fsys afero.Fs) *Manager {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Manager{path: configPath, fs: fsys}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return m.fs.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
// Environment overrides are applied after decoding and are never persisted.
func (m *Manager) Load() (Settings, error) {
	s, err := m.LoadPersisted()
	if err != nil {
		return Settings{}, err
	}
	applyEnvOverrides(&s)
	return s, nil
}

// LoadPersisted is Load without environment overrides.
func (m *Manager) LoadPersisted() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := m.fs.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := m.fs.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	normalize(&s)
	return s, nil
}

func normalize(s *Settings) {
	defaults := DefaultSettings()
	s.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(s.Backend.BaseURL), "/")
	s.Backend.APIKey = strings.TrimSpace(s.Backend.APIKey)
	s.Metadata.TMDBAPIKey = strings.TrimSpace(s.Metadata.TMDBAPIKey)
	if strings.TrimSpace(s.Metadata.Language) == "" {
		s.Metadata.Language = defaults.Metadata.Language
	}
	if s.Metadata.MaxAttempts <= 0 {
		s.Metadata.MaxAttempts = defaults.Metadata.MaxAttempts
	}
	if s.Loader.MaxConcurrentDetails < 0 {
		s.Loader.MaxConcurrentDetails = 0
	}
	if s.Server.Port <= 0 {
		s.Server.Port = defaults.Server.Port
	}
}

type envOverride struct {
	env   string
	key   string
	apply func(*Settings, string)
}

var envOverrides = []envOverride{
	{"TMDB_API_KEY", "metadata.tmdbApiKey", func(s *Settings, v string) { s.Metadata.TMDBAPIKey = v }},
	{"WATCHED_BACKEND_URL", "backend.baseUrl", func(s *Settings, v string) { s.Backend.BaseURL = strings.TrimRight(v, "/") }},
	{"WATCHED_BACKEND_API_KEY", "backend.apiKey", func(s *Settings, v string) { s.Backend.APIKey = v }},
}

func applyEnvOverrides(s *Settings) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			o.apply(s, v)
		}
	}
}

// EnvOverrides lists the settings keys currently replaced by environment
// variables, e.g. "metadata.tmdbApiKey".
func EnvOverrides() []string {
	var keys []string
	for _, o := range envOverrides {
		if strings.TrimSpace(os.Getenv(o.env)) != "" {
			keys = append(keys, o.key)
		}
	}
	return keys
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(tmp)
		return err
	}
	return m.fs.Rename(tmp, m.path)
}
