// Package config loads annokitt settings: remote API, paging window, local
// store, feature index and logging.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kittclouds/annokitt/internal/diag"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid config")

// Mode selects the document ordering.
type Mode string

const (
	// ModeSequential pages by sort key through the remote API.
	ModeSequential Mode = "sequential"
	// ModePrioritized lets the server pick the next document.
	ModePrioritized Mode = "prioritized"
	// ModeOffline pages by sort key through the local store.
	ModeOffline Mode = "offline"
)

type API struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`

	// RequestsPerSecond throttles the client; 0 means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

type Window struct {
	Capacity int  `json:"capacity,omitempty"`
	Mode     Mode `json:"mode,omitempty"`
}

type Store struct {
	DSN string `json:"dsn,omitempty"`
}

// Feature index backends.
const (
	// BackendFile keeps an HNSW graph in a file at Vectors.Path.
	BackendFile = "file"
	// BackendSQLite ranks features inside the local store with sqlite-vec.
	BackendSQLite = "sqlite"
)

type Vectors struct {
	Backend string `json:"backend,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	API     API          `json:"api"`
	Window  Window       `json:"window"`
	Store   Store        `json:"store"`
	Vectors Vectors      `json:"vectors"`
	Logging diag.Logging `json:"logging"`
}

// Defaults returns a Config with every optional field filled in. The API
// base URL has no default.
func Defaults() Config {
	return Config{
		API:     API{TimeoutSeconds: 30},
		Window:  Window{Capacity: 6, Mode: ModeSequential},
		Store:   Store{DSN: ":memory:"},
		Vectors: Vectors{Backend: BackendFile, Path: "features.bin"},
		Logging: diag.Logging{Level: "info", Format: "text"},
	}
}

// LoadJSON parses a Config from raw JSON, or from path when raw is empty.
// Unknown fields are rejected.
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Merge lays over on top of base. Empty or zero values in over do not
// override.
func Merge(base, over Config) Config {
	out := base
	if v := strings.TrimSpace(over.API.BaseURL); v != "" {
		out.API.BaseURL = strings.TrimRight(v, "/")
	}
	if over.API.Token != "" {
		out.API.Token = over.API.Token
	}
	if over.API.TimeoutSeconds > 0 {
		out.API.TimeoutSeconds = over.API.TimeoutSeconds
	}
	if over.API.RequestsPerSecond > 0 {
		out.API.RequestsPerSecond = over.API.RequestsPerSecond
	}
	if over.Window.Capacity != 0 {
		out.Window.Capacity = over.Window.Capacity
	}
	if over.Window.Mode != "" {
		out.Window.Mode = over.Window.Mode
	}
	if over.Store.DSN != "" {
		out.Store.DSN = over.Store.DSN
	}
	if v := strings.ToLower(strings.TrimSpace(over.Vectors.Backend)); v != "" {
		out.Vectors.Backend = v
	}
	if over.Vectors.Path != "" {
		out.Vectors.Path = over.Vectors.Path
	}
	if v := strings.TrimSpace(over.Logging.Level); v != "" {
		out.Logging.Level = v
	}
	if v := strings.TrimSpace(over.Logging.Format); v != "" {
		out.Logging.Format = v
	}
	return out
}

// FromEnv returns an overlay built from ANNOKITT_* variables in env
// (KEY=VALUE form, as os.Environ returns).
func FromEnv(env []string) (Config, error) {
	var over Config
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "ANNOKITT_API_BASE_URL":
			over.API.BaseURL = v
		case "ANNOKITT_API_TOKEN":
			over.API.Token = v
		case "ANNOKITT_MODE":
			over.Window.Mode = Mode(strings.ToLower(strings.TrimSpace(v)))
		case "ANNOKITT_WINDOW_CAPACITY":
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return over, fmt.Errorf("%s: %w", k, err)
			}
			over.Window.Capacity = n
		case "ANNOKITT_STORE_DSN":
			over.Store.DSN = v
		case "ANNOKITT_VECTORS_BACKEND":
			over.Vectors.Backend = v
		case "ANNOKITT_LOG_LEVEL":
			over.Logging.Level = v
		}
	}
	return over, nil
}

// Validate checks a merged Config.
func Validate(cfg Config) error {
	switch cfg.Window.Mode {
	case ModeSequential, ModePrioritized:
		if strings.TrimSpace(cfg.API.BaseURL) == "" {
			return fmt.Errorf("%w: api.base_url required in %s mode", ErrInvalid, cfg.Window.Mode)
		}
	case ModeOffline:
	default:
		return fmt.Errorf("%w: unknown window.mode %q", ErrInvalid, cfg.Window.Mode)
	}
	if cfg.Window.Capacity < 2 || cfg.Window.Capacity%2 != 0 {
		return fmt.Errorf("%w: window.capacity must be even and at least 2, got %d", ErrInvalid, cfg.Window.Capacity)
	}
	if cfg.API.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: api.timeout_seconds must not be negative", ErrInvalid)
	}
	if cfg.API.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: api.requests_per_second must not be negative", ErrInvalid)
	}
	switch cfg.Vectors.Backend {
	case "", BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown vectors.backend %q", ErrInvalid, cfg.Vectors.Backend)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown logging.format %q", ErrInvalid, cfg.Logging.Format)
	}
	return nil
}

// Load assembles defaults, the optional JSON file and the environment, then
// validates the result.
func Load(path string, env []string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		file, err := LoadJSON(path, nil)
		if err != nil {
			return cfg, err
		}
		cfg = Merge(cfg, file)
	}
	over, err := FromEnv(env)
	if err != nil {
		return cfg, err
	}
	cfg = Merge(cfg, over)
	return cfg, Validate(cfg)
}
