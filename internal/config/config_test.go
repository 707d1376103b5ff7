package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 6, d.Window.Capacity)
	assert.Equal(t, ModeSequential, d.Window.Mode)
	assert.Equal(t, ":memory:", d.Store.DSN)
	assert.Equal(t, "features.bin", d.Vectors.Path)
	assert.Equal(t, BackendFile, d.Vectors.Backend)
	assert.Equal(t, "info", d.Logging.Level)
	assert.Equal(t, 30, d.API.TimeoutSeconds)
}

func TestLoadJSON(t *testing.T) {
	raw := []byte(`{
		"api": {"base_url": "https://annotate.example.com/api/"},
		"window": {"capacity": 8, "mode": "prioritized"},
		"logging": {"level": "debug", "format": "json"}
	}`)
	file, err := LoadJSON("", raw)
	require.NoError(t, err)

	cfg := Merge(Defaults(), file)
	assert.Equal(t, "https://annotate.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 8, cfg.Window.Capacity)
	assert.Equal(t, ModePrioritized, cfg.Window.Mode)
	assert.Equal(t, ":memory:", cfg.Store.DSN, "unset fields keep defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NoError(t, Validate(cfg))
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown": 1}`))
	assert.Error(t, err)

	_, err = LoadJSON("", nil)
	assert.Error(t, err)
}

func TestLoadJSONFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annokitt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"window": {"mode": "offline"}}`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, cfg.Window.Mode)
}

func TestFromEnv(t *testing.T) {
	over, err := FromEnv([]string{
		"ANNOKITT_API_BASE_URL=http://localhost:8080",
		"ANNOKITT_API_TOKEN=secret",
		"ANNOKITT_MODE=Prioritized",
		"ANNOKITT_WINDOW_CAPACITY=10",
		"ANNOKITT_VECTORS_BACKEND=SQLite",
		"HOME=/root",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", over.API.BaseURL)
	assert.Equal(t, "secret", over.API.Token)
	assert.Equal(t, ModePrioritized, over.Window.Mode)
	assert.Equal(t, 10, over.Window.Capacity)
	assert.Equal(t, BackendSQLite, Merge(Defaults(), over).Vectors.Backend)

	_, err = FromEnv([]string{"ANNOKITT_WINDOW_CAPACITY=six"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"sequential with url", func(c *Config) { c.API.BaseURL = "http://x" }, true},
		{"sequential without url", func(c *Config) {}, false},
		{"offline without url", func(c *Config) { c.Window.Mode = ModeOffline }, true},
		{"unknown mode", func(c *Config) { c.Window.Mode = "shuffle"; c.API.BaseURL = "http://x" }, false},
		{"odd capacity", func(c *Config) { c.Window.Mode = ModeOffline; c.Window.Capacity = 5 }, false},
		{"tiny capacity", func(c *Config) { c.Window.Mode = ModeOffline; c.Window.Capacity = 0 }, false},
		{"bad format", func(c *Config) { c.Window.Mode = ModeOffline; c.Logging.Format = "xml" }, false},
		{"sqlite features", func(c *Config) { c.Window.Mode = ModeOffline; c.Vectors.Backend = BackendSQLite }, true},
		{"unknown backend", func(c *Config) { c.Window.Mode = ModeOffline; c.Vectors.Backend = "faiss" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestLoadValidates(t *testing.T) {
	_, err := Load("", nil)
	assert.ErrorIs(t, err, ErrInvalid)

	cfg, err := Load("", []string{"ANNOKITT_MODE=offline"})
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, cfg.Window.Mode)
}
