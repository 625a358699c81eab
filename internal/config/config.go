// Package config implements the server's TOML configuration file, the
// read/write/init pattern carried over unchanged from the ambient stack.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level server configuration.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Storage  StorageConfig  `toml:"storage"`
	Import   ImportConfig   `toml:"import"`
	Autoscan []AutoscanSpec `toml:"autoscan"`
	TaskPool TaskPoolConfig `toml:"task_pool"`
	Resource ResourceConfig `toml:"resource"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// StorageConfig configures the SQLite catalog.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// ImportConfig configures the default import pass.
type ImportConfig struct {
	MediaRoots      []string `toml:"media_roots"`
	FollowSymlinks  bool     `toml:"follow_symlinks"`
	Hidden          bool     `toml:"hidden"`
	Recursive       bool     `toml:"recursive"`
	IgnorePatterns  []string `toml:"ignore_patterns"`       // the only ignore source; no .cdsignore file is read
	ScriptPath      string   `toml:"script_path,omitempty"` // import transformer source; empty disables transformation
}

// AutoscanSpec describes one autoscan directory. App.AddAutoscanDirectory
// turns a spec into a persisted AutoscanDirectory; the [[autoscan]] entries
// of the config file are read at startup only to decide whether an
// inotify notifier is created, and are not inserted into Storage.
type AutoscanSpec struct {
	Location   string `toml:"location"`
	Mode       string `toml:"mode"` // "timed" or "inotify"
	Recursive  bool   `toml:"recursive"`
	Hidden     bool   `toml:"hidden"`
	IntervalS  int    `toml:"interval_seconds"`
	Persistent bool   `toml:"persistent"`
}

// TaskPoolConfig configures the content manager's bounded worker pool.
type TaskPoolConfig struct {
	Workers int `toml:"workers"` // 0 defaults to runtime.NumCPU()
}

// ResourceConfig configures resource dispatch, including transcode
// profiles.
type ResourceConfig struct {
	CacheDir     string             `toml:"cache_dir"`
	CacheEntries int                `toml:"cache_entries"`
	Profiles     []TranscodeProfile `toml:"profiles"`
}

// TranscodeProfile is one transcode profile in TOML form.
type TranscodeProfile struct {
	Name        string   `toml:"name"`
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	ContentType string   `toml:"content_type"`
}

// MetricsConfig configures the Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// NewConfig returns a Config with baseDir-relative defaults filled in.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{DataDir: filepath.Join(baseDir, "db")},
		Resource: ResourceConfig{
			CacheDir:     filepath.Join(baseDir, "transcode-cache"),
			CacheEntries: 32,
		},
		TaskPool: TaskPoolConfig{Workers: 0},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
