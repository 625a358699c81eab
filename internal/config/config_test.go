package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManagerReadWriteRoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/contentdir",
		LogDir:  "/home/user/.local/share/contentdir/log",
		Storage: StorageConfig{DataDir: "/home/user/.local/share/contentdir/db"},
		Import: ImportConfig{
			MediaRoots: []string{"/media/music", "/media/video"},
			Recursive:  true,
		},
		Autoscan: []AutoscanSpec{
			{Location: "/media/music", Mode: "inotify", Recursive: true, IntervalS: 0},
		},
		TaskPool: TaskPoolConfig{Workers: 4},
		Resource: ResourceConfig{
			CacheDir:     "/home/user/.local/share/contentdir/transcode-cache",
			CacheEntries: 64,
			Profiles: []TranscodeProfile{
				{Name: "mp3-128", Command: "ffmpeg", Args: []string{"-i", "{in}", "{out}"}, ContentType: "audio/mpeg"},
			},
		},
		Metrics: MetricsConfig{Enabled: true, Listen: ":9091"},
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if len(got.Import.MediaRoots) != 2 {
		t.Fatalf("len(MediaRoots) = %d, want 2", len(got.Import.MediaRoots))
	}
	if len(got.Autoscan) != 1 || got.Autoscan[0].Mode != "inotify" {
		t.Fatalf("Autoscan = %+v, want one inotify entry", got.Autoscan)
	}
	if got.TaskPool.Workers != 4 {
		t.Errorf("TaskPool.Workers = %d, want 4", got.TaskPool.Workers)
	}
	if len(got.Resource.Profiles) != 1 || got.Resource.Profiles[0].Name != "mp3-128" {
		t.Fatalf("Resource.Profiles = %+v", got.Resource.Profiles)
	}
	if !got.Metrics.Enabled || got.Metrics.Listen != ":9091" {
		t.Errorf("Metrics = %+v, want enabled on :9091", got.Metrics)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/contentdir")

	if cfg.BaseDir != "/data/contentdir" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/contentdir")
	}
	if cfg.LogDir != "/data/contentdir/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/contentdir/log")
	}
	if cfg.Storage.DataDir != "/data/contentdir/db" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/data/contentdir/db")
	}
	if cfg.Resource.CacheEntries != 32 {
		t.Errorf("Resource.CacheEntries = %d, want 32", cfg.Resource.CacheEntries)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "contentdir.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "contentdir.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "contentdir.toml")
		cfg := NewConfig(dir)
		cfg.Import.MediaRoots = []string{"/media"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if len(got.Import.MediaRoots) != 1 || got.Import.MediaRoots[0] != "/media" {
			t.Errorf("Import.MediaRoots = %+v", got.Import.MediaRoots)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/contentdir.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
