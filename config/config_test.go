package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
dataset:
  path: data/mines.csv
http:
  port: 9090
  timeout: 5s
log:
  level: debug
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Dataset.Path != "data/mines.csv" {
		t.Errorf("unexpected dataset path %q", config.Dataset.Path)
	}
	if config.Http.Port != 9090 || config.Http.Timeout != 5*time.Second {
		t.Errorf("unexpected http config %+v", config.Http)
	}
	if config.Log.Level != "debug" {
		t.Errorf("unexpected log level %q", config.Log.Level)
	}
	if config.Model.Trees != 100 || config.Model.Seed != 42 {
		t.Errorf("model defaults lost: %+v", config.Model)
	}
	if config.Dataset.Encoding != "utf-8" {
		t.Errorf("encoding default lost: %q", config.Dataset.Encoding)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	config, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Http.Port != Default().Http.Port {
		t.Errorf("expected default port, got %d", config.Http.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad yaml", body: "http: [port"},
		{name: "bad port", body: "http:\n  port: 70000\n"},
		{name: "no trees", body: "model:\n  trees: -1\n"},
		{name: "empty dataset path", body: "dataset:\n  path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	changes := make(chan *Config, 4)
	watcher, err := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watcher.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	// the directory watch is active once NewWatcher returns
	writeConfig(t, dir, "log:\n  level: debug\n")

	select {
	case c := <-changes:
		if c.Log.Level != "debug" {
			t.Fatalf("expected reloaded level debug, got %q", c.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
