package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceReloadIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeConfig(t, path, "[sampler]\ndefault_limit = 10\n")

	src, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if src.Config().Sampler.DefaultLimit != 10 {
		t.Fatalf("unexpected limit: %d", src.Config().Sampler.DefaultLimit)
	}

	changed, err := src.Changed()
	if err != nil || changed {
		t.Fatalf("expected unchanged, got changed=%v err=%v", changed, err)
	}
	cfg, reloaded, err := src.ReloadIfChanged()
	if err != nil || reloaded || cfg.Sampler.DefaultLimit != 10 {
		t.Fatalf("unexpected reload: reloaded=%v err=%v", reloaded, err)
	}

	writeConfig(t, path, "[sampler]\ndefault_limit = 20\n")
	cfg, reloaded, err = src.ReloadIfChanged()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded || cfg.Sampler.DefaultLimit != 20 {
		t.Fatalf("expected reload to 20, got reloaded=%v limit=%d", reloaded, cfg.Sampler.DefaultLimit)
	}
}

func TestSourceKeepsPreviousConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeConfig(t, path, "[http]\nretries = 3\n")
	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, "[http]\nretries = 99\n")
	cfg, reloaded, err := src.ReloadIfChanged()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if reloaded || cfg.HTTP.Retries != 3 {
		t.Fatalf("expected previous config kept, got reloaded=%v retries=%d", reloaded, cfg.HTTP.Retries)
	}
}

func TestSourceOpenRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeConfig(t, path, "[logging]\nlevel = \"loud\"\n")
	if _, err := Open(path); err == nil {
		t.Fatal("expected open error")
	}
}

func TestSourceNotifyMarksStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeConfig(t, path, "version = 1\n")
	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Notify(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "version = 1\n")

	deadline := time.Now().Add(2 * time.Second)
	for !src.stale.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !src.stale.Load() {
		t.Fatal("expected stale flag after write")
	}
	changed, err := src.Changed()
	if err != nil || !changed {
		t.Fatalf("expected Changed to report stale source, got %v %v", changed, err)
	}
	if src.Config().Version != 1 {
		t.Fatal("notify must not reload by itself")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("notify: %v", err)
	}
}
