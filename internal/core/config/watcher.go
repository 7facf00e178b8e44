package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Fingerprint identifies one version of a config file on disk.
type Fingerprint struct {
	ModTime time.Time
	Size    int64
	SHA256  string
}

func fingerprint(path string) (Fingerprint, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fingerprint{}, nil, err
	}
	sum := sha256.Sum256(data)
	return Fingerprint{ModTime: info.ModTime(), Size: info.Size(), SHA256: hex.EncodeToString(sum[:])}, data, nil
}

// Source owns a loaded config and the fingerprint it came from. Nothing is
// reloaded unless a caller asks for it.
type Source struct {
	path  string
	mu    sync.Mutex
	cfg   *Config
	fp    Fingerprint
	stale atomic.Bool
}

func Open(path string) (*Source, error) {
	s := &Source{path: filepath.Clean(path)}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) load() (*Config, error) {
	fp, data, err := fingerprint(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", s.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", s.path, err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.fp = fp
	s.mu.Unlock()
	s.stale.Store(false)
	return cfg, nil
}

func (s *Source) Path() string { return s.path }

func (s *Source) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Source) Fingerprint() Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

// Changed reports whether the file differs from the loaded version, or a
// watcher has flagged it since the last load.
func (s *Source) Changed() (bool, error) {
	if s.stale.Load() {
		return true, nil
	}
	fp, _, err := fingerprint(s.path)
	if err != nil {
		return false, err
	}
	current := s.Fingerprint()
	return fp.SHA256 != current.SHA256 || fp.Size != current.Size, nil
}

// ReloadIfChanged returns the current config and whether it was reloaded. A
// failed reload keeps the previous config.
func (s *Source) ReloadIfChanged() (*Config, bool, error) {
	changed, err := s.Changed()
	if err != nil {
		return s.Config(), false, err
	}
	if !changed {
		return s.Config(), false, nil
	}
	cfg, err := s.load()
	if err != nil {
		return s.Config(), false, err
	}
	return cfg, true, nil
}

// Notify watches the config directory and marks the source stale on writes.
// It returns when ctx is done.
func (s *Source) Notify(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The directory is watched so atomic replace-on-save is seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.stale.Store(true)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "path", s.path, "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
