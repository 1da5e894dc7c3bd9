package rules

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML (or JSON) rule file. Rules default to enabled.
func LoadFile(path string) ([]models.RateLimitRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]models.RateLimitRule, error) {
	var raw struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	rules := make([]models.RateLimitRule, 0, len(raw.Rules))
	for i := range raw.Rules {
		rule := models.RateLimitRule{Enabled: true, Priority: 1000}
		if err := raw.Rules[i].Decode(&rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FileWatcher keeps a Store partition in sync with a rule file
type FileWatcher struct {
	path      string
	store     *Store
	partition string
	debounce  time.Duration
	logger    *slog.Logger
	onReload  func(err error)
}

func NewFileWatcher(path string, store *Store, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		path:      path,
		store:     store,
		partition: PartitionFile,
		debounce:  200 * time.Millisecond,
		logger:    logger,
	}
}

// Registers fn to run after every load attempt with its outcome
func (w *FileWatcher) OnReload(fn func(err error)) {
	w.onReload = fn
}

// Load reads the file and publishes its rules
func (w *FileWatcher) Load() (err error) {
	if w.onReload != nil {
		defer func() { w.onReload(err) }()
	}

	rules, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	if err := w.store.Replace(w.partition, rules); err != nil {
		return err
	}

	w.logger.Info("rules loaded", "path", w.path, "count", len(rules))
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file are handled.
// A reload that fails keeps the previous rules.
func (w *FileWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		if err := w.Load(); err != nil {
			w.logger.Error("rule reload failed, keeping previous rules", "path", w.path, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Debug("rule file changed", "op", event.Op.String())
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rule watcher error", "error", err)
		}
	}
}
