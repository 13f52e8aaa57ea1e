package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/policy"
)

// PolicyWatcher loads hold-policy rules from a YAML file and pushes
// every successful reload into a policy.Engine. A bad file keeps the
// previously active rule set.
type PolicyWatcher struct {
	engine *policy.Engine
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewPolicyWatcher creates a watcher bound to the given engine.
func NewPolicyWatcher(engine *policy.Engine, logger *slog.Logger) *PolicyWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyWatcher{
		engine: engine,
		logger: logger.With("component", "config.PolicyWatcher"),
	}
}

// holdPolicyFile is the on-disk shape of a hold-policy rule file.
type holdPolicyFile struct {
	Rules []policy.Rule `yaml:"rules"`
}

// LoadRules parses the rule file and installs it in the engine.
func (pw *PolicyWatcher) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read hold policies %s: %w", path, err)
	}
	var file holdPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse hold policies %s: %w", path, err)
	}
	if err := pw.engine.SetRules(file.Rules); err != nil {
		return fmt.Errorf("failed to compile hold policies %s: %w", path, err)
	}
	pw.logger.Info("hold policies loaded", "path", path, "rules", len(file.Rules))
	return nil
}

// Watch starts an fsnotify watcher on the rule file. Each change
// triggers a reload; compile failures are logged and the previous rule
// set stays active. Call Stop to clean up.
func (pw *PolicyWatcher) Watch(path string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.watcher != nil {
		pw.stopLocked()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve hold policy path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file to catch editor
	// rename-and-replace patterns (e.g. vim, nano).
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	pw.watcher = w
	pw.watchDone = make(chan struct{})

	go pw.watchLoop(absPath)

	pw.logger.Info("watching hold policies for changes", "path", absPath)
	return nil
}

func (pw *PolicyWatcher) watchLoop(targetPath string) {
	defer close(pw.watchDone)

	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := pw.LoadRules(targetPath); err != nil {
					pw.logger.Error("hold policy reload failed, keeping previous rules",
						"path", targetPath,
						"error", err,
					)
				}
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Stop stops the rule file watcher, if running.
func (pw *PolicyWatcher) Stop() {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.stopLocked()
}

func (pw *PolicyWatcher) stopLocked() {
	if pw.watcher != nil {
		_ = pw.watcher.Close()
		if pw.watchDone != nil {
			<-pw.watchDone
		}
		pw.watcher = nil
		pw.watchDone = nil
	}
}
