package driver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/rewindgraph/graph"
)

// DefaultReloadDelay is how long DirCatalog.Watch waits after the last file
// event before reloading.
const DefaultReloadDelay = 250 * time.Millisecond

// DirCatalog serves a fixed set of built-in workflows plus the definitions
// found in a directory, and can reload the directory while serving. Built-in
// names win over files with the same name.
type DirCatalog struct {
	dir     string
	builtin MapCatalog
	delay   time.Duration

	mu      sync.RWMutex
	current MapCatalog
}

// NewDirCatalog loads dir and returns a catalog holding its workflows and
// builtin. An empty dir serves only builtin.
func NewDirCatalog(dir string, builtin MapCatalog) (*DirCatalog, error) {
	c := &DirCatalog{dir: dir, builtin: builtin, delay: DefaultReloadDelay}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup implements Catalog.
func (c *DirCatalog) Lookup(name string) (graph.WorkflowGraph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Lookup(name)
}

// Names lists the served workflows in sorted order.
func (c *DirCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Names()
}

// Reload rereads the directory. On error the previous workflows stay in
// place.
func (c *DirCatalog) Reload() error {
	next := make(MapCatalog, len(c.builtin))
	if c.dir != "" {
		loaded, err := LoadCatalog(c.dir)
		if err != nil {
			return err
		}
		for name, wf := range loaded {
			next[name] = wf
		}
	}
	for name, wf := range c.builtin {
		next[name] = wf
	}

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever a definition file in the directory
// changes, until ctx is done. Bursts of events are coalesced. A failed reload
// is logged and the previous workflows keep serving.
func (c *DirCatalog) Watch(ctx context.Context, logger *slog.Logger) error {
	if c.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	timer := time.NewTimer(c.delay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinition(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(c.delay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("workflow watcher error", "error", err)

		case <-timer.C:
			if err := c.Reload(); err != nil {
				logger.Error("failed to reload workflows", "dir", c.dir, "error", err)
				continue
			}
			logger.Info("reloaded workflows", "workflows", c.Names())
		}
	}
}

func isDefinition(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
