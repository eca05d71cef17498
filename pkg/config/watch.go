package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/jg-phare/mcpconn/pkg/types"
)

const watchDebounce = 200 * time.Millisecond

// ReloadFunc receives the reloaded server set, or the error that prevented
// loading it.
type ReloadFunc func(servers map[string]types.ServerConfig, err error)

// Watch reloads path whenever it changes and hands the result to fn. path
// may be a file (reloaded with Load) or a directory (reloaded with LoadDir
// and DefaultPattern). Bursts of events within 200ms cause one reload. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, fn ReloadFunc) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	var (
		dir    = path
		match  func(name string) bool
		reload func() (map[string]types.ServerConfig, error)
	)
	if info.IsDir() {
		match = func(name string) bool {
			rel, err := filepath.Rel(path, name)
			if err != nil {
				return false
			}
			ok, _ := doublestar.Match(DefaultPattern, filepath.ToSlash(rel))
			return ok
		}
		reload = func() (map[string]types.ServerConfig, error) { return LoadDir(path, "") }
	} else {
		// Watch the parent: editors and Save replace the file by rename.
		dir = filepath.Dir(path)
		clean := filepath.Clean(path)
		match = func(name string) bool { return filepath.Clean(name) == clean }
		reload = func() (map[string]types.ServerConfig, error) { return Load(path) }
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		timer   *time.Timer
		pending bool
	)
	doReload := func() {
		mu.Lock()
		pending = false
		mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fn(reload())
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !match(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if !pending {
				pending = true
				timer = time.AfterFunc(watchDebounce, doReload)
			} else {
				timer.Reset(watchDebounce)
			}
			mu.Unlock()

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
