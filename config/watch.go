package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with a freshly loaded Config whenever envFile is
// written, created or renamed into place. Bursts of events (editors usually
// write a temp file and rename it) are coalesced into a single reload.
// It returns once the watcher is set up; the watch stops when ctx is done.
func Watch(ctx context.Context, envFile string, onChange func(*Config), onError func(error)) error {
	absPath, err := filepath.Abs(envFile)
	if err != nil {
		return fmt.Errorf("failed to resolve env file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// 监听目录而不是文件本身，编辑器的原子替换会让文件级 watch 失效
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	debounced := debounce.New(250 * time.Millisecond)
	reload := func() {
		cfg, err := Reload(absPath)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to reload %s: %w", absPath, err))
			}
			return
		}
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounced(reload)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}
