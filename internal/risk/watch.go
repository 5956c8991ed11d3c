package risk

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rule file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
// A file that fails to parse is logged and the previous rules stay active.
func (e *Evaluator) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
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
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				e.reload(path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[risk] watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (e *Evaluator) reload(path string) {
	rs, err := LoadRuleSet(path)
	if err != nil {
		log.Printf("[risk] keeping previous rules: %v", err)
		return
	}
	if err := e.SetRules(rs); err != nil {
		log.Printf("[risk] keeping previous rules: %v", err)
		return
	}
	log.Printf("[risk] reloaded rules from %s", path)
}
