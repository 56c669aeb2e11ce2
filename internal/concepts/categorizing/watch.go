package categorizing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the file must be quiet before a reload.
const reloadDebounce = 100 * time.Millisecond

// Watch loads the vocabulary from path and reloads it whenever the file
// changes, until ctx is cancelled. A reload that fails to parse keeps the
// previous vocabulary.
//
// The parent directory is watched rather than the file so that editors that
// replace the file by rename are handled.
func (c *Concept) Watch(ctx context.Context, path string) error {
	vocab, err := LoadVocabulary(path)
	if err != nil {
		return err
	}
	c.SetVocabulary(vocab)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create vocabulary watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go c.watchLoop(ctx, fw, path)
	return nil
}

func (c *Concept) watchLoop(ctx context.Context, fw *fsnotify.Watcher, path string) {
	defer fw.Close()

	target := filepath.Clean(path)
	var pending time.Time
	ticker := time.NewTicker(reloadDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case now := <-ticker.C:
			if pending.IsZero() || now.Sub(pending) < reloadDebounce {
				continue
			}
			pending = time.Time{}
			c.reload(path)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			c.logger.Warn("vocabulary watcher error", "path", path, "error", err)
		}
	}
}

func (c *Concept) reload(path string) {
	vocab, err := LoadVocabulary(path)
	if err != nil {
		c.logger.Warn("vocabulary reload failed, keeping previous", "path", path, "error", err)
		return
	}
	c.SetVocabulary(vocab)
	c.logger.Info("vocabulary reloaded", "path", path, "tags", len(vocab))
}
