package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a slide's tile directory must stay unchanged
// before the watcher runs it.
const DefaultSettle = 30 * time.Second

// Watcher runs a pass for each slide whose tile directory appears or changes
// under Layout.TilesRoot, once the directory has been quiet for Settle.
//
// Slides already present when Watch starts are queued if they have no
// detections document yet.
type Watcher struct {
	Layout Layout
	Settle time.Duration
	Run    func(ctx context.Context, slide string) error
	Logger *log.Logger
}

// Watch blocks until ctx is cancelled or the file watcher fails. Errors from
// Run are logged and do not stop the watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}
	settle := w.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	root := w.Layout.TilesRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create tiles root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	pending := make(map[string]time.Time)
	slides, err := w.Layout.Slides()
	if err != nil {
		return err
	}
	for _, slide := range slides {
		if err := fw.Add(w.Layout.TilesDir(slide)); err != nil {
			logger.Printf("warning: cannot watch slide %s: %v", slide, err)
		}
		if _, err := os.Stat(w.Layout.DetectionsPath(slide)); os.IsNotExist(err) {
			pending[slide] = time.Now()
		}
	}
	logger.Printf("info: watching %s", root)

	tick := time.NewTicker(settle / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			slide := slideOf(root, ev.Name)
			if slide == "" {
				continue
			}
			if filepath.Dir(ev.Name) == root && ev.Has(fsnotify.Create) {
				if err := fw.Add(ev.Name); err != nil {
					logger.Printf("warning: cannot watch slide %s: %v", slide, err)
				}
			}
			pending[slide] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Printf("warning: file watcher: %v", err)

		case now := <-tick.C:
			for slide, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, slide)
				if info, err := os.Stat(w.Layout.TilesDir(slide)); err != nil || !info.IsDir() {
					continue
				}
				logger.Printf("info: running slide %s", slide)
				if err := w.Run(ctx, slide); err != nil {
					logger.Printf("warning: slide %s: %v", slide, err)
				}
			}
		}
	}
}

// slideOf returns the slide directory name that path belongs to under root.
func slideOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return strings.Split(filepath.ToSlash(rel), "/")[0]
}
