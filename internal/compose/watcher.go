package compose

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// Watcher invalidates generated artifacts when their template sources
// change. It watches the layer source directories and removes the whole
// _generated tree on any relevant event; the next render recreates it.
type Watcher struct {
	generatedDir string
	sourceDirs   []string
	log          *logging.Logger
	fw           *fsnotify.Watcher
}

// NewWatcher creates a watcher over the given source directories.
func NewWatcher(generatedDir string, sourceDirs []string, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		generatedDir: generatedDir,
		sourceDirs:   sourceDirs,
		log:          log,
		fw:           fw,
	}
	for _, dir := range sourceDirs {
		if err := addRecursive(fw, dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("template source changed", "path", event.Name, "op", event.Op.String())
			w.invalidate()
			// New subdirectories need their own watch.
			if event.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = addRecursive(w.fw, event.Name)
				}
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("template watcher error", "error", err)
		}
	}
}

// relevant filters editor noise: only markdown and yaml sources under a
// watched layer matter.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		// Created directories have no extension but still matter.
		fi, err := os.Stat(event.Name)
		return err == nil && fi.IsDir()
	}
	switch filepath.Ext(base) {
	case ".md", ".yml", ".yaml":
		return true
	}
	fi, err := os.Stat(event.Name)
	return err == nil && fi.IsDir()
}

// invalidate drops every generated artifact.
func (w *Watcher) invalidate() {
	entries, err := os.ReadDir(w.generatedDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(w.generatedDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			w.log.Warn("failed to remove stale artifact", "path", path, "error", err)
		}
	}
	w.log.Info("generated artifacts invalidated", "dir", w.generatedDir)
}
