package filter

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchKeywordsFile reloads the keyword set whenever path changes.
// Editors replace files on save, so removes/renames re-add the watch.
// The returned stop function closes the watcher.
func (f *Filter) WatchKeywordsFile(path string, logger *slog.Logger) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil && logger != nil {
						logger.Error("keywords watch re-add failed", "path", ev.Name, "error", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := f.LoadKeywordsFile(path); err != nil {
					if logger != nil {
						logger.Error("keywords reload failed", "path", path, "error", err)
					}
				} else if logger != nil {
					logger.Info("keywords reloaded", "path", path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Error("keywords watch error", "error", err)
				}
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}
