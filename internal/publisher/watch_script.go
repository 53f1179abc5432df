package publisher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/you/grimoire-overlay/internal/core"
)

const watchDebounce = 250 * time.Millisecond

// WatchScriptFile republishes path as the custom script named name every
// time it changes on disk. It returns once the watcher is running.
func (p *Publisher) WatchScriptFile(ctx context.Context, path, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch the directory so editors that replace the file are seen
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(path)
	sel := core.CustomSaved(name)
	if name == "" {
		sel = core.CustomNew()
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(watchDebounce)
				}
			case <-debounce.C:
				p.republish(ctx, target, sel)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("publisher: watch error", "err", err)
			}
		}
	}()
	return nil
}

func (p *Publisher) republish(ctx context.Context, path string, sel core.Selection) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Error("publisher: read watched script", "path", path, "err", err)
		return
	}
	out, err := p.Save(ctx, sel, raw)
	if errors.Is(err, ErrSaveInFlight) {
		slog.Warn("publisher: watched script changed during a save", "path", path)
		return
	}
	if err != nil {
		slog.Error("publisher: republish failed", "path", path, "err", err)
		return
	}
	slog.Info("publisher: republished watched script", "path", path, "encoding", out.Encoding)
}
