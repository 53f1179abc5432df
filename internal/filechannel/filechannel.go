// Package filechannel stores the two segments as files in a directory and
// pushes changes through fsnotify. Several processes can share the
// directory: one publisher writes, any number of viewers watch.
package filechannel

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
)

const (
	broadcastFile = "broadcast.ndjson"
	debounce      = 250 * time.Millisecond
)

type Channel struct {
	dir      string
	capacity int

	mu sync.Mutex // serializes broadcast appends
}

// Open creates dir if needed. capacity <= 0 disables the size check.
func Open(dir string, capacity int) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create channel dir")
	}
	return &Channel{dir: dir, capacity: capacity}, nil
}

func (c *Channel) Dir() string { return c.dir }

func (c *Channel) path(kind core.ChannelKind) string {
	return filepath.Join(c.dir, string(kind)+".json")
}

func (c *Channel) SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !kind.Valid() {
		return errors.Errorf("unknown channel kind %q", kind)
	}
	if c.capacity > 0 && len(payload) > c.capacity {
		return &channel.SegmentWriteError{Kind: kind, Size: len(payload), Capacity: c.capacity}
	}
	tmp, err := os.CreateTemp(c.dir, "."+string(kind)+"-*")
	if err != nil {
		return errors.Wrap(err, "create temp segment")
	}
	if _, err := tmp.WriteString(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write segment")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close segment")
	}
	if err := os.Rename(tmp.Name(), c.path(kind)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "replace segment")
	}
	return nil
}

func (c *Channel) GetSegment(ctx context.Context, kind core.ChannelKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(c.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s segment", kind)
	}
	return string(raw), nil
}

// Broadcast appends payload as one line to broadcast.ndjson.
func (c *Channel) Broadcast(ctx context.Context, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(c.dir, broadcastFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open broadcast log")
	}
	defer f.Close()
	_, err = f.WriteString(payload + "\n")
	return errors.Wrap(err, "append broadcast")
}

// Notify watches the directory and calls fn, debounced, when a segment
// file or the broadcast log changes.
func (c *Channel) Notify(ctx context.Context, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return errors.Wrap(err, "watch channel dir")
	}
	watched := make(map[string]bool, 3)
	for _, p := range []string{c.path(core.Broadcaster), c.path(core.Global), filepath.Join(c.dir, broadcastFile)} {
		watched[p] = true
	}

	go func() {
		defer w.Close()
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !watched[filepath.Clean(ev.Name)] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
			case <-timer.C:
				fn()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("filechannel: watch error", "err", err)
			}
		}
	}()
	return nil
}
