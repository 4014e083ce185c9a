package config

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	logx "crontrolhours/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	watchDebounce    = 250 * time.Millisecond
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
)

const watchOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// WatchFile calls onChange, debounced, whenever path is written, replaced or removed.
// The parent directory is watched so editors that swap the file are seen. A broken
// watcher is recreated with jittered backoff. It blocks until ctx is done.
func WatchFile(ctx context.Context, path string, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir, file := filepath.Dir(path), filepath.Base(path)
	log = log.With(logx.String("watch", path))

	d := &debouncer{delay: watchDebounce, fn: func() {
		if ctx.Err() == nil {
			onChange()
		}
	}}
	defer d.stop()

	bo := &watchBackoff{next: watchBackoffBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for ctx.Err() == nil {
		w, err := newDirWatcher(dir)
		if err != nil {
			log.Warn("watch setup failed", logx.Err(err))
			if !sleepCtx(ctx, bo.wait()) {
				return nil
			}
			continue
		}
		bo.reset()
		log.Debug("watcher started")

		runWatcher(ctx, w, file, log, d.trigger)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.wait()
		log.Warn("watcher stopped; restarting", logx.Duration("backoff", wait))
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// runWatcher forwards events for file until ctx is done or the watcher breaks.
func runWatcher(ctx context.Context, w *fsnotify.Watcher, file string, log logx.Logger, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == file && ev.Op&watchOps != 0 {
				log.Debug("file changed", logx.String("op", ev.Op.String()))
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; reload once to catch up.
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				changed()
				continue
			}
			if errors.Is(err, fsnotify.ErrClosed) {
				return
			}
			log.Warn("watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once delay has passed without another trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

type watchBackoff struct {
	next time.Duration
	rng  *rand.Rand
}

func (b *watchBackoff) wait() time.Duration {
	w := b.next + time.Duration(b.rng.Int63n(int64(b.next/2)+1))
	b.next = min(b.next*2, watchBackoffMax)
	return w
}

func (b *watchBackoff) reset() { b.next = watchBackoffBase }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
