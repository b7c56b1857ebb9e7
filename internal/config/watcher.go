package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// LoadFunc parses the file at path. An error keeps the previous value.
type LoadFunc[T any] func(fs afero.Fs, path string) (T, error)

// Watcher monitors a file for changes and calls a callback with the newly
// parsed value. It polls mtime and content hash, so an editor that rewrites
// the file without changing it does not trigger a reload.
type Watcher[T any] struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	load     LoadFunc[T]
	onChange func(old, new T)

	mu       sync.Mutex
	current  T
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	interval time.Duration
	fs       afero.Fs
}

// WithInterval sets the polling interval. The default is [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) WatcherOption {
	return func(o *watcherOptions) { o.fs = fs }
}

// NewWatcher loads path immediately and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher[T any](path string, load LoadFunc[T], onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: DefaultWatchInterval, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		fs:       o.fs,
		path:     path,
		interval: o.interval,
		load:     load,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = v
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// WatchConfig watches a YAML config file.
func WatchConfig(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher[*Config], error) {
	return NewWatcher[*Config](path, loadFs, onChange, opts...)
}

func loadFs(fs afero.Fs, path string) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFromReader(f)
}

// Current returns the most recently loaded valid value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher[T]) check() {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	v, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: reload failed, keeping previous version", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = v
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: file reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

func (w *Watcher[T]) loadAndHash() (T, [sha256.Size]byte, time.Time, error) {
	var zero T
	var zeroHash [sha256.Size]byte

	info, err := w.fs.Stat(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	v, err := w.load(w.fs, w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}
