// Package fswatch emits filesystem changes as bus events.
//
// Every change under a watched path is emitted as "<topic><sep><op>" with a
// map payload:
//
//	fs.create  {"path": "/abs/a.txt", "op": "create", "dir": false}
//
// Ops are create, write, remove, rename and chmod. Watcher errors are
// emitted as "<topic><sep>error" with {"error": "..."}.
package fswatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/flagpoonage/cables/internal/name"
)

// DefaultTopic is the topic events are emitted on.
const DefaultTopic = "fs"

// Watcher errors.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
)

// Emitter receives filesystem events. *cables.Bus satisfies it.
type Emitter interface {
	Out(ctx context.Context, name string, payload any)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTopic sets the topic events are emitted on.
func WithTopic(topic string) Option {
	return func(w *Watcher) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// WithSeparator sets the separator used to build event names. It must
// match the bus separator.
func WithSeparator(sep string) Option {
	return func(w *Watcher) {
		w.sep = name.Separator(sep)
	}
}

// WithIgnoreHidden skips paths whose base name starts with a dot.
func WithIgnoreHidden(ignore bool) Option {
	return func(w *Watcher) {
		w.ignoreHidden = ignore
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Stats contains watcher statistics.
type Stats struct {
	WatchedPaths int
	Emitted      int64
	Errors       int64
}

// Watcher forwards fsnotify events to an Emitter.
type Watcher struct {
	emitter      Emitter
	topic        string
	sep          string
	ignoreHidden bool
	logger       *slog.Logger

	fsw *fsnotify.Watcher

	mu     sync.RWMutex
	paths  map[string]bool
	closed bool

	closeCh chan struct{}
	wg      sync.WaitGroup

	emitted atomic.Int64
	errs    atomic.Int64
}

// New creates a watcher and starts forwarding events. Call Close to stop it.
func New(emitter Emitter, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		emitter: emitter,
		topic:   DefaultTopic,
		sep:     name.DefaultSeparator,
		logger:  slog.Default(),
		fsw:     fsw,
		paths:   make(map[string]bool),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a file or directory.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	if w.paths[absPath] {
		return ErrAlreadyWatching
	}

	if err := w.fsw.Add(absPath); err != nil {
		return err
	}

	w.paths[absPath] = true
	return nil
}

// WatchRecursive watches a directory and all of its subdirectories.
func (w *Watcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.Watch(absPath)
	}

	return filepath.WalkDir(absPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != absPath && w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		if err := w.Watch(p); err != nil && !errors.Is(err, ErrAlreadyWatching) {
			return err
		}
		return nil
	})
}

// Unwatch stops watching a path.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if !w.paths[absPath] {
		return ErrNotWatching
	}

	if err := w.fsw.Remove(absPath); err != nil {
		return err
	}

	delete(w.paths, absPath)
	return nil
}

// IsWatching returns true if the path is being watched.
func (w *Watcher) IsWatching(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return w.paths[absPath]
}

// WatchedPaths returns all watched paths, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths: len(w.paths),
		Emitted:      w.emitted.Load(),
		Errors:       w.errs.Load(),
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errs.Add(1)
			w.logger.WarnContext(ctx, "filesystem watcher error", "err", err)
			w.emit(ctx, "error", map[string]any{"error": err.Error()})
		}
	}
}

// handle converts one fsnotify event into bus emissions.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if w.shouldIgnore(ev.Name) {
		return
	}

	ops := convertOp(ev.Op)
	if len(ops) == 0 {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	for _, op := range ops {
		w.emit(ctx, op, map[string]any{
			"path": ev.Name,
			"op":   op,
			"dir":  isDir,
		})
	}

	// New directories under a watched directory are watched too.
	if isDir && ev.Op.Has(fsnotify.Create) {
		if err := w.Watch(ev.Name); err != nil && !errors.Is(err, ErrAlreadyWatching) && !errors.Is(err, ErrWatcherClosed) {
			w.logger.DebugContext(ctx, "cannot watch new directory", "path", ev.Name, "err", err)
		}
	}
}

func (w *Watcher) emit(ctx context.Context, op string, payload map[string]any) {
	w.emitted.Add(1)
	w.emitter.Out(ctx, name.Join(w.topic, op, w.sep), payload)
}

// convertOp returns the op names set in fsOp.
func convertOp(fsOp fsnotify.Op) []string {
	var ops []string
	if fsOp.Has(fsnotify.Create) {
		ops = append(ops, "create")
	}
	if fsOp.Has(fsnotify.Write) {
		ops = append(ops, "write")
	}
	if fsOp.Has(fsnotify.Remove) {
		ops = append(ops, "remove")
	}
	if fsOp.Has(fsnotify.Rename) {
		ops = append(ops, "rename")
	}
	if fsOp.Has(fsnotify.Chmod) {
		ops = append(ops, "chmod")
	}
	return ops
}

func (w *Watcher) shouldIgnore(path string) bool {
	if !w.ignoreHidden {
		return false
	}
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
