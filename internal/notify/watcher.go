package notify

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher is the fsnotify-backed Notifier. It watches transcript root
// directories recursively-ish (roots plus directories created under them),
// keeps only paths with a tracked suffix, and debounces write bursts so one
// logical edit does not fan out into dozens of events.
type Watcher struct {
	fs       *fsnotify.Watcher
	clock    clock.Clock
	logger   *zap.Logger
	suffixes []string
	debounce time.Duration

	events chan Event
	errs   chan error

	mu       sync.Mutex
	lastSeen map[string]time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Roots are the directories to watch.
	Roots []string
	// Suffixes limit which files are tracked, e.g. ".jsonl".
	Suffixes []string
	// Debounce suppresses repeat events for the same path within the window;
	// zero means 500ms.
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// NewWatcher starts watching the given roots.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("at least one watch root is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fs:       fs,
		clock:    opts.Clock,
		logger:   opts.Logger,
		suffixes: opts.Suffixes,
		debounce: opts.Debounce,
		events:   make(chan Event, 64),
		errs:     make(chan error, 8),
		lastSeen: make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	for _, root := range opts.Roots {
		if err := w.addTree(root); err != nil {
			fs.Close()
			return nil, err
		}
		w.logger.Info("watching transcript root", zap.String("root", root))
	}
	go w.loop()
	return w, nil
}

// addTree watches root and every directory already under it. fsnotify does
// not recurse on its own, and transcripts live in per-project subdirectories;
// directories created after startup are added in handle.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", root, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Events implements Notifier.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors implements Notifier.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				w.logger.Warn("dropping watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	// New directories under a root get picked up so nested transcripts are
	// still seen.
	if ev.Has(fsnotify.Create) && w.looksLikeDir(ev.Name) {
		if err := w.fs.Add(ev.Name); err != nil {
			w.logger.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
		}
		return
	}
	now := w.clock.Now()
	if !w.shouldEmit(ev.Name, now) {
		return
	}
	select {
	case w.events <- Event{Path: ev.Name, Time: now}:
	default:
		w.logger.Warn("dropping change event, consumer too slow", zap.String("path", ev.Name))
	}
}

// shouldEmit applies the suffix filter and the per-path debounce window.
func (w *Watcher) shouldEmit(path string, now time.Time) bool {
	if !w.suffixMatch(path) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSeen[path]; ok && now.Sub(last) < w.debounce {
		return false
	}
	w.lastSeen[path] = now
	return true
}

func (w *Watcher) suffixMatch(path string) bool {
	if len(w.suffixes) == 0 {
		return true
	}
	for _, suffix := range w.suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func (w *Watcher) looksLikeDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
