package store

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"researchshell/internal/logger"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reloading the store.
const DefaultDebounce = 200 * time.Millisecond

// Reloader is what the watcher refreshes when the storage files change.
type Reloader interface {
	Reload() error
}

// Watcher reloads a store when another process rewrites its JSON files.
// Rapid bursts of writes (an atomic save touches three files) collapse into a
// single reload.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	target    Reloader
	persister *JSONPersister
	dir       string
	names     map[string]string // File name to persisted key
	debounce time.Duration
	pending  bool
	lastSeen time.Time
	reloads  int
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *log.Logger
}

// NewWatcher watches the persisted files of a JSONPersister.
func NewWatcher(target Reloader, p *JSONPersister) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	names := map[string]string{
		FileName(ConversationsKey): ConversationsKey,
		FileName(SelectedKey):      SelectedKey,
		FileName(SchemaVersionKey): SchemaVersionKey,
	}

	return &Watcher{
		watcher:   fw,
		target:    target,
		persister: p,
		dir:       p.Dir(),
		names:     names,
		debounce:  DefaultDebounce,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger.NewStyledLogger("StorageWatcher"),
	}, nil
}

// SetDebounce changes the quiet period. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// The directory is watched rather than the files because atomic saves
	// replace the files through a rename.
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.logger.Debug("Watching storage", "dir", w.dir)

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle. It is safe to call
// more than once, and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	_ = w.watcher.Close()
}

// Reloads returns how many reloads the watcher triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Storage watch error", "error", err)
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	key, ok := w.names[filepath.Base(event.Name)]
	if !ok {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if w.persister.OwnsContent(key) {
		w.logger.Debug("Ignoring own save", "file", filepath.Base(event.Name))
		return
	}

	w.mu.Lock()
	w.pending = true
	w.lastSeen = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastSeen) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.reloads++
	w.mu.Unlock()

	if err := w.target.Reload(); err != nil {
		w.logger.Warn("Failed to reload conversations", "error", err)
		return
	}
	w.logger.Debug("Reloaded conversations from storage")
}

func (w *Watcher) tickInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	interval := w.debounce / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}
