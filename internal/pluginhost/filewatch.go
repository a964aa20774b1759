package pluginhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher implements spec.md §4.8's "file-watching is implemented by
// the host; plugins only receive change notifications": it owns the
// fsnotify watches a WatchDirectory request registers and turns raw
// filesystem events into FileCreated/FileUpdated/FileDeleted events.
//
// This is distinct from internal/ingest's watched-folder ingestion
// source: that component owns the store.processed_file ledger and writes
// documents, since a ledger row's document_id is a foreign key into
// indexed_document and so can only exist once a document row does. A
// plugin's WatchDirectory capability gets raw notifications only — it's
// the plugin's job to decide what, if anything, to ingest (typically via
// an AddDocument or WalkAndEnqueue request of its own).
type FileWatcher struct {
	watcher *fsnotify.Watcher
	host    *Host
	logger  *zerolog.Logger

	recursiveRoots map[string]bool

	mu       sync.Mutex
	lastHash map[string]string
}

// NewFileWatcher constructs a FileWatcher. host may be nil if the Host
// isn't constructed yet (Handler needs a *FileWatcher, and Host needs a
// Handler) — call SetHost once the Host exists. Call Run to start
// processing events; Watch registers directories to observe.
func NewFileWatcher(host *Host, logger *zerolog.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &FileWatcher{
		watcher:        w,
		host:           host,
		logger:         logger,
		recursiveRoots: make(map[string]bool),
		lastHash:       make(map[string]string),
	}, nil
}

// SetHost wires the Host dispatched to on every detected change. Call
// once, after constructing both the FileWatcher and the Host that wraps
// the Handler this FileWatcher was handed to.
func (w *FileWatcher) SetHost(host *Host) {
	w.host = host
}

// Watch adds path (and, if recurse, every subdirectory) to the set of
// watched directories.
func (w *FileWatcher) Watch(path string, recurse bool) error {
	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	if !recurse {
		return nil
	}

	w.recursiveRoots[path] = true

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() && p != path {
			if err := w.watcher.Add(p); err != nil {
				w.logger.Warn().Err(err).Str("path", p).Msg("file watcher: failed to add subdirectory")
			}
		}

		return nil
	})
}

// Close stops the underlying fsnotify watcher.
func (w *FileWatcher) Close() error {
	return w.watcher.Close()
}

// Run processes fsnotify events until ctx is canceled, dispatching a
// downward event to every subscribed plugin per change.
func (w *FileWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.handleFSEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *FileWatcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		w.handleRemoved(ctx, event.Name)
	case event.Op&fsnotify.Create != 0, event.Op&fsnotify.Write != 0:
		w.handleCreatedOrWritten(ctx, event.Name)
	}
}

func (w *FileWatcher) handleCreatedOrWritten(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Common for a Write event to race a subsequent Remove; not an error.
		return
	}

	if info.IsDir() {
		if w.recursiveRoots[filepath.Dir(path)] || w.recursiveRoots[path] {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("file watcher: failed to add new subdirectory")
			}
		}

		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("file watcher: read failed")
		return
	}

	hash := contentHash(content)

	w.mu.Lock()
	previous, seen := w.lastHash[path]
	w.lastHash[path] = hash
	w.mu.Unlock()

	if seen && previous == hash {
		return
	}

	kind := EventFileUpdated
	if !seen {
		kind = EventFileCreated
	}

	w.host.Dispatch(ctx, Event{Kind: kind, Path: path, Tick: time.Now().UTC()})
}

func (w *FileWatcher) handleRemoved(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.lastHash, path)
	w.mu.Unlock()

	w.host.Dispatch(ctx, Event{Kind: EventFileDeleted, Path: path, Tick: time.Now().UTC()})
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
