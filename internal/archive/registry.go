package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/workspace"
)

// Registry keeps a bounded set of open archives keyed by stem. Evicted
// archives are closed.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, *Archive]

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewRegistry(dir string, size int, logger *slog.Logger) (*Registry, error) {
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c, err := lru.NewWithEvict(size, func(stem string, a *Archive) {
		if err := a.Close(); err != nil {
			logger.Warn("archive close", "archive", stem, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("archive registry: %w", err)
	}
	return &Registry{dir: dir, logger: logger, cache: c}, nil
}

func validStem(stem string) bool {
	return stem != "" && stem != "." && stem != ".." &&
		!strings.ContainsAny(stem, `/\`) && filepath.Base(stem) == stem
}

// Get returns the open archive for stem, opening it on first use.
func (r *Registry) Get(ctx context.Context, stem string) (*Archive, error) {
	if !validStem(stem) {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "archive", stem, "invalid archive name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.cache.Get(stem); ok {
		return a, nil
	}
	a, err := Open(ctx, filepath.Join(r.dir, stem+".mbtiles"))
	if err != nil {
		return nil, err
	}
	r.cache.Add(stem, a)
	return a, nil
}

// Evict drops and closes the handle for stem, if open.
func (r *Registry) Evict(stem string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.Remove(stem) {
		r.logger.Debug("archive evicted", "archive", stem)
	}
}

func (r *Registry) Len() int { return r.cache.Len() }

// Watch evicts archives whose files change on disk until ctx is done or
// Close is called. It returns once the watch is installed.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("archive watch: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive watch %s: %w", r.dir, err)
	}
	r.mu.Lock()
	r.watcher = w
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx, w, r.done)
	return nil
}

func (r *Registry) run(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Create) {
				continue
			}
			if stem, ok := workspace.ArchiveName(ev.Name); ok {
				r.Evict(stem)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("archive watch error", "err", err)
		}
	}
}

// Close stops the watcher and closes every open archive.
func (r *Registry) Close() error {
	r.mu.Lock()
	w, done := r.watcher, r.done
	r.watcher = nil
	r.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
		<-done
	}
	r.mu.Lock()
	r.cache.Purge()
	r.mu.Unlock()
	if err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return fmt.Errorf("archive watch close: %w", err)
	}
	return nil
}
