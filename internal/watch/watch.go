// Package watch follows a repository's HEAD and refs on disk and builds
// the snapshot for a new head before the first query asks for it.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"verso/internal/snapshot"
	"verso/internal/store"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

type Options struct {
	// Debounce coalesces bursts of ref updates, as a fetch or commit
	// touches several files.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher rebuilds the snapshot cache whenever the repository head moves.
type Watcher struct {
	watcher  *fsnotify.Watcher
	gitDir   string
	repo     store.Repository
	cache    *snapshot.Cache
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	last  string
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New watches gitDir, the repository's .git directory.
func New(gitDir string, repo store.Repository, cache *snapshot.Cache, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fw,
		gitDir:   gitDir,
		repo:     repo,
		cache:    cache,
		debounce: debounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := w.addDirs(); err != nil {
		cancel()
		fw.Close()
		return nil, err
	}

	if head, err := repo.Head(ctx); err == nil {
		w.last = head
	}

	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) addDirs() error {
	if err := w.watcher.Add(w.gitDir); err != nil {
		return fmt.Errorf("watching %s: %w", w.gitDir, err)
	}
	refs := filepath.Join(w.gitDir, "refs")
	if _, err := os.Stat(refs); err != nil {
		return nil
	}
	return filepath.WalkDir(refs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-w.ctx.Done():
			return
		}
	}
}

// relevant reports whether a change to rel may move the head.
func relevant(rel string) bool {
	if strings.HasSuffix(rel, ".lock") {
		return false
	}
	return rel == "HEAD" || rel == "packed-refs" || strings.HasPrefix(rel, "refs"+string(filepath.Separator))
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
			return
		}
	}

	rel, err := filepath.Rel(w.gitDir, event.Name)
	if err != nil || !relevant(rel) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if _, err := w.Check(w.ctx); err != nil && w.ctx.Err() == nil {
			w.logger.Warn("Prebuilding snapshot failed", zap.Error(err))
		}
	})
}

// Check builds the snapshot for the current head if the head has moved
// since the last check. It returns the current head.
func (w *Watcher) Check(ctx context.Context) (string, error) {
	head, err := w.repo.Head(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving head: %w", err)
	}

	w.mu.Lock()
	moved := head != w.last
	w.mu.Unlock()
	if !moved {
		return head, nil
	}

	w.logger.Info("Head moved", zap.String("head", head))
	if _, err := w.cache.Get(ctx, head); err != nil {
		return head, err
	}

	w.mu.Lock()
	w.last = head
	w.mu.Unlock()
	return head, nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
