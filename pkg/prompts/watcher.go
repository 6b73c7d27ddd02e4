package prompts

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Live set when its file changes on disk. The parent
// directory is watched because editors commonly replace files by rename.
type Watcher struct {
	live     *Live
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	logger   zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher for live. debounce collapses bursts of writes
// into one reload; zero means 100ms.
func NewWatcher(live *Live, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	if live == nil || live.Path() == "" {
		return nil, fmt.Errorf("prompts watcher requires a file path")
	}
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	target, err := filepath.Abs(live.Path())
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to resolve prompts path: %w", err)
	}

	return &Watcher{
		live:     live,
		watcher:  fw,
		target:   target,
		debounce: debounce,
		logger:   logger.With().Str("component", "prompts_watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.target)); err != nil {
		return fmt.Errorf("failed to watch prompts directory: %w", err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.logger.Info().Str("path", w.target).Msg("Prompts watcher started")
	return nil
}

// Stop stops watching and cancels any pending reload.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != w.target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	if err := w.live.Reload(); err != nil {
		w.logger.Error().Err(err).Str("path", w.target).Msg("Failed to reload prompts, keeping previous set")
		return
	}
	w.logger.Info().
		Str("path", w.target).
		Str("version", w.live.Current().Version).
		Msg("Prompts reloaded")
}
