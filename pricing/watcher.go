package pricing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits after the last change before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a pricing file into a Resolver whenever it changes on disk.
// The parent directory is watched so editors that replace the file by rename
// are picked up too.
type Watcher struct {
	resolver *Resolver
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	// reloaded is signalled after each reload attempt; used by tests.
	reloaded chan error
}

// NewWatcher creates a watcher for path.
func NewWatcher(resolver *Resolver, path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		resolver: resolver,
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logger.With().Str("component", "pricing_watcher").Logger(),
	}
}

// Run watches until ctx is cancelled. A file that fails to parse is logged and
// the previous table stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.logger.Info().Str("path", w.path).Msg("Watching pricing file")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Pricing file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			err := w.resolver.SetPricingFile(w.path)
			if err != nil {
				w.logger.Warn().Err(err).Msg("Pricing reload failed, keeping previous table")
			}
			if w.reloaded != nil {
				select {
				case w.reloaded <- err:
				default:
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error().Err(err).Msg("Pricing watcher error")
		}
	}
}
