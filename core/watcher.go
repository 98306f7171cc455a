package core

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// quiet period after the last file event before reloading
const watchDebounce = 250 * time.Millisecond

// Watch reloads the ontology whenever its file changes on disk and calls
// onReload after each successful reload. It only works for files on the OS
// filesystem and returns once ctx is done.
func (e *LocalEngine) Watch(ctx context.Context, log *zap.Logger, onReload func()) error {
	if e.path == "" {
		return ErrNoOntology
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// watch the directory so editors that replace the file are still seen
	target := filepath.Clean(e.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		e.watchLoop(ctx, w, target, log, onReload)
	}()
	return nil
}

func (e *LocalEngine) watchLoop(
	ctx context.Context,
	w *fsnotify.Watcher,
	target string,
	log *zap.Logger,
	onReload func(),
) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := e.Reload(); err != nil {
				log.Warn("ontology reload failed", zap.String("path", target), zap.Error(err))
				continue
			}
			log.Info("ontology reloaded",
				zap.String("path", target),
				zap.Int("triples", e.Triples()))
			if onReload != nil {
				onReload()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("ontology watcher error", zap.Error(err))
		}
	}
}
