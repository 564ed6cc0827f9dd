// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package planogram

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/store"
)

// DefaultDebounce collapses the burst of events an editor save produces
const DefaultDebounce = 100 * time.Millisecond

// Watcher reconciles the planogram on start and whenever the file changes
type Watcher struct {
	path     string
	store    store.Store
	applier  Applier
	log      zerolog.Logger
	Debounce time.Duration
	// OnReconcile, when set, is called after every reconcile attempt
	OnReconcile func([]Change, error)

	mu       sync.Mutex
	debounce *time.Timer
}

func NewWatcher(path string, st store.Store, a Applier, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		store:    st,
		applier:  a,
		log:      log.With().Str("component", "planogram").Str("file", path).Logger(),
		Debounce: DefaultDebounce,
	}
}

// Run watches the planogram directory until ctx is done. The directory is
// watched rather than the file so editors that replace it are followed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reconcile()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.Debounce, w.reconcile)
}

func (w *Watcher) reconcile() {
	changes, err := Reconcile(w.path, w.store, w.applier)
	if err != nil {
		w.log.Error().Err(err).Msg("planogram not applied")
	} else {
		w.log.Info().Int("changes", len(changes)).Msg("planogram reconciled")
	}
	if w.OnReconcile != nil {
		w.OnReconcile(changes, err)
	}
}
