package control

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/FerroO2000/nanostage/internal/telemetry"
)

var (
	reloadMu    sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a listener invoked when the watched configuration
// changes. Components register once at startup.
func RegisterReloadHook(fn func()) {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload invokes all reload hooks synchronously, in registration
// order.
func TriggerHotReload() {
	reloadMu.Lock()
	hooks := append([]func(){}, reloadHooks...)
	reloadMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Watcher triggers the reload hooks when a configuration file changes on
// disk.
type Watcher struct {
	tel     *telemetry.Telemetry
	watcher *fsnotify.Watcher
}

// NewWatcher returns a watcher on the given configuration file.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		tel:     telemetry.New("control", "watcher"),
		watcher: fsw,
	}, nil
}

// Run dispatches reload hooks until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				w.tel.LogInfo("config change detected, reloading")
				TriggerHotReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.tel.LogError(err, "watch error")
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
