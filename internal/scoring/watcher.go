package scoring

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Watcher reloads a rules file into Defaults whenever it changes on disk.
type Watcher struct {
	path     string
	defaults *Defaults
	watcher  *fsnotify.Watcher
	debounce time.Duration
	reloaded chan struct{}
}

// NewWatcher watches the directory holding path so that editors replacing
// the file by rename are picked up.
func NewWatcher(path string, defaults *Defaults) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: resolve %s", path)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "scoring: create file watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "scoring: watch %s", filepath.Dir(abs))
	}
	return &Watcher{
		path:     abs,
		defaults: defaults,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded receives a value after each successful reload.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run applies changes until ctx is cancelled. A file that fails to parse is
// logged and the previous rules stay in effect. Reloads happen on the Run
// goroutine, so none can start after Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close() //nolint:errcheck

	var (
		debounce *time.Timer
		pending  <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pending:
			pending = nil
			w.reload()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
			} else {
				debounce.Reset(w.debounce)
			}
			pending = debounce.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("scoring: file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	rules, err := LoadFile(w.path)
	if err != nil {
		zap.L().Error("scoring: rules reload failed, keeping previous rules",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.defaults.Set(rules)
	zap.L().Info("scoring: rules reloaded", zap.String("path", w.path), zap.Int("rules", len(rules)))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
