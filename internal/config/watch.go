package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher holds the current configuration and swaps it by value when the
// file changes. A file that fails validation is logged and ignored.
type Watcher struct {
	mu     sync.Mutex
	v      *viper.Viper
	cur    atomic.Pointer[Config]
	logger *zap.Logger
	subs   []func(Config)
}

// NewWatcher loads path; it does not start watching.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, logger: logger}
	w.cur.Store(&cfg)
	return w, nil
}

// Current returns a copy of the active configuration.
func (w *Watcher) Current() Config {
	return *w.cur.Load()
}

// OnChange registers fn to run after every accepted reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Watch starts following the config file.
func (w *Watcher) Watch() {
	if w.v.ConfigFileUsed() == "" {
		return
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Info("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		w.apply()
	})
	w.v.WatchConfig()
}

// Reload re-reads the file and applies it.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	err := w.v.ReadInConfig()
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	return w.apply()
}

func (w *Watcher) apply() error {
	w.mu.Lock()
	cfg, err := decode(w.v)
	subs := append([]func(Config){}, w.subs...)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("config rejected, keeping previous", zap.Error(err))
		return err
	}
	w.cur.Store(&cfg)
	w.logger.Info("config reloaded",
		zap.String("tick_schedule", cfg.TickSchedule),
		zap.Int("hazard_rules", len(cfg.HazardRules)))
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}
