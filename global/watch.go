package global

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher keeps the latest valid config and reports file edits. Only
// settings read at use time (the log level) take effect without a restart.
type Watcher struct {
	mu       sync.RWMutex
	current  *Config
	v        *viper.Viper
	log      *zap.Logger
	onChange func(*Config)
}

// Watch loads like Load and then follows the config file. An edit that
// fails to parse or validate is logged and the previous config stays.
func Watch(log *zap.Logger, onChange func(*Config), name string, paths ...string) (*Watcher, error) {
	v, err := read(name, paths)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watcher{current: cfg, v: v, log: log.Named("config"), onChange: onChange}
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(w.reload)
		v.WatchConfig()
	}
	return w, nil
}

func (w *Watcher) reload(e fsnotify.Event) {
	cfg, err := decode(w.v)
	if err != nil {
		w.log.Warn("config change rejected", zap.String("file", e.Name), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info("config reloaded", zap.String("file", e.Name))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Current returns the last config that loaded cleanly.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
