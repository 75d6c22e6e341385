package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig 热更新配置
type WatcherConfig struct {
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// Watcher 监听配置文件变化并在变化时回调最新配置。
// 编辑器原子替换文件会触发 Create 事件，所以两种事件都要处理。
type Watcher struct {
	config     WatcherConfig
	configPath string
	watcher    *fsnotify.Watcher
	lastReload time.Time
	mu         sync.Mutex
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewWatcher 创建配置监听器。
func NewWatcher(configPath string, cfg WatcherConfig) (*Watcher, error) {
	if cfg.CooldownTime <= 0 {
		cfg.CooldownTime = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		config:     cfg,
		configPath: configPath,
		watcher:    fsw,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start 启动监听。onUpdate 收到通过校验的最新配置。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	go w.watch(ctx, onUpdate)
	return nil
}

// Stop 停止监听。
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
		// watch goroutine 可能没有启动
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context, onUpdate func(AppConfig)) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange(onUpdate)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
		}
	}
}

// handleChange 带冷却时间地重载配置。解析/校验失败保持旧配置。
func (w *Watcher) handleChange(onUpdate func(AppConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.config.CooldownTime {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.configPath)
	if err != nil {
		return
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}
	w.lastReload = time.Now()
}

// LastReloadTime 获取最后重载时间。
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
