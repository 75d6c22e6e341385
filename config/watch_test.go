package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	w, err := NewWatcher(path, WatcherConfig{CooldownTime: time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ch := make(chan AppConfig, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx, func(cfg AppConfig) {
		select {
		case ch <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Venue.Name != "testvenue" {
			t.Fatalf("unexpected config: %+v", cfg.Venue)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	w, err := NewWatcher(path, WatcherConfig{CooldownTime: time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ch := make(chan AppConfig, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx, func(cfg AppConfig) {
		select {
		case ch <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`env: [broken`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		t.Fatalf("invalid config must not be delivered: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
