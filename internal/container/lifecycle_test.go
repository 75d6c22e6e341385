package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestLifecycleStartRollbackOnFailure(t *testing.T) {
	var stopped []string
	ok := &funcComponent{
		name:    "first",
		startFn: func(ctx context.Context) error { return nil },
		stopFn: func() error {
			stopped = append(stopped, "first")
			return nil
		},
	}
	bad := &funcComponent{
		name:    "second",
		startFn: func(ctx context.Context) error { return errors.New("boom") },
		stopFn:  func() error { return nil },
	}

	m := NewLifecycleManager()
	m.Register(ok)
	m.Register(bad)

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatalf("start must fail")
	}
	if !strings.Contains(err.Error(), "second") {
		t.Fatalf("error must name the failing component, got %v", err)
	}
	// 失败时已启动的组件要回滚
	if len(stopped) != 1 || stopped[0] != "first" {
		t.Fatalf("rollback stops = %v", stopped)
	}
}

func TestLifecycleHealthUsesComponentName(t *testing.T) {
	m := NewLifecycleManager()
	m.Register(&funcComponent{
		name:     "engine",
		startFn:  func(ctx context.Context) error { return nil },
		stopFn:   func() error { return nil },
		healthFn: func() error { return fmt.Errorf("not running") },
	})

	err := m.CheckHealth()
	if err == nil || !strings.Contains(err.Error(), "engine") {
		t.Fatalf("health error must name the component, got %v", err)
	}
}

func TestLifecycleStopAllReverseOrder(t *testing.T) {
	var order []string
	mk := func(name string) *funcComponent {
		return &funcComponent{
			name:    name,
			startFn: func(ctx context.Context) error { return nil },
			stopFn: func() error {
				order = append(order, name)
				return nil
			},
		}
	}

	m := NewLifecycleManager()
	m.Register(mk("a"))
	m.Register(mk("b"))
	m.Register(mk("c"))

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if strings.Join(order, "") != "cba" {
		t.Fatalf("stop order = %v, want reverse of registration", order)
	}
}
