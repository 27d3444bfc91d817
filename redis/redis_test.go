package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/taskflow/component"
	"github.com/kbukum/taskflow/logger"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{Enabled: true, Addr: mr.Addr()}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_SetNX(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "cb:task-1:3", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got %v %v", ok, err)
	}
	ok, err = c.SetNX(ctx, "cb:task-1:3", "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to lose, got %v %v", ok, err)
	}
	if ttl := mr.TTL("cb:task-1:3"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = c.SetNX(ctx, "cb:task-1:3", "1", time.Minute)
	if !ok {
		t.Error("expected SetNX to succeed after expiry")
	}
}

func TestClient_GetSetDel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNil) {
		t.Errorf("expected ErrNil, got %v", err)
	}
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Get(ctx, "k"); v != "v" {
		t.Errorf("expected v, got %q", v)
	}
	if err := c.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNil) {
		t.Errorf("expected key deleted, got %v", err)
	}
}

func TestComponent_StartFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := NewComponent(Config{Enabled: true, Addr: addr, MaxRetries: -1, DialTimeout: "100ms"}, logger.Nop())
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail against closed server")
	}
	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
}

func TestComponent_Healthy(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewComponent(Config{Enabled: true, Addr: mr.Addr()}, logger.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s: %s", h.Status, h.Message)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Enabled: true, DB: 20}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected db range error")
	}
}
