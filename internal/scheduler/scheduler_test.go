package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "formwatch/pkg/logx"
)

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(Config{Spec: "not a cron spec"}, logx.Nop())
	if err := s.Start(context.Background(), func(context.Context) {}); err == nil {
		t.Fatal("expected spec parse error")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	s := New(Config{Spec: "@every 1m", Timezone: "Not/AZone"}, logx.Nop())
	if err := s.Start(context.Background(), func(context.Context) {}); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestPeriodicRunAndStop(t *testing.T) {
	var runs atomic.Int32
	s := New(Config{Spec: "@every 50ms"}, logx.Nop())

	err := s.Start(context.Background(), func(ctx context.Context) {
		runs.Add(1)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 runs, got %d", runs.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(stopCtx)

	after := runs.Load()
	time.Sleep(150 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("job still running after Stop")
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	s := New(Config{Spec: "@every 1h"}, logx.Nop())
	if err := s.Start(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
