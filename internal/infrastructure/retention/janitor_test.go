package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"prompt-compiler/pkg/logger"
)

type fakePurger struct {
	mu    sync.Mutex
	calls []int
	n     int
	err   error
}

func (f *fakePurger) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, days)
	return f.n, f.err
}

func TestNewJanitorClampsInterval(t *testing.T) {
	j := NewJanitor(&fakePurger{}, 7, time.Second, nil)
	if j.interval != MinInterval {
		t.Errorf("interval = %v, want %v", j.interval, MinInterval)
	}
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name    string
		purger  *fakePurger
		deleted int
		wantErr bool
	}{
		{"deletes", &fakePurger{n: 3}, 3, false},
		{"nothing expired", &fakePurger{}, 0, false},
		{"purger error", &fakePurger{err: errors.New("redis down")}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJanitor(tt.purger, 14, time.Hour, logger.Default())
			stats := j.RunOnce(context.Background())
			if stats.Deleted != tt.deleted || (stats.Err != nil) != tt.wantErr {
				t.Errorf("stats = %+v", stats)
			}
			if len(tt.purger.calls) != 1 || tt.purger.calls[0] != 14 {
				t.Errorf("calls = %v, want [14]", tt.purger.calls)
			}
		})
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	purger := &fakePurger{n: 1}
	j := NewJanitor(purger, 30, time.Hour, logger.Default())
	cycles := make(chan CycleStats, 1)
	j.onCycle = func(s CycleStats) { cycles <- s }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	select {
	case s := <-cycles:
		if s.Deleted != 1 {
			t.Errorf("first cycle deleted = %d", s.Deleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor should run a cycle on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
