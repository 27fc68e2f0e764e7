package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingPromoter struct {
	calls atomic.Int64
	err   error
}

func (p *countingPromoter) PromoteOldest(ctx context.Context) (bool, error) {
	p.calls.Add(1)
	return p.err == nil, p.err
}

func TestTickCallsPromoter(t *testing.T) {
	promoter := &countingPromoter{}
	proc := NewProcessor(promoter, time.Minute, zerolog.Nop())

	proc.Tick(context.Background())
	proc.Tick(context.Background())

	if got := promoter.calls.Load(); got != 2 {
		t.Fatalf("promoter calls = %d, want 2", got)
	}
}

func TestTickSwallowsPromoterError(t *testing.T) {
	promoter := &countingPromoter{err: errors.New("store down")}
	proc := NewProcessor(promoter, time.Minute, zerolog.Nop())

	// Must not panic or stop the schedule; the next tick retries.
	proc.Tick(context.Background())
	proc.Tick(context.Background())

	if got := promoter.calls.Load(); got != 2 {
		t.Fatalf("promoter calls = %d, want 2", got)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	promoter := &countingPromoter{}
	proc := NewProcessor(promoter, 10*time.Millisecond, zerolog.Nop())

	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer proc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for promoter.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("promoter never invoked by schedule")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
