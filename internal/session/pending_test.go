package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		raw  string
		want StopReason
	}{
		{"stop", StopEndTurn},
		{"length", StopMaxTokens},
		{"aborted", StopCancelled},
		{"toolUse", StopEndTurn},
		{"", StopEndTurn},
		{"something_new", StopEndTurn},
	}
	for _, tt := range tests {
		t.Run("raw="+tt.raw, func(t *testing.T) {
			if got := MapStopReason(tt.raw); got != tt.want {
				t.Errorf("MapStopReason(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPendingTurnResolvesOnce(t *testing.T) {
	p := newPendingTurn()

	if !p.resolve(StopEndTurn) {
		t.Error("first resolve lost")
	}
	if p.resolve(StopCancelled) {
		t.Error("second resolve won")
	}
	if p.reject(errors.New("late error")) {
		t.Error("late reject won")
	}

	stop, err := p.wait(context.Background())
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if stop != StopEndTurn {
		t.Errorf("wait() = %q, want first winner %q", stop, StopEndTurn)
	}
}

func TestPendingTurnRacingTriggers(t *testing.T) {
	p := newPendingTurn()

	var wg sync.WaitGroup
	wins := make(chan bool, 3)
	for _, trigger := range []func() bool{
		func() bool { return p.resolve(StopEndTurn) },
		func() bool { return p.resolve(StopCancelled) },
		func() bool { return p.reject(errors.New("process died")) },
	} {
		wg.Add(1)
		go func(fire func() bool) {
			defer wg.Done()
			wins <- fire()
		}(trigger)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestPendingTurnWaitCancellation(t *testing.T) {
	p := newPendingTurn()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("wait() error = %v, want context.Canceled", err)
	}
}
