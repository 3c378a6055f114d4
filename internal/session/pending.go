package session

import (
	"context"
	"sync"
)

// StopReason is the terminal classification of a completed prompt.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopCancelled StopReason = "cancelled"
)

// MapStopReason translates an agent-dialect stop reason. The mapping is
// total: anything unrecognized, including an absent value, is end_turn.
func MapStopReason(raw string) StopReason {
	switch raw {
	case "length":
		return StopMaxTokens
	case "aborted":
		return StopCancelled
	default:
		// "stop", "toolUse", empty, and future values
		return StopEndTurn
	}
}

type turnOutcome struct {
	stop StopReason
	err  error
}

// pendingTurn is a one-shot completion cell for the single in-flight
// prompt. Multiple triggers (agent end, process error, cancel) race to
// complete it; only the first wins, later attempts are no-ops.
type pendingTurn struct {
	once sync.Once
	ch   chan turnOutcome
}

func newPendingTurn() *pendingTurn {
	return &pendingTurn{ch: make(chan turnOutcome, 1)}
}

// resolve completes the turn with a stop reason. Returns true if this call
// won the race.
func (p *pendingTurn) resolve(stop StopReason) bool {
	won := false
	p.once.Do(func() {
		p.ch <- turnOutcome{stop: stop}
		won = true
	})
	return won
}

// reject completes the turn with an error. Returns true if this call won.
func (p *pendingTurn) reject(err error) bool {
	won := false
	p.once.Do(func() {
		p.ch <- turnOutcome{err: err}
		won = true
	})
	return won
}

// wait blocks until the turn completes or the context is cancelled.
func (p *pendingTurn) wait(ctx context.Context) (StopReason, error) {
	select {
	case out := <-p.ch:
		return out.stop, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
