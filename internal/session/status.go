package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// statusReporter maintains one synthetic status notification per session.
// Emissions happen only on state change; a heartbeat re-emits the current
// state unconditionally. The whole reporter can be disabled when the
// connected client cannot handle synthetic notifications.
type statusReporter struct {
	enabled   bool
	sessionID string
	notifier  Notifier

	// guards against a misbehaving agent flipping status in a tight loop
	limiter *rate.Limiter

	mu   sync.Mutex
	last Status
}

func newStatusReporter(sessionID string, notifier Notifier, enabled bool) *statusReporter {
	return &statusReporter{
		enabled:   enabled,
		sessionID: sessionID,
		notifier:  notifier,
		limiter:   rate.NewLimiter(rate.Every(200*time.Millisecond), 10),
		last:      Status{State: "idle"},
	}
}

// Set updates the status, emitting only when state or detail changed.
func (r *statusReporter) Set(state, detail string) {
	r.mu.Lock()
	next := Status{State: state, Detail: detail}
	if next == r.last {
		r.mu.Unlock()
		return
	}
	r.last = next
	r.mu.Unlock()

	r.emit(next)
}

// Heartbeat re-emits the current status as a still-alive signal.
func (r *statusReporter) Heartbeat() {
	r.mu.Lock()
	current := r.last
	r.mu.Unlock()
	r.emit(current)
}

// Current returns the last-set status without emitting.
func (r *statusReporter) Current() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *statusReporter) emit(st Status) {
	if !r.enabled || !r.limiter.Allow() {
		return
	}
	r.notifier.Notify(r.sessionID, Update{Kind: UpdateStatus, Status: &st})
}
