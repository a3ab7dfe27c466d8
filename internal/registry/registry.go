// Package registry implements the request/response correlation table
// described in spec.md §4.3: inbound frames are matched to waiting callers
// by request id, with absolute deadlines and two-phase deletion.
package registry

import (
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rpcarback/buddyfs/internal/wire"
)

const (
	// DefaultTimeout is the registry's default absolute deadline, per
	// spec.md §5 "Cancellation & timeouts".
	DefaultTimeout = 10 * time.Second

	// responseBuffer bounds the number of frames a single waiter can
	// accumulate before further Offer calls are dropped; spec.md does not
	// bound the response queue, but an unbounded channel has no place to
	// put backpressure, so a generous buffer stands in for it.
	responseBuffer = 16
)

type waiter struct {
	reqID    uint32
	cmd      wire.Command
	deadline time.Time
	respCh   chan wire.Frame
}

// Registry is the process-wide reqid → waiter mapping. It is constructed
// fresh per node (or per test), never a package-level singleton, per the
// REDESIGN FLAGS note on global mutable state.
type Registry struct {
	mu            sync.Mutex
	live          map[uint32]*waiter
	pendingDelete []*waiter
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{live: make(map[uint32]*waiter)}
}

// Register creates (or, per Open Question 5, replaces with a logged
// warning) a waiter for reqID expecting a response frame with command cmd,
// with an absolute deadline now+timeout.
func (r *Registry) Register(cmd wire.Command, reqID uint32, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.live[reqID]; exists {
		color.Red("registry: Register clobbered a live waiter for reqid=%d", reqID)
	}
	r.live[reqID] = &waiter{
		reqID:    reqID,
		cmd:      cmd,
		deadline: time.Now().Add(timeout),
		respCh:   make(chan wire.Frame, responseBuffer),
	}
}

// Offer delivers an inbound frame to its matching waiter, if any is
// registered with the same command. It returns true if a waiter consumed
// the frame.
func (r *Registry) Offer(frame wire.Frame) bool {
	r.mu.Lock()
	w, ok := r.live[frame.ReqID]
	r.mu.Unlock()
	if !ok || w.cmd != frame.Cmd {
		return false
	}
	select {
	case w.respCh <- frame:
		return true
	default:
		return false // response queue full: caller is not draining fast enough
	}
}

// Wait blocks until a response for reqID arrives or its deadline elapses,
// whichever comes first. ok is false on timeout or if reqID was never
// registered (or already reaped by Tick).
func (r *Registry) Wait(reqID uint32) (wire.Frame, bool) {
	r.mu.Lock()
	w, ok := r.live[reqID]
	r.mu.Unlock()
	if !ok {
		return wire.Frame{}, false
	}

	remaining := time.Until(w.deadline)
	if remaining <= 0 {
		return wire.Frame{}, false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case f := <-w.respCh:
		return f, true
	case <-timer.C:
		return wire.Frame{}, false
	}
}

// Tick scans for expired waiters, moves them out of the live map, and frees
// whatever the previous tick had already moved out — the two-phase delete
// from spec.md §4.3, which in Go exists to give any Offer call that already
// holds a *waiter reference (captured before the lock was released) a safe
// tick to finish using it before the slot is dropped, rather than to manage
// memory the GC already reclaims.
func (r *Registry) Tick() {
	r.mu.Lock()
	freed := r.pendingDelete
	r.pendingDelete = nil

	now := time.Now()
	var expired []*waiter
	for reqID, w := range r.live {
		if now.After(w.deadline) || now.Equal(w.deadline) {
			delete(r.live, reqID)
			expired = append(expired, w)
		}
	}
	r.pendingDelete = expired
	r.mu.Unlock()

	_ = freed // previous tick's batch is now unreferenced and collectable
}

// Len reports the number of live (non-expired, non-pending-delete) waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
