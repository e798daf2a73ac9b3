// Package syncutil provides Syncer, the small mutex+condvar composition
// used throughout the session core wherever a goroutine must block on a
// predicate with a deadline: request completion and meeting-point
// pairing.
package syncutil

import (
	"sync"
	"time"
)

// Syncer binds a sync.Cond to a caller-supplied lock and adds a
// timeout-bounded predicate wait on top of the bare Wait/Broadcast pair.
// Composition, not embedding: callers hold their own mutex for protecting
// their own state and hand it to NewSyncer once.
type Syncer struct {
	cond *sync.Cond
}

// NewSyncer binds a new Syncer to mu, which the caller must already use
// to protect the state referenced by predicates passed to Wait.
func NewSyncer(mu sync.Locker) *Syncer {
	return &Syncer{cond: sync.NewCond(mu)}
}

// Broadcast wakes every goroutine blocked in Wait. The caller must hold
// the associated lock.
func (s *Syncer) Broadcast() {
	s.cond.Broadcast()
}

// Wait blocks until pred returns true or timeout elapses, whichever comes
// first. The caller must hold the associated lock on entry; Wait returns
// with the lock held in both outcomes.
//
// A goroutine is spawned to perform the actual cond.Wait, since
// sync.Cond offers no timeout primitive; if timeout fires first, that
// goroutine remains blocked until a future Broadcast observes pred is
// satisfied (or becomes satisfied for an unrelated reason) and exits.
// This mirrors the one-angle imperfection accepted in request.Wait.
func (s *Syncer) Wait(timeout time.Duration, pred func() bool) bool {
	if pred() {
		return true
	}

	done := make(chan struct{})
	go func() {
		s.cond.L.Lock()
		for !pred() {
			s.cond.Wait()
		}
		s.cond.L.Unlock()
		close(done)
	}()

	s.cond.L.Unlock()
	defer s.cond.L.Lock()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
