package session

import "sync/atomic"

// CaptureGuard is the single in-flight-submission token for a session.
//
// Held from the moment a capture is triggered until its outcome has been
// fully processed and, on the failure path, the dwell delay has elapsed.
// While held the detection loop must not trigger another submission.
type CaptureGuard struct {
	held atomic.Bool
}

// TryAcquire takes the guard. Exactly one concurrent caller wins.
func (g *CaptureGuard) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release clears the guard so the loop may trigger again.
func (g *CaptureGuard) Release() {
	g.held.Store(false)
}

// Held reports whether a submission is in flight or dwelling.
func (g *CaptureGuard) Held() bool {
	return g.held.Load()
}
