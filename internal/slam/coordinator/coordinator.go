// Package coordinator implements the thread-lifecycle state machine shared
// by the tracker, LocalMapper and loop closer: a small set of mutex-guarded
// flags (stopped, stopRequested, notStop, finishRequested, finished,
// acceptKeyFrames, resetRequested) and the transitions between them.
// LocalMapper's work loop polls this state between phases; it never blocks
// on it beyond a short sleep.
package coordinator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sg47/SLAMRecon/internal/slam/optimizer"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
)

// Coordinator owns the stop/finish/reset/accept flags for one LocalMapper instance.
type Coordinator struct {
	mu sync.Mutex

	stopped         bool
	stopRequested   bool
	notStop         bool
	finishRequested bool
	finished        bool
	acceptKeyFrames bool
	resetRequested  bool

	resetDone chan struct{}

	abort *optimizer.AbortFlag
}

// New returns a Coordinator ready to accept keyframes, wired to abort for InterruptBA.
func New(abort *optimizer.AbortFlag) *Coordinator {
	return &Coordinator{
		acceptKeyFrames: true,
		abort:           abort,
	}
}

// AcceptKeyFrames reports whether the tracker should currently submit keyframes.
func (c *Coordinator) AcceptKeyFrames() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptKeyFrames
}

// SetAcceptKeyFrames is called by the mapper at the start/end of each iteration.
func (c *Coordinator) SetAcceptKeyFrames(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptKeyFrames = v
}

// RequestStop asks the mapper to stop at its next checkpoint and raises the
// BA abort flag so any in-flight optimization returns promptly.
func (c *Coordinator) RequestStop() {
	c.mu.Lock()
	c.stopRequested = true
	c.notStop = false
	c.mu.Unlock()
	if c.abort != nil {
		c.abort.Set()
	}
	corr := uuid.NewString()
	slamlog.Opsf("coordinator[%s] stop requested", corr)
}

// Stop transitions to stopped if NotStop permits it, reporting whether it did.
// Called by the mapper at its checkpoint.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested && !c.notStop {
		c.stopped = true
		return true
	}
	return false
}

// IsStopped reports whether the mapper has transitioned to stopped.
func (c *Coordinator) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// StopRequested reports whether a stop has been requested but not yet honored.
func (c *Coordinator) StopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested
}

// SetNotStop prevents (true) or permits (false) a pending stop request from
// completing; used to protect a critical section (e.g. mid local-BA commit).
// Returns false if a stop was already in effect and could not be overridden.
func (c *Coordinator) SetNotStop(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped && v {
		return false
	}
	c.notStop = v
	return true
}

// Release clears stopped/stopRequested, allowing the mapper to resume; any
// keyframes still queued are discarded by the caller.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
	c.stopRequested = false
}

// RequestFinish asks the mapper to exit its loop after the next stop checkpoint.
func (c *Coordinator) RequestFinish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishRequested = true
}

// FinishRequested reports whether RequestFinish has been called.
func (c *Coordinator) FinishRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishRequested
}

// SetFinished marks the loop as exited; called once by the mapper on its way out.
func (c *Coordinator) SetFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
}

// IsFinished reports whether the mapper's loop has exited.
func (c *Coordinator) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// RequestReset asks the mapper to clear its keyframe queue and recently-added
// list, and blocks the caller until it has done so. The mapper must call
// AckReset once the clear completes.
func (c *Coordinator) RequestReset() {
	c.mu.Lock()
	if c.resetRequested {
		c.mu.Unlock()
		return
	}
	c.resetRequested = true
	done := make(chan struct{})
	c.resetDone = done
	c.mu.Unlock()
	<-done
}

// ResetRequested reports whether a reset is pending, polled by the mapper's loop.
func (c *Coordinator) ResetRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetRequested
}

// AckReset is called by the mapper once the queue and recently-added list
// have been cleared, unblocking any caller of RequestReset.
func (c *Coordinator) AckReset() {
	c.mu.Lock()
	c.resetRequested = false
	done := c.resetDone
	c.resetDone = nil
	c.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// InterruptBA raises the shared abort flag from outside the mapper's loop,
// e.g. from the loop closer before it commits a correction.
func (c *Coordinator) InterruptBA() {
	if c.abort != nil {
		c.abort.Set()
	}
}
