package localmapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sg47/SLAMRecon/internal/slam/clock"
)

// TestRunExitsPromptlyOnEmptyStartWithFinishRequested checks that a mapper
// started with no keyframes ever queued and a finish already requested
// exits its loop and reports finished, well within the poll interval's
// worst case.
func TestRunExitsPromptlyOnEmptyStartWithFinishRequested(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	lm := New(Config{Clock: mc})
	lm.Coordinator().RequestFinish()

	done := make(chan struct{})
	go func() {
		lm.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Run did not return within 50ms of an empty start with finish requested")
	}

	assert.True(t, lm.Coordinator().IsFinished())
	assert.Equal(t, 0, lm.QueueLen())
}

// TestRunDrainsQueueBeforeHonoringFinish mirrors the invariant that a
// pending finish request does not cut off keyframes already queued: Run
// keeps stepping until the queue is empty before reporting finished.
func TestRunDrainsQueueBeforeHonoringFinish(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	lm := New(Config{Clock: mc})

	lm.InsertKeyFrame(newEmptyKeyFrame(lm, 1))
	lm.InsertKeyFrame(newEmptyKeyFrame(lm, 1))
	lm.Coordinator().RequestFinish()

	done := make(chan struct{})
	go func() {
		lm.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Run did not return within 50ms")
	}

	assert.True(t, lm.Coordinator().IsFinished())
	assert.Equal(t, 2, lm.Map.KeyFramesInMap())
}
