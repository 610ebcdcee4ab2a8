// Package optimizer defines the seam between LocalMapper and the nonlinear
// bundle-adjustment solver. The solver's internals are a non-goal
// collaborator; this package only specifies and exercises the contract the
// mapper depends on: given a keyframe, its covisibility neighborhood and an
// abort flag polled during the solve, either converge and write results back
// under the map's locks, or return early without committing anything.
package optimizer

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// AbortFlag is the cross-thread cancellation token the coordinator raises
// whenever a new keyframe arrives or a stop is requested. Bridge
// implementations must poll it at least once per outer iteration.
type AbortFlag struct {
	flag atomic.Bool
}

// Set raises the flag.
func (a *AbortFlag) Set() { a.flag.Store(true) }

// Clear lowers the flag, typically done once by the mapper before starting a new BA run.
func (a *AbortFlag) Clear() { a.flag.Store(false) }

// IsSet reports the current state.
func (a *AbortFlag) IsSet() bool { return a.flag.Load() }

// Bridge is the opaque interface to the nonlinear optimizer.
type Bridge interface {
	// LocalBundleAdjustment solves over kf's covisibility neighborhood and,
	// on success, writes pose/position updates back under the map's
	// exclusive lock before returning. If abort becomes set during the
	// solve, it must return promptly without writing anything back.
	LocalBundleAdjustment(kf *smap.KeyFrame, abort *AbortFlag, m *smap.Map, g *covis.Graph) Result
}

// Result reports what a LocalBundleAdjustment call did, for statistics and logging.
type Result struct {
	Aborted        bool
	KeyFramesTouched int
	PointsTouched    int
}

// NullBridge is a Bridge that performs no optimization; it exists so the
// mapper's work loop can be exercised end-to-end without a real solver
// wired in, and as the default until one is.
type NullBridge struct{}

// LocalBundleAdjustment reports an immediate, no-op success: nothing in the
// sub-graph is touched, matching the contract that an optimizer may
// legitimately converge in zero steps.
func (NullBridge) LocalBundleAdjustment(kf *smap.KeyFrame, abort *AbortFlag, m *smap.Map, g *covis.Graph) Result {
	if abort.IsSet() {
		return Result{Aborted: true}
	}
	return Result{}
}

// LoggingBridge wraps a Bridge, attaching a correlation id to every call and
// logging its outcome on the ops stream so concurrent BA runs across
// keyframes can be told apart in the log.
type LoggingBridge struct {
	Inner Bridge
}

// LocalBundleAdjustment delegates to Inner, logging start and outcome under a fresh correlation id.
func (b LoggingBridge) LocalBundleAdjustment(kf *smap.KeyFrame, abort *AbortFlag, m *smap.Map, g *covis.Graph) Result {
	corr := uuid.NewString()
	kfID := ids.NoKeyFrame
	if kf != nil {
		kfID = kf.ID
	}
	slamlog.Opsf("ba[%s] starting for keyframe %d", corr, kfID)
	res := b.Inner.LocalBundleAdjustment(kf, abort, m, g)
	if res.Aborted {
		slamlog.Opsf("ba[%s] aborted for keyframe %d", corr, kfID)
	} else {
		slamlog.Opsf("ba[%s] converged for keyframe %d (keyframes=%d points=%d)", corr, kfID, res.KeyFramesTouched, res.PointsTouched)
	}
	return res
}
