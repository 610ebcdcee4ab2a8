package localmapper

import "github.com/sg47/SLAMRecon/internal/slam/smap"

// minKeyFramesForLocalBA is the map-size floor below which local bundle
// adjustment is skipped: with two or fewer keyframes there is no
// neighborhood to optimize over.
const minKeyFramesForLocalBA = 2

// localBundleAdjustment invokes the optimizer bridge over kf's covisibility
// neighborhood, provided the map has grown past the minimum size, no new
// keyframe has arrived in the meantime, and no stop has been requested. The
// abort flag is cleared before the call so a previous cycle's abort doesn't
// leak into this one.
func (lm *Mapper) localBundleAdjustment(kf *smap.KeyFrame) {
	if lm.Map.KeyFramesInMap() <= minKeyFramesForLocalBA {
		return
	}
	if lm.QueueLen() > 0 || lm.coord.StopRequested() {
		return
	}

	lm.abort.Clear()
	res := lm.bridge.LocalBundleAdjustment(kf, lm.abort, lm.Map, lm.Covis)
	lm.Stats.addBundleAdjustmentRun(res.Aborted)
}
