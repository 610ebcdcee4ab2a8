package localmapper

import (
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// mapPointCulling walks the recently-added watch list: a point already bad
// is dropped; a point whose found-ratio has dropped below the configured
// threshold is marked bad; a point that has survived the observation window
// without accumulating enough observations is marked bad; any point that has
// survived past the window entirely graduates off the watch list.
func (lm *Mapper) mapPointCulling() {
	window := ids.KeyFrameID(lm.tuning.GetMapPointCullingObservationWindow())
	minFoundRatio := lm.tuning.GetMapPointCullingMinFoundRatio()
	minObs := lm.tuning.GetMapPointCullingMinObservations()

	lm.recentMu.Lock()
	watch := lm.recent
	lm.recent = lm.recent[:0]
	lm.recentMu.Unlock()

	culled := 0
	var survivors []recentPoint
	for _, rp := range watch {
		mp, ok := lm.Map.GetMapPoint(rp.id)
		if !ok || mp.IsBad() {
			continue
		}

		age := lm.lastProcessed - rp.createdAt
		if mp.FoundRatio() < minFoundRatio {
			lm.cullMapPoint(mp)
			culled++
			continue
		}
		if age >= window && mp.NumObservations() <= minObs {
			lm.cullMapPoint(mp)
			culled++
			continue
		}
		if age >= window+1 {
			continue // survived probation; drop from watch list without culling
		}
		survivors = append(survivors, rp)
	}

	lm.recentMu.Lock()
	lm.recent = append(lm.recent, survivors...)
	lm.recentMu.Unlock()

	if culled > 0 {
		lm.Stats.addPointsCulled(culled)
		slamlog.Diagf("mapPointCulling: culled %d points, %d remain on probation", culled, len(survivors))
	}
}

// cullMapPoint marks mp bad and unlinks it from every keyframe that observed it.
func (lm *Mapper) cullMapPoint(mp *smap.MapPoint) {
	obs := mp.MarkBadAndClear()
	for kfID, featIdx := range obs {
		if kf, ok := lm.Map.GetKeyFrame(kfID); ok {
			kf.EraseMapPointMatch(featIdx)
		}
	}
}

// keyFrameCulling walks kf's covisibility neighbors (skipping keyframe id 1,
// the first id a Generator hands out and the protected root) and marks a
// neighbor bad if at least KeyFrameCullingRedundancyFraction of its eligible
// stereo map points are each observed, at an octave no coarser than the
// neighbor's own octave +1, by at least KeyFrameCullingNeighborCount other
// keyframes.
func (lm *Mapper) keyFrameCulling(kf *smap.KeyFrame) {
	redundancyFraction := lm.tuning.GetKeyFrameCullingRedundancyFraction()
	neighborCount := lm.tuning.GetKeyFrameCullingNeighborCount()

	culled := 0
	for _, nb := range lm.sortedCovisibilityNeighbors(kf, -1) {
		if nb.ID == 1 || nb.IsBad() {
			continue
		}
		if lm.isRedundant(nb, redundancyFraction, neighborCount) {
			lm.eraseKeyFrame(nb)
			culled++
		}
	}
	if culled > 0 {
		lm.Stats.addKeyFramesCulled(culled)
		slamlog.Opsf("keyFrameCulling: culled %d redundant keyframes around keyframe %d", culled, kf.ID)
	}
}

func (lm *Mapper) isRedundant(kf *smap.KeyFrame, redundancyFraction float64, neighborCount int) bool {
	total := 0
	redundant := 0
	for i, mpID := range kf.MapPointMatches() {
		if mpID == ids.NoMapPoint {
			continue
		}
		kp := kf.Keypoints[i]
		if !kp.HasDepth() {
			continue
		}
		mp, ok := lm.Map.GetMapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		total++

		obsOthers := 0
		for obsKFID, obsFeat := range mp.Observations() {
			if obsKFID == kf.ID {
				continue
			}
			obsKF, ok := lm.Map.GetKeyFrame(obsKFID)
			if !ok || obsKF.IsBad() {
				continue
			}
			if obsKF.Keypoints[obsFeat].Octave <= kp.Octave+1 {
				obsOthers++
				if obsOthers >= neighborCount {
					break
				}
			}
		}
		if obsOthers >= neighborCount {
			redundant++
		}
	}
	if total == 0 {
		return false
	}
	return float64(redundant) >= redundancyFraction*float64(total)
}

// eraseKeyFrame unlinks kf from every graph it participates in and marks it
// bad, dropping each of its observations and culling any map point left with
// fewer than two observations as a result.
func (lm *Mapper) eraseKeyFrame(kf *smap.KeyFrame) {
	kf.SetBad()
	lm.Covis.EraseKeyFrame(lm.Map, kf)
	lm.Tree.Erase(lm.Map, kf)
	lm.DB.Erase(kf)

	for _, mpID := range kf.MapPointMatches() {
		if mpID == ids.NoMapPoint {
			continue
		}
		mp, ok := lm.Map.GetMapPoint(mpID)
		if !ok {
			continue
		}
		remaining := mp.EraseObservation(kf.ID)
		if !mp.IsBad() && remaining < 2 {
			lm.cullMapPoint(mp)
		}
	}
	lm.Map.EraseKeyFrame(kf.ID)
}
