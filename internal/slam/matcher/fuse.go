package matcher

import (
	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Fuse projects each of mapPoints that kf does not already observe into kf
// and, for every projection that
// lands within th (scaled by predicted octave) of an existing feature,
// either attaches the point to a feature that has none or merges it with
// whatever point that feature already observes. On a merge the point with
// more observations survives; the loser is replaced in place (its
// observations are redirected to the survivor and it is marked bad), so the
// caller never has to reconcile two live points for the same feature.
// Returns the number of points successfully fused.
func (m *Matcher) Fuse(resolve MapPointResolver, kf *smap.KeyFrame, mapPoints []ids.MapPointID, th float64) int {
	view := frameView(kf)
	fused := 0
	for _, mpID := range mapPoints {
		mp, ok := resolve(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		if _, observed := mp.GetObservation(kf.ID); observed {
			continue
		}
		idx, ok := m.findFuseCandidate(view, mp, th)
		if !ok {
			continue
		}

		if existingID := kf.GetMapPoint(idx); existingID != ids.NoMapPoint {
			if existingID == mpID {
				continue
			}
			existing, ok := resolve(existingID)
			if !ok || existing.IsBad() {
				continue
			}
			winner, loser := existing, mp
			if existing.NumObservations() < mp.NumObservations() {
				winner, loser = mp, existing
			}
			for obsKF, obsIdx := range loser.MarkBadAndClear() {
				winner.AddObservation(obsKF, obsIdx)
			}
			loser.Replace(winner.ID)
		} else {
			kf.AddMapPointMatch(idx, mpID)
			mp.AddObservation(kf.ID, idx)
		}
		fused++
	}
	return fused
}

// ReplacementPair is a deferred fusion decision: kf's feature featIdx
// currently observes Loser and should end up observing Winner once the
// caller (the loop closer) has finished applying the Sim3 correction to
// every keyframe in the loop, rather than being replaced immediately.
type ReplacementPair struct {
	FeatIdx int
	Loser   ids.MapPointID
	Winner  ids.MapPointID
}

// FuseSim3 is the loop-closing variant of Fuse: points are projected into kf
// under the corrected Sim3 pose scw rather than kf's own current pose, and
// merges are not applied immediately. Instead each conflict is reported as a
// ReplacementPair so the caller can apply every fusion across the whole loop
// atomically after all keyframes have been processed.
func (m *Matcher) FuseSim3(resolve MapPointResolver, kf *smap.KeyFrame, scw geom.Pose, points []ids.MapPointID, th float64) []ReplacementPair {
	view := frameView(kf)
	view.Pose = scw

	var out []ReplacementPair
	for _, mpID := range points {
		mp, ok := resolve(mpID)
		if !ok || mp.IsBad() {
			continue
		}

		bestIdx, ok := m.findFuseCandidate(view, mp, th)
		if !ok {
			continue
		}

		existingID := kf.GetMapPoint(bestIdx)
		if existingID == ids.NoMapPoint || existingID == mpID {
			continue
		}
		existing, ok := resolve(existingID)
		if !ok || existing.IsBad() {
			continue
		}
		if existing.NumObservations() >= mp.NumObservations() {
			out = append(out, ReplacementPair{FeatIdx: bestIdx, Loser: mpID, Winner: existingID})
		} else {
			out = append(out, ReplacementPair{FeatIdx: bestIdx, Loser: existingID, Winner: mpID})
		}
	}
	return out
}

// findFuseCandidate projects mp into view and looks for a feature it can be
// fused with, rejecting on every gate Fuse/FuseSim3 require: outside the
// image, outside mp's scale-invariance distance bounds, viewing angle beyond
// CosViewingAngleMax from mp's mean viewing direction, no descriptor within
// TH_HIGH inside the octave-scaled radius, or a reprojection error beyond
// Chi2TwoDoF*sigma2 at the candidate's octave.
func (m *Matcher) findFuseCandidate(view *Frame, mp *smap.MapPoint, th float64) (int, bool) {
	u, v, depth, ok := view.project(mp.Position())
	if !ok {
		return 0, false
	}

	minDist, maxDist := mp.DistanceBounds()
	if maxDist > 0 {
		dist := mp.Position().Sub(view.Pose.CameraCenter()).Norm()
		if dist < minDist || dist > maxDist {
			return 0, false
		}
	}

	if normal := mp.Normal(); normal.Norm() > 0 {
		ray := mp.Position().Sub(view.Pose.CameraCenter())
		if ray.Dot(normal)/(ray.Norm()*normal.Norm()) < CosViewingAngleMax {
			return 0, false
		}
	}

	level := predictScale(depth, maxDist, view.Pyramid)
	radius := radiusForOctave(th, level, view.Pyramid)
	cands := candidatesNear(view, u, v, radius, level-1, level+1)

	bestIdx, bestDist, _ := bestSecondBest(mp.Descriptor(), cands)
	_, high := m.thresholds()
	if bestIdx < 0 || bestDist > high {
		return 0, false
	}

	kp := view.Keypoints[bestIdx]
	dx, dy := u-kp.X, v-kp.Y
	if dx*dx+dy*dy > Chi2TwoDoF*view.Pyramid.Sigma2(kp.Octave) {
		return 0, false
	}
	return bestIdx, true
}
