package matcher

import (
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// MapPointResolver resolves a map point id through the Map, following
// Replace forwarding.
type MapPointResolver func(ids.MapPointID) (*smap.MapPoint, bool)

// radiusForOctave scales a base search radius by the feature pyramid's
// per-octave scale factor.
func radiusForOctave(base float64, octave int, pyr smap.ScalePyramid) float64 {
	return base * pyr.ScaleAt(octave)
}

// candidatesNear returns every frame feature within radius pixels of (u,v),
// optionally restricted to an octave window [lo,hi].
func candidatesNear(f *Frame, u, v, radius float64, lo, hi int) []candidate {
	out := make([]candidate, 0)
	r2 := radius * radius
	for i, kp := range f.Keypoints {
		if lo >= 0 && (kp.Octave < lo || kp.Octave > hi) {
			continue
		}
		dx, dy := kp.X-u, kp.Y-v
		if dx*dx+dy*dy > r2 {
			continue
		}
		out = append(out, candidate{idx: i, desc: f.Descriptors[i], angle: kp.Angle, octave: kp.Octave})
	}
	return out
}

// SearchByProjectionFrameToFrame projects lastFrame's map points into
// currentFrame using currentFrame's pose, matching by descriptor within a
// radius scaled by feature octave. The radius grows for forward camera
// motion and shrinks for backward motion; a translation is only classified
// as forward or backward once its magnitude along the optical axis clears
// MapperTuning.ForwardMotionThreshold, with smaller deltas treated as
// lateral motion and searched symmetrically.
func (m *Matcher) SearchByProjectionFrameToFrame(resolve MapPointResolver, currentFrame, lastFrame *Frame, th float64) int {
	dz := currentFrame.Pose.T.Z - lastFrame.Pose.T.Z
	forwardThresh := m.tuning.GetForwardMotionThreshold()
	cameraMotionForward := dz > forwardThresh
	cameraMotionBackward := dz < -forwardThresh

	matched := 0
	var angleDiffs []float64
	var matchIdx []int

	for i, mpID := range lastFrame.MapPoints {
		if mpID == ids.NoMapPoint {
			continue
		}
		mp, ok := resolve(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		u, v, _, ok := currentFrame.project(mp.Position())
		if !ok {
			continue
		}

		lastOctave := lastFrame.Keypoints[i].Octave
		var radius float64
		switch {
		case cameraMotionForward:
			radius = th * currentFrame.Pyramid.ScaleAt(lastOctave+1) / currentFrame.Pyramid.ScaleAt(0)
		case cameraMotionBackward:
			radius = th * currentFrame.Pyramid.ScaleAt(maxInt(lastOctave-1, 0)) / currentFrame.Pyramid.ScaleAt(0)
		default:
			radius = th * currentFrame.Pyramid.ScaleAt(lastOctave) / currentFrame.Pyramid.ScaleAt(0)
		}

		lo, hi := -1, -1
		switch {
		case cameraMotionForward:
			lo, hi = lastOctave, currentFrame.Pyramid.Levels()-1
		case cameraMotionBackward:
			lo, hi = 0, lastOctave
		}
		cands := candidatesNear(currentFrame, u, v, radius, lo, hi)
		bestIdx, bestDist, secondDist := bestSecondBest(mp.Descriptor(), cands)
		if bestIdx < 0 || !m.acceptByRatio(bestDist, secondDist) {
			continue
		}
		if currentFrame.MapPoints[bestIdx] != ids.NoMapPoint {
			continue
		}
		currentFrame.MapPoints[bestIdx] = mpID
		matched++
		if m.checkOrientation {
			angleDiffs = append(angleDiffs, lastFrame.Keypoints[i].Angle-currentFrame.Keypoints[bestIdx].Angle)
			matchIdx = append(matchIdx, bestIdx)
		}
	}

	if m.checkOrientation && len(angleDiffs) > 0 {
		keep := m.orientationHistogram(angleDiffs)
		for i, k := range keep {
			if !k {
				currentFrame.MapPoints[matchIdx[i]] = ids.NoMapPoint
				matched--
			}
		}
	}
	return matched
}

// ProjectionCandidate is a frustum-culled map point carrying the predicted
// scale level and viewing-direction cosine precomputed by the tracker's
// frustum check (a non-goal collaborator; this is only the shape the
// matcher needs).
type ProjectionCandidate struct {
	ID             ids.MapPointID
	PredictedLevel int
	ViewCos        float64
}

// SearchByProjectionCulled matches a set of pre-frustum-culled map points
// into frame. The search radius is 2.5px for near-head-on views
// (cos > 0.998) or 4.0px otherwise, multiplied by th/4 and scaled by the
// predicted octave; matches are restricted to features whose octave is within
// one of the predicted level, and if the best candidate sits at the predicted
// octave exactly, the ratio test additionally applies (the second-best
// candidate's octave is not checked).
func (m *Matcher) SearchByProjectionCulled(resolve MapPointResolver, frame *Frame, candidates []ProjectionCandidate, th float64) int {
	matched := 0
	for _, c := range candidates {
		mp, ok := resolve(c.ID)
		if !ok || mp.IsBad() {
			continue
		}
		u, v, _, ok := frame.project(mp.Position())
		if !ok {
			continue
		}
		base := 4.0
		if c.ViewCos > 0.998 {
			base = 2.5
		}
		radius := radiusForOctave(base*th/4.0, c.PredictedLevel, frame.Pyramid)
		cands := candidatesNear(frame, u, v, radius, c.PredictedLevel-1, c.PredictedLevel+1)

		bestIdx, bestDist, secondDist := bestSecondBest(mp.Descriptor(), cands)
		if bestIdx < 0 {
			continue
		}
		_, high := m.thresholds()
		if bestDist > high {
			continue
		}
		sameOctave := frame.Keypoints[bestIdx].Octave == c.PredictedLevel
		if sameOctave && secondDist != 1<<30 && !(float64(bestDist) < m.ratio*float64(secondDist)) {
			continue
		}
		if frame.MapPoints[bestIdx] != ids.NoMapPoint {
			continue
		}
		frame.MapPoints[bestIdx] = c.ID
		matched++
	}
	return matched
}

// SearchByProjectionRelocalization matches keyframe's map points into
// currentFrame for relocalization, skipping any id already present in
// alreadyFound. The expected octave is predicted from the current distance
// estimate and the point's scale-invariance bounds via the pyramid's
// log-scale factor, and the descriptor distance threshold is orbDist rather
// than TH_HIGH/TH_LOW.
func (m *Matcher) SearchByProjectionRelocalization(resolve MapPointResolver, currentFrame *Frame, keyframe *smap.KeyFrame, alreadyFound map[ids.MapPointID]bool, th float64, orbDist int) int {
	matched := 0
	for _, mpID := range keyframe.MapPointMatches() {
		if mpID == ids.NoMapPoint || alreadyFound[mpID] {
			continue
		}
		mp, ok := resolve(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		u, v, depth, ok := currentFrame.project(mp.Position())
		if !ok {
			continue
		}
		_, maxDist := mp.DistanceBounds()
		level := predictScale(depth, maxDist, currentFrame.Pyramid)
		radius := radiusForOctave(th, level, currentFrame.Pyramid)
		cands := candidatesNear(currentFrame, u, v, radius, level-1, level+1)

		bestIdx, bestDist, _ := bestSecondBest(mp.Descriptor(), cands)
		if bestIdx < 0 || bestDist > orbDist {
			continue
		}
		if currentFrame.MapPoints[bestIdx] != ids.NoMapPoint {
			continue
		}
		currentFrame.MapPoints[bestIdx] = mpID
		matched++
	}
	return matched
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
