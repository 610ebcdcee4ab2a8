package matcher

import (
	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// SearchBySim3 bidirectionally projects kf1's map points into kf2 (and vice
// versa) under a candidate similarity transform (rotation r12, translation
// t12, with any scale already folded in by the caller), matching within
// radius th scaled by octave. Only symmetric matches are accepted, where
// kf1's point projects to and matches a kf2 feature that, projected back,
// matches kf1's original feature. inout seeds features already considered
// matched (skipped on both sides) and the returned slice includes them plus
// any newly discovered symmetric matches.
func (m *Matcher) SearchBySim3(resolve MapPointResolver, kf1, kf2 *smap.KeyFrame, inout []Match, r12 geom.Mat3, t12 geom.Vec3, th float64) []Match {
	alreadyMatched1 := make(map[int]bool, len(inout))
	alreadyMatched2 := make(map[int]bool, len(inout))
	for _, mm := range inout {
		alreadyMatched1[mm.Idx1] = true
		alreadyMatched2[mm.Idx2] = true
	}

	r21 := r12.Transpose()
	t21 := r21.MulVec(t12).Scale(-1)

	forward := m.matchUnderSim3(resolve, kf1, kf2, r12, t12, th, alreadyMatched1)
	backward := m.matchUnderSim3(resolve, kf2, kf1, r21, t21, th, alreadyMatched2)

	out := append([]Match(nil), inout...)
	for i1, i2 := range forward {
		if j1, ok := backward[i2]; ok && j1 == i1 {
			out = append(out, Match{Idx1: i1, Idx2: i2})
		}
	}
	return out
}

// matchUnderSim3 projects every un-excluded map point observed by src into
// dst's image under the candidate transform (r,t) applied on top of src's
// own camera frame, and returns srcFeatureIdx -> dstFeatureIdx for the best
// accepted match.
func (m *Matcher) matchUnderSim3(resolve MapPointResolver, src, dst *smap.KeyFrame, r geom.Mat3, t geom.Vec3, th float64, excludeSrc map[int]bool) map[int]int {
	dstView := frameView(dst)
	out := make(map[int]int)
	for i, mpID := range src.MapPointMatches() {
		if mpID == ids.NoMapPoint || excludeSrc[i] {
			continue
		}
		mp, ok := resolve(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		camInSrc := src.GetPose().Transform(mp.Position())
		camInDst := r.MulVec(camInSrc).Add(t)
		if camInDst.Z <= 0 {
			continue
		}
		u, v := dst.K.Project(camInDst)
		if !dst.Bounds.Contains(u, v) {
			continue
		}
		kp := src.Keypoints[i]
		radius := radiusForOctave(th, kp.Octave, dst.Pyramid)
		cands := candidatesNear(dstView, u, v, radius, -1, -1)
		bestIdx, bestDist, secondDist := bestSecondBest(src.Descriptors[i], cands)
		if bestIdx < 0 || !m.acceptByRatio(bestDist, secondDist) {
			continue
		}
		out[i] = bestIdx
	}
	return out
}

// frameView adapts a KeyFrame's features to the matcher's internal Frame
// shape so candidatesNear can scan it without duplicating the grid-search logic.
func frameView(kf *smap.KeyFrame) *Frame {
	return &Frame{
		Pose:        kf.GetPose(),
		K:           kf.K,
		Bounds:      kf.Bounds,
		Pyramid:     kf.Pyramid,
		Keypoints:   kf.Keypoints,
		Descriptors: kf.Descriptors,
	}
}
