package matcher

import (
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Match pairs a keyframe/frame-1 feature index with a frame/keyframe-2 feature index.
type Match struct {
	Idx1, Idx2 int
}

// SearchByBoWFrame walks keyframe's and frame's feature vectors merge-joined
// on word id; within each shared word, candidates are brute-force matched by
// descriptor with ratio/orientation filtering. Each frame feature may match
// at most once. Returns the matches found.
func (m *Matcher) SearchByBoWFrame(kf *smap.KeyFrame, frame *Frame) []Match {
	var matches []Match
	var angleDiffs []float64
	matchedFrame := make(map[int]bool)

	for word, kfIdxs := range kf.Feat {
		frameIdxs, ok := frame.Feat[word]
		if !ok {
			continue
		}
		for _, i1 := range kfIdxs {
			if kf.GetMapPoint(i1) == ids.NoMapPoint {
				continue
			}
			cands := make([]candidate, 0, len(frameIdxs))
			for _, i2 := range frameIdxs {
				if matchedFrame[i2] {
					continue
				}
				cands = append(cands, candidate{idx: i2, desc: frame.Descriptors[i2], angle: frame.Keypoints[i2].Angle})
			}
			bestIdx, bestDist, secondDist := bestSecondBest(kf.Descriptors[i1], cands)
			if bestIdx < 0 || !m.acceptByRatio(bestDist, secondDist) {
				continue
			}
			matchedFrame[bestIdx] = true
			matches = append(matches, Match{Idx1: i1, Idx2: bestIdx})
			if m.checkOrientation {
				angleDiffs = append(angleDiffs, kf.Keypoints[i1].Angle-frame.Keypoints[bestIdx].Angle)
			}
		}
	}
	return m.filterByOrientation(matches, angleDiffs)
}

// SearchByBoWKeyFrames is the symmetric keyframe-keyframe variant: each kf2
// feature may be consumed at most once.
func (m *Matcher) SearchByBoWKeyFrames(kf1, kf2 *smap.KeyFrame) []Match {
	var matches []Match
	var angleDiffs []float64
	matchedKF2 := make(map[int]bool)

	for word, idxs1 := range kf1.Feat {
		idxs2, ok := kf2.Feat[word]
		if !ok {
			continue
		}
		for _, i1 := range idxs1 {
			if kf1.GetMapPoint(i1) == ids.NoMapPoint {
				continue
			}
			cands := make([]candidate, 0, len(idxs2))
			for _, i2 := range idxs2 {
				if matchedKF2[i2] || kf2.GetMapPoint(i2) == ids.NoMapPoint {
					continue
				}
				cands = append(cands, candidate{idx: i2, desc: kf2.Descriptors[i2], angle: kf2.Keypoints[i2].Angle})
			}
			bestIdx, bestDist, secondDist := bestSecondBest(kf1.Descriptors[i1], cands)
			if bestIdx < 0 || !m.acceptByRatio(bestDist, secondDist) {
				continue
			}
			matchedKF2[bestIdx] = true
			matches = append(matches, Match{Idx1: i1, Idx2: bestIdx})
			if m.checkOrientation {
				angleDiffs = append(angleDiffs, kf1.Keypoints[i1].Angle-kf2.Keypoints[bestIdx].Angle)
			}
		}
	}
	return m.filterByOrientation(matches, angleDiffs)
}

func (m *Matcher) filterByOrientation(matches []Match, angleDiffs []float64) []Match {
	if !m.checkOrientation || len(angleDiffs) == 0 {
		return matches
	}
	keep := m.orientationHistogram(angleDiffs)
	out := make([]Match, 0, len(matches))
	for i, k := range keep {
		if k {
			out = append(out, matches[i])
		}
	}
	return out
}
