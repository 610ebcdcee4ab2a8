// Package matcher implements the pure, stateless-except-for-construction-
// parameters descriptor/geometric matching operations: projection search,
// bag-of-words search, triangulation candidate search, Sim3 search and
// point-keyframe fusion.
package matcher

import (
	"sort"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

// Matcher is pure and stateless beyond its two construction parameters: the
// nearest-neighbor ratio and whether orientation-consistency filtering is on.
type Matcher struct {
	ratio              float64
	checkOrientation   bool
	tuning             *tuning.MapperTuning
}

// New returns a Matcher with the given nearest-neighbor ratio (callers
// typically use something in 0.6-0.9) and orientation-consistency flag.
func New(t *tuning.MapperTuning, ratio float64, checkOrientation bool) *Matcher {
	return &Matcher{ratio: ratio, checkOrientation: checkOrientation, tuning: t}
}

// thresholds returns TH_LOW and TH_HIGH, in that order, from the tuning config.
func (m *Matcher) thresholds() (low, high int) {
	return m.tuning.GetDescriptorDistanceLow(), m.tuning.GetDescriptorDistanceHigh()
}

// histoBins returns HISTO_LENGTH.
func (m *Matcher) histoBins() int {
	return m.tuning.GetOrientationHistogramBins()
}

// candidate is one (featureIndex, descriptor, angle) tuple considered during
// a best/second-best scan.
type candidate struct {
	idx    int
	desc   geom.Descriptor
	angle  float64
	octave int
}

// bestSecondBest scans candidates against a query descriptor, returning the
// index of the best match, its distance, and the second-best distance. With
// no candidates bestIdx is -1; a distance with no candidate behind it is
// 1<<30. This is the shared "best-
// second-best" core of every SearchBy* operation.
func bestSecondBest(query geom.Descriptor, cands []candidate) (bestIdx int, bestDist, secondDist int) {
	bestIdx = -1
	bestDist = 1 << 30
	secondDist = 1 << 30
	for _, c := range cands {
		d := geom.HammingDistance(query, c.desc)
		if d < bestDist {
			secondDist = bestDist
			bestDist = d
			bestIdx = c.idx
		} else if d < secondDist {
			secondDist = d
		}
	}
	return bestIdx, bestDist, secondDist
}

// acceptByRatio applies the standard accept rule: best <= TH_HIGH and
// best < ratio*second (when a second candidate exists).
func (m *Matcher) acceptByRatio(bestDist, secondDist int) bool {
	_, high := m.thresholds()
	if bestDist > high {
		return false
	}
	if secondDist == 1<<30 {
		return true
	}
	return float64(bestDist) < m.ratio*float64(secondDist)
}

// orientationHistogram buckets matches by rotation consistency and returns
// the indices (into the caller's match slice) that survive: those falling in
// the top three bins by count, discarding the 2nd/3rd-largest bins if their
// count is below 10% of the largest.
func (m *Matcher) orientationHistogram(angleDiffs []float64) []bool {
	bins := m.histoBins()
	if bins <= 0 {
		keep := make([]bool, len(angleDiffs))
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	factor := float64(bins) / 360.0
	histo := make([][]int, bins)
	for i, d := range angleDiffs {
		rot := d
		for rot < 0 {
			rot += 360
		}
		for rot >= 360 {
			rot -= 360
		}
		bin := int(rot * factor)
		if bin >= bins {
			bin = bins - 1
		}
		histo[bin] = append(histo[bin], i)
	}

	type binCount struct {
		bin   int
		count int
	}
	counts := make([]binCount, bins)
	for b := range histo {
		counts[b] = binCount{bin: b, count: len(histo[b])}
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].count > counts[j].count })

	keepBins := map[int]bool{}
	if len(counts) > 0 && counts[0].count > 0 {
		keepBins[counts[0].bin] = true
		top := counts[0].count
		for i := 1; i < len(counts) && i < 3; i++ {
			if float64(counts[i].count) >= 0.1*float64(top) {
				keepBins[counts[i].bin] = true
			}
		}
	}

	keep := make([]bool, len(angleDiffs))
	for b, idxs := range histo {
		if !keepBins[b] {
			continue
		}
		for _, i := range idxs {
			keep[i] = true
		}
	}
	return keep
}

// Chi-squared thresholds used throughout the matcher for reprojection-error gating.
const (
	Chi2TwoDoF = 5.991
	Chi2OneDoF = 3.84
	// CosViewingAngleMax is cos(60 degrees), the field-of-view gate for fusion.
	CosViewingAngleMax = 0.5
)
