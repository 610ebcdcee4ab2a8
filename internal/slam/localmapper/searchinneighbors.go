package localmapper

import (
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// fusionRadius is the search radius (before octave scaling) SearchInNeighbors
// fuses with.
const fusionRadius = 3.0

// searchInNeighbors fuses kf's map points into its first- and second-order
// covisibility neighbors, then fuses those neighbors' points back into kf,
// deduplicating visited keyframes and candidate points with explicit visitor
// sets scoped to this call (never as scratch fields on the entities
// themselves). Afterward kf's own points have their descriptors and normals
// refreshed and its graph edges recomputed to reflect the new observations.
func (lm *Mapper) searchInNeighbors(kf *smap.KeyFrame) {
	visited := map[ids.KeyFrameID]bool{kf.ID: true}
	var targets []*smap.KeyFrame

	for _, nb := range lm.sortedCovisibilityNeighbors(kf, 10) {
		if visited[nb.ID] {
			continue
		}
		visited[nb.ID] = true
		targets = append(targets, nb)

		for _, nb2 := range lm.sortedCovisibilityNeighbors(nb, 10) {
			if visited[nb2.ID] {
				continue
			}
			visited[nb2.ID] = true
			targets = append(targets, nb2)
		}
	}

	kfPoints := nonNullMapPoints(kf)
	fused := 0
	for _, nb := range targets {
		fused += lm.matcher.Fuse(lm.resolve, nb, kfPoints, fusionRadius)
	}

	seenCandidate := map[ids.MapPointID]bool{}
	var neighborPoints []ids.MapPointID
	for _, nb := range targets {
		for _, mpID := range nb.MapPointMatches() {
			if mpID == ids.NoMapPoint || seenCandidate[mpID] {
				continue
			}
			seenCandidate[mpID] = true
			neighborPoints = append(neighborPoints, mpID)
		}
	}
	fused += lm.matcher.Fuse(lm.resolve, kf, neighborPoints, fusionRadius)

	for _, mpID := range kf.MapPointMatches() {
		if mpID == ids.NoMapPoint {
			continue
		}
		mp, ok := lm.Map.GetMapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		mp.ComputeDistinctiveDescriptors(lm.Map.GetKeyFrame)
		mp.UpdateNormalAndDepth(lm.Map.GetKeyFrame)
	}

	lm.Covis.UpdateConnections(lm.Map, kf)
	lm.Tree.UpdateConnections(lm.Covis, lm.Map, kf)

	if fused > 0 {
		lm.Stats.addPointsFused(fused)
		slamlog.Diagf("searchInNeighbors: fused %d observations around keyframe %d", fused, kf.ID)
	}
}

func nonNullMapPoints(kf *smap.KeyFrame) []ids.MapPointID {
	all := kf.MapPointMatches()
	out := make([]ids.MapPointID, 0, len(all))
	for _, id := range all {
		if id != ids.NoMapPoint {
			out = append(out, id)
		}
	}
	return out
}
