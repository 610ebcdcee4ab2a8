// Package covis implements the covisibility graph: a weighted undirected
// graph over keyframes derived from shared map point observations, with
// edges stored on the KeyFrame objects themselves under their connections
// lock. This package is stateless machinery over smap.Map; it never holds
// graph state of its own, since each keyframe owns its own connections.
package covis

import (
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

// Graph recomputes and queries the covisibility edges stored on keyframes.
type Graph struct {
	tuning *tuning.MapperTuning
}

// New returns a Graph driven by t's covisibility threshold.
func New(t *tuning.MapperTuning) *Graph {
	return &Graph{tuning: t}
}

// UpdateConnections recomputes kf's neighbor weights from the current
// observation tables of every map point it sees. An edge is retained when its
// weight is at least the configured threshold; if none reach it, the single
// heaviest edge is retained instead. If kf has no spanning-tree parent yet,
// it is set to the resulting top neighbor.
func (g *Graph) UpdateConnections(m *smap.Map, kf *smap.KeyFrame) {
	counts := make(map[ids.KeyFrameID]int)
	for _, mpID := range kf.MapPointIDs() {
		mp, ok := m.GetMapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		for otherID := range mp.Observations() {
			if otherID == kf.ID {
				continue
			}
			counts[otherID]++
		}
	}

	threshold := g.tuning.GetCovisibilityMinSharedObservations()
	edges := make(map[ids.KeyFrameID]int)
	var maxOther ids.KeyFrameID
	maxWeight := -1
	for other, w := range counts {
		if w >= threshold {
			edges[other] = w
		}
		if w > maxWeight {
			maxWeight = w
			maxOther = other
		}
	}
	if len(edges) == 0 && maxWeight > 0 {
		edges[maxOther] = maxWeight
	}

	for other, w := range edges {
		otherKF, ok := m.GetKeyFrame(other)
		if !ok || otherKF.IsBad() {
			continue
		}
		kf.SetConnection(other, w)
		otherKF.SetConnection(kf.ID, w)
		otherKF.RecomputeOrder()
	}
	kf.RecomputeOrder()

	if _, hasParent := kf.Parent(); !hasParent {
		if best := kf.OrderedConnected(); len(best) > 0 {
			kf.SetParent(best[0])
			if p, ok := m.GetKeyFrame(best[0]); ok {
				p.AddChild(kf.ID)
			}
		}
	}
}

// GetBestCovisibilityKeyFrames returns up to n of kf's heaviest neighbors.
func (g *Graph) GetBestCovisibilityKeyFrames(kf *smap.KeyFrame, n int) []ids.KeyFrameID {
	return kf.BestCovisibilities(n)
}

// GetCovisiblesByWeight returns kf's neighbors whose weight is at least w.
func (g *Graph) GetCovisiblesByWeight(kf *smap.KeyFrame, w int) []ids.KeyFrameID {
	return kf.CovisiblesByWeight(w)
}

// GetVectorCovisibleKeyFrames returns every one of kf's cached neighbors.
func (g *Graph) GetVectorCovisibleKeyFrames(kf *smap.KeyFrame) []ids.KeyFrameID {
	return kf.OrderedConnected()
}

// EraseKeyFrame removes kf from every neighbor's edge set, as part of
// keyframe culling's graph teardown.
func (g *Graph) EraseKeyFrame(m *smap.Map, kf *smap.KeyFrame) {
	for _, n := range kf.OrderedConnected() {
		neighbor, ok := m.GetKeyFrame(n)
		if !ok {
			continue
		}
		neighbor.EraseConnection(kf.ID)
	}
}
