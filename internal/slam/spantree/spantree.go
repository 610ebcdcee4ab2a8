// Package spantree implements the spanning tree: an acyclic backbone over
// live keyframes used as a stable propagation path during loop closure. Like
// covis, it is stateless machinery over the parent/children fields the
// KeyFrame type already owns under its connections lock.
package spantree

import (
	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Tree recomputes and repairs spanning-tree parent/child links.
type Tree struct{}

// New returns a Tree.
func New() *Tree { return &Tree{} }

// UpdateConnections installs kf's parent the first time it is called for kf:
// the covisibility neighbor of maximum weight among already-inserted
// keyframes. It never re-parents an already-connected keyframe.
func (t *Tree) UpdateConnections(g *covis.Graph, m *smap.Map, kf *smap.KeyFrame) {
	if _, has := kf.Parent(); has {
		return
	}
	best := g.GetBestCovisibilityKeyFrames(kf, 1)
	if len(best) == 0 {
		return
	}
	kf.SetParent(best[0])
	if p, ok := m.GetKeyFrame(best[0]); ok {
		p.AddChild(kf.ID)
	}
}

// Erase reparents kf's children on removal: repeatedly picks the
// (child, candidate) pair maximizing covisibility weight where candidate is
// already reparented (or is kf's own parent), falling back to kf's parent for
// any children left over once no such pair exists. Loop edges are preserved
// but never considered for parenting.
func (t *Tree) Erase(m *smap.Map, kf *smap.KeyFrame) {
	children := kf.Children()
	parent, hasParent := kf.Parent()

	reparented := make(map[ids.KeyFrameID]struct{})
	if hasParent {
		reparented[parent] = struct{}{}
	}
	remaining := append([]ids.KeyFrameID(nil), children...)

	for len(remaining) > 0 {
		bestIdx := -1
		var bestChild, bestCandidate ids.KeyFrameID
		bestWeight := -1

		for i, c := range remaining {
			ckf, ok := m.GetKeyFrame(c)
			if !ok {
				continue
			}
			for _, n := range ckf.OrderedConnected() {
				if _, ok := reparented[n]; !ok {
					continue
				}
				w, _ := ckf.GetConnectedWeight(n)
				if w > bestWeight {
					bestWeight = w
					bestChild = c
					bestCandidate = n
					bestIdx = i
				}
			}
		}
		if bestIdx == -1 {
			break
		}
		if ckf, ok := m.GetKeyFrame(bestChild); ok {
			ckf.SetParent(bestCandidate)
		}
		if pkf, ok := m.GetKeyFrame(bestCandidate); ok {
			pkf.AddChild(bestChild)
		}
		reparented[bestChild] = struct{}{}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	// Anything left over (no covisibility path back to the tree) falls
	// back to kf's own parent.
	if hasParent {
		for _, c := range remaining {
			if ckf, ok := m.GetKeyFrame(c); ok {
				ckf.SetParent(parent)
			}
			if pkf, ok := m.GetKeyFrame(parent); ok {
				pkf.AddChild(c)
			}
		}
		if pkf, ok := m.GetKeyFrame(parent); ok {
			pkf.EraseChild(kf.ID)
		}
	}
	kf.ClearParent()
}
