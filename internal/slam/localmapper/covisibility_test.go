package localmapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// TestTwoKeyFramesShareCovisibilityEdge checks that two keyframes sharing
// enough map points form a covisibility edge, and that the second
// keyframe's spanning-tree parent becomes the first.
func TestTwoKeyFramesShareCovisibilityEdge(t *testing.T) {
	lm := New(Config{})

	kfA := newEmptyKeyFrame(lm, 30)
	lm.InsertKeyFrame(kfA)
	lm.Step()

	// Attach 30 fresh map points to kfA directly, simulating points already
	// triangulated and observed by kfA before kfB arrives.
	for i := 0; i < 30; i++ {
		mpID := lm.Map.NewMapPointID()
		mp := smap.NewMapPoint(mpID, geom.Vec3{X: float64(i) * 0.01, Y: 0, Z: 2}, kfA.ID, descFromByte(byte(i)))
		mp.AddObservation(kfA.ID, i)
		lm.Map.AddMapPoint(mp)
		kfA.AddMapPointMatch(i, mpID)
	}

	kfB := newEmptyKeyFrame(lm, 30)
	for i := 0; i < 30; i++ {
		mpID := kfA.GetMapPoint(i)
		kfB.AddMapPointMatch(i, mpID)
	}
	lm.InsertKeyFrame(kfB)
	lm.Step()

	weight, ok := kfA.GetConnectedWeight(kfB.ID)
	require.True(t, ok)
	assert.Equal(t, 30, weight)

	parent, hasParent := kfB.Parent()
	require.True(t, hasParent)
	assert.Equal(t, kfA.ID, parent)
}
