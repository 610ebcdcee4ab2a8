package localmapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// TestSearchInNeighborsReplacesDuplicateWithBetterObservedPoint covers the
// case where two covisible keyframes each independently triangulated a map
// point at the same physical location. Fusing kfA's points into kfB finds
// kfB's duplicate under reprojection and replaces it with kfA's point, which
// has more observations.
func TestSearchInNeighborsReplacesDuplicateWithBetterObservedPoint(t *testing.T) {
	lm := New(Config{})

	kfA := newEmptyKeyFrame(lm, 31)
	lm.InsertKeyFrame(kfA)
	lm.Step()

	for i := 0; i < 30; i++ {
		mpID := lm.Map.NewMapPointID()
		mp := smap.NewMapPoint(mpID, geom.Vec3{X: float64(i) * 0.01, Y: 0, Z: 2}, kfA.ID, descFromByte(byte(i)))
		mp.AddObservation(kfA.ID, i)
		lm.Map.AddMapPoint(mp)
		kfA.AddMapPointMatch(i, mpID)
	}

	kfB := newEmptyKeyFrame(lm, 31)
	for i := 0; i < 30; i++ {
		kfB.AddMapPointMatch(i, kfA.GetMapPoint(i))
	}
	lm.InsertKeyFrame(kfB)
	lm.Step()

	// Both keyframes sit at identity pose, so a world point at the camera's
	// optical axis (X=Y=0) reprojects to the principal point in either
	// image; place the duplicate pair's shared feature there in both frames.
	kfA.Keypoints[30] = smap.Keypoint{X: 320, Y: 240, Octave: 0}
	kfA.Descriptors[30] = descFromByte(0x11)
	kfB.Keypoints[30] = smap.Keypoint{X: 320, Y: 240, Octave: 0}
	kfB.Descriptors[30] = descFromByte(0x11)

	mpA := smap.NewMapPoint(lm.Map.NewMapPointID(), geom.Vec3{X: 0, Y: 0, Z: 2}, kfA.ID, descFromByte(0x11))
	mpA.AddObservation(kfA.ID, 30)
	mpA.AddObservation(ids.KeyFrameID(999), 0) // second observer, never resolved through Map
	lm.Map.AddMapPoint(mpA)
	kfA.AddMapPointMatch(30, mpA.ID)

	mpB := smap.NewMapPoint(lm.Map.NewMapPointID(), geom.Vec3{X: 0.02, Y: 0, Z: 2}, kfB.ID, descFromByte(0x11))
	mpB.AddObservation(kfB.ID, 30)
	lm.Map.AddMapPoint(mpB)
	kfB.AddMapPointMatch(30, mpB.ID)

	require.Equal(t, 2, mpA.NumObservations())
	require.Equal(t, 1, mpB.NumObservations())

	lm.searchInNeighbors(kfA)

	assert.True(t, mpB.IsBad())
	target, replaced := mpB.ReplacedBy()
	require.True(t, replaced)
	assert.Equal(t, mpA.ID, target)

	resolved, ok := lm.Map.GetMapPoint(mpB.ID)
	require.True(t, ok)
	assert.Equal(t, mpA.ID, resolved.ID)

	assert.EqualValues(t, 1, lm.Stats.Snapshot().PointsFused)
}
