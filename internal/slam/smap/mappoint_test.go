package smap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
)

func TestMapPointObservationLifecycle(t *testing.T) {
	mp := NewMapPoint(1, geom.Vec3{X: 0, Y: 0, Z: 1}, 10, geom.Descriptor{})

	assert.True(t, mp.AddObservation(10, 3))
	assert.False(t, mp.AddObservation(10, 3), "adding the same keyframe twice should report already-observed")

	idx, ok := mp.GetObservation(10)
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	remaining := mp.EraseObservation(10)
	assert.Equal(t, 0, remaining)
	_, ok = mp.GetObservation(10)
	assert.False(t, ok)
}

func TestMapPointFoundRatio(t *testing.T) {
	mp := NewMapPoint(1, geom.Vec3{}, 10, geom.Descriptor{})
	assert.Equal(t, 1.0, mp.FoundRatio())

	mp.IncreaseVisible(3)
	mp.IncreaseFound(1)
	assert.InDelta(t, 2.0/4.0, mp.FoundRatio(), 1e-9)
}

func TestMapPointMarkBadAndClearReturnsObservations(t *testing.T) {
	mp := NewMapPoint(1, geom.Vec3{}, 10, geom.Descriptor{})
	mp.AddObservation(10, 1)
	mp.AddObservation(11, 2)

	prior := mp.MarkBadAndClear()
	assert.Equal(t, map[ids.KeyFrameID]int{10: 1, 11: 2}, prior)
	assert.True(t, mp.IsBad())
	assert.Equal(t, 0, mp.NumObservations())
}

func TestMapPointReplaceForwards(t *testing.T) {
	mp := NewMapPoint(1, geom.Vec3{}, 10, geom.Descriptor{})
	mp.Replace(99)

	target, replaced := mp.ReplacedBy()
	assert.True(t, replaced)
	assert.Equal(t, ids.MapPointID(99), target)
	assert.True(t, mp.IsBad())
}

func TestComputeDistinctiveDescriptorsPicksMedianClosest(t *testing.T) {
	kf1 := newTestKeyFrame(1, 1)
	kf2 := newTestKeyFrame(2, 1)
	kf3 := newTestKeyFrame(3, 1)
	kf4 := newTestKeyFrame(4, 1)

	kf1.Descriptors[0] = geom.Descriptor{0x00}
	kf2.Descriptors[0] = geom.Descriptor{0x01}
	kf3.Descriptors[0] = geom.Descriptor{0xFF}
	kf4.Descriptors[0] = geom.Descriptor{0x03}

	resolve := func(id ids.KeyFrameID) (*KeyFrame, bool) {
		switch id {
		case 1:
			return kf1, true
		case 2:
			return kf2, true
		case 3:
			return kf3, true
		case 4:
			return kf4, true
		}
		return nil, false
	}

	mp := NewMapPoint(1, geom.Vec3{}, 1, geom.Descriptor{})
	mp.AddObservation(1, 0)
	mp.AddObservation(2, 0)
	mp.AddObservation(3, 0)
	mp.AddObservation(4, 0)

	mp.ComputeDistinctiveDescriptors(resolve)
	assert.Equal(t, kf2.Descriptors[0], mp.Descriptor())
}

func TestUpdateNormalAndDepthUsesFirstObserverScale(t *testing.T) {
	kf := newTestKeyFrame(1, 1)
	kf.SetPose(geom.IdentityPose())

	mp := NewMapPoint(1, geom.Vec3{X: 0, Y: 0, Z: 10}, 1, geom.Descriptor{})
	mp.AddObservation(1, 0)

	resolve := func(id ids.KeyFrameID) (*KeyFrame, bool) {
		if id == 1 {
			return kf, true
		}
		return nil, false
	}
	mp.UpdateNormalAndDepth(resolve)

	normal := mp.Normal()
	assert.InDelta(t, 1.0, normal.Norm(), 1e-6)

	min, max := mp.DistanceBounds()
	assert.True(t, min > 0)
	assert.True(t, max > 0)
	assert.True(t, min <= max)
}
