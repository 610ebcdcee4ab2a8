package smap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
)

func TestMapAddAndGetKeyFrame(t *testing.T) {
	m := NewMap()
	kf := newTestKeyFrame(m.NewKeyFrameID(), 3)
	m.AddKeyFrame(kf)

	got, ok := m.GetKeyFrame(kf.ID)
	require.True(t, ok)
	assert.Same(t, kf, got)
	assert.Equal(t, 1, m.KeyFramesInMap())
}

func TestMapEraseKeyFrameIsSoft(t *testing.T) {
	m := NewMap()
	kf := newTestKeyFrame(m.NewKeyFrameID(), 1)
	m.AddKeyFrame(kf)

	m.EraseKeyFrame(kf.ID)
	_, ok := m.GetKeyFrame(kf.ID)
	assert.False(t, ok, "erased keyframe should no longer be a map member")
	assert.False(t, kf.IsBad(), "erasure from the map must not itself flip bad; that's a separate concern")
}

func TestMapGetMapPointResolvesReplaceForwarding(t *testing.T) {
	m := NewMap()
	target := NewMapPoint(m.NewMapPointID(), geom.Vec3{X: 1}, 1, geom.Descriptor{})
	stale := NewMapPoint(m.NewMapPointID(), geom.Vec3{}, 1, geom.Descriptor{})
	m.AddMapPoint(target)
	m.AddMapPoint(stale)

	stale.Replace(target.ID)

	got, ok := m.GetMapPoint(stale.ID)
	require.True(t, ok)
	assert.Same(t, target, got)
}

func TestMapSnapshotsAreSortedAndIsolated(t *testing.T) {
	m := NewMap()
	idA := m.NewKeyFrameID()
	idB := m.NewKeyFrameID()
	m.AddKeyFrame(newTestKeyFrame(idB, 1))
	m.AddKeyFrame(newTestKeyFrame(idA, 1))

	all := m.GetAllKeyFrames()
	require.Len(t, all, 2)
	assert.Equal(t, idA, all[0].ID)
	assert.Equal(t, idB, all[1].ID)
}

func TestMapReferencePoints(t *testing.T) {
	m := NewMap()
	pts := []ids.MapPointID{1, 2, 3}
	m.SetReferenceMapPoints(pts)

	got := m.GetReferenceMapPoints()
	assert.Equal(t, pts, got)

	got[0] = 99
	assert.Equal(t, ids.MapPointID(1), m.GetReferenceMapPoints()[0], "returned slice must be a copy")
}

func TestMapBigChangeCounter(t *testing.T) {
	m := NewMap()
	assert.Equal(t, int64(0), m.BigChangeIndex())
	m.IncrementBigChange()
	m.IncrementBigChange()
	assert.Equal(t, int64(2), m.BigChangeIndex())
}

func TestMapClearResetsState(t *testing.T) {
	m := NewMap()
	m.AddKeyFrame(newTestKeyFrame(m.NewKeyFrameID(), 1))
	m.AddMapPoint(NewMapPoint(m.NewMapPointID(), geom.Vec3{}, 1, geom.Descriptor{}))
	m.SetReferenceMapPoints([]ids.MapPointID{1})

	m.Clear()

	assert.Equal(t, 0, m.KeyFramesInMap())
	assert.Equal(t, 0, m.MapPointsInMap())
	assert.Empty(t, m.GetReferenceMapPoints())
}
