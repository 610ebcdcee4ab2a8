package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

func TestSearchBySim3FindsSymmetricMatch(t *testing.T) {
	m := New(tuning.DefaultMapperTuning(), 0.9, false)

	k := testIntrinsics()
	bounds := testBounds()
	pyr := testPyramid()

	mp := smap.NewMapPoint(1, geom.Vec3{X: 0, Y: 0, Z: 2}, 1, descFromByte(0x00))
	resolve := func(id ids.MapPointID) (*smap.MapPoint, bool) {
		if id == 1 {
			return mp, true
		}
		return nil, false
	}

	kf1 := smap.NewKeyFrame(1, 1, k, bounds, pyr, []smap.Keypoint{{X: 320, Y: 240, Octave: 0}}, []geom.Descriptor{descFromByte(0x00)})
	kf1.AddMapPointMatch(0, 1)

	kf2 := smap.NewKeyFrame(2, 2, k, bounds, pyr, []smap.Keypoint{{X: 320, Y: 240, Octave: 0}}, []geom.Descriptor{descFromByte(0x00)})
	kf2.AddMapPointMatch(0, 1)

	matches := m.SearchBySim3(resolve, kf1, kf2, nil, geom.Identity3(), geom.Vec3{}, 15)
	require.Len(t, matches, 1)
	assert.Equal(t, Match{Idx1: 0, Idx2: 0}, matches[0])
}

func TestSearchBySim3ExcludesAlreadyMatchedFeatures(t *testing.T) {
	m := New(tuning.DefaultMapperTuning(), 0.9, false)

	k := testIntrinsics()
	bounds := testBounds()
	pyr := testPyramid()

	mp := smap.NewMapPoint(1, geom.Vec3{X: 0, Y: 0, Z: 2}, 1, descFromByte(0x00))
	resolve := func(id ids.MapPointID) (*smap.MapPoint, bool) { return mp, true }

	kf1 := smap.NewKeyFrame(1, 1, k, bounds, pyr, []smap.Keypoint{{X: 320, Y: 240, Octave: 0}}, []geom.Descriptor{descFromByte(0x00)})
	kf1.AddMapPointMatch(0, 1)

	kf2 := smap.NewKeyFrame(2, 2, k, bounds, pyr, []smap.Keypoint{{X: 320, Y: 240, Octave: 0}}, []geom.Descriptor{descFromByte(0x00)})
	kf2.AddMapPointMatch(0, 1)

	seed := []Match{{Idx1: 0, Idx2: 0}}
	matches := m.SearchBySim3(resolve, kf1, kf2, seed, geom.Identity3(), geom.Vec3{}, 15)
	assert.Len(t, matches, 1)
}
