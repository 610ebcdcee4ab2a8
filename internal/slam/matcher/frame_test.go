package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

func testIntrinsics() geom.Intrinsics {
	return geom.Intrinsics{FX: 500, FY: 500, CX: 320, CY: 240}
}

func testBounds() smap.ImageBounds {
	return smap.ImageBounds{MinX: 0, MaxX: 640, MinY: 0, MaxY: 480}
}

func TestFrameProjectInFrontOfCamera(t *testing.T) {
	f := NewFrame(geom.IdentityPose(), testIntrinsics(), testBounds(), testPyramid(), nil, nil)
	u, v, depth, ok := f.project(geom.Vec3{X: 0, Y: 0, Z: 2})
	assert.True(t, ok)
	assert.InDelta(t, 320.0, u, 1e-6)
	assert.InDelta(t, 240.0, v, 1e-6)
	assert.InDelta(t, 2.0, depth, 1e-6)
}

func TestFrameProjectBehindCameraRejected(t *testing.T) {
	f := NewFrame(geom.IdentityPose(), testIntrinsics(), testBounds(), testPyramid(), nil, nil)
	_, _, _, ok := f.project(geom.Vec3{X: 0, Y: 0, Z: -1})
	assert.False(t, ok)
}

func TestFrameProjectOutsideBoundsRejected(t *testing.T) {
	f := NewFrame(geom.IdentityPose(), testIntrinsics(), testBounds(), testPyramid(), nil, nil)
	_, _, _, ok := f.project(geom.Vec3{X: 1000, Y: 1000, Z: 1})
	assert.False(t, ok)
}

func TestPredictScaleClampsToValidRange(t *testing.T) {
	pyr := testPyramid()
	level := predictScale(0.001, 100, pyr)
	assert.Equal(t, pyr.Levels()-1, level)

	level = predictScale(100, 1, pyr)
	assert.Equal(t, 0, level)
}
