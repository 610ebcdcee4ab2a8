package matcher

import (
	"math"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Frame is the minimal tracker-side frame shape the matcher needs: the
// current pose estimate, the features extracted for it, and a mutable
// feature -> map point table exactly like a keyframe's, but never inserted
// into the Map. The tracking front-end that produces these is a non-goal
// collaborator; this is only the seam SearchByProjection etc. need.
type Frame struct {
	Pose     geom.Pose
	K        geom.Intrinsics
	Bounds   smap.ImageBounds
	Pyramid  smap.ScalePyramid

	Keypoints   []smap.Keypoint
	Descriptors []geom.Descriptor

	MapPoints []ids.MapPointID // feature index -> observed map point id, or ids.NoMapPoint
	Bow       smap.BowVector
	Feat      smap.FeatureVector
}

// NewFrame allocates a Frame with an empty feature->map point table sized to len(kps).
func NewFrame(pose geom.Pose, k geom.Intrinsics, bounds smap.ImageBounds, pyr smap.ScalePyramid, kps []smap.Keypoint, descs []geom.Descriptor) *Frame {
	return &Frame{
		Pose: pose, K: k, Bounds: bounds, Pyramid: pyr,
		Keypoints: kps, Descriptors: descs,
		MapPoints: make([]ids.MapPointID, len(kps)),
	}
}

func (f *Frame) project(world geom.Vec3) (u, v, depth float64, ok bool) {
	cam := f.Pose.Transform(world)
	if cam.Z <= 0 {
		return 0, 0, 0, false
	}
	u, v = f.K.Project(cam)
	if !f.Bounds.Contains(u, v) {
		return 0, 0, 0, false
	}
	return u, v, cam.Z, true
}

// predictScale returns the pyramid octave at which a point at currentDist is
// expected to appear, given its scale-invariance bounds [minDist,maxDist]
// established at creation. Clamped to valid octave range rather than
// silently skipped (Open Question c).
func predictScale(currentDist, maxDist float64, pyr smap.ScalePyramid) int {
	if maxDist <= 0 || pyr.LogScaleFactor <= 0 {
		return 0
	}
	ratio := maxDist / currentDist
	level := 0
	if ratio > 1 && pyr.LogScaleFactor > 0 {
		level = int(math.Log(ratio) / pyr.LogScaleFactor)
	}
	if level < 0 {
		level = 0
	}
	if level >= pyr.Levels() {
		level = pyr.Levels() - 1
	}
	return level
}
