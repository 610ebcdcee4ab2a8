package localmapper

import (
	"github.com/sg47/SLAMRecon/internal/slam/matcher"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// minBaselineEpsilon guards against triangulating from two keyframes whose
// camera centers coincide (or nearly so): the fundamental matrix and DLT
// solve both degenerate as the baseline goes to zero. The monocular
// Intrinsics model here carries no stereo baseline-times-focal-length
// ("bf") product to compare against, so camera-center separation stands in
// for the source's minimum-baseline gate.
const minBaselineEpsilon = 1e-6

// createNewMapPoints triangulates new landmarks between kf and each of its
// top ten covisibility neighbors: for each epipolar-matched, currently
// unobserved feature pair, it triangulates by SVD, then gates the result on
// positive depth in both cameras, parallax, reprojection error and
// octave/scale consistency before committing a new MapPoint. The sweep
// aborts early, after completing at least one neighbor, if a new keyframe
// has arrived in the meantime.
func (lm *Mapper) createNewMapPoints(kf *smap.KeyFrame) {
	neighbors := lm.sortedCovisibilityNeighbors(kf, 10)
	ratioFactor := 1.5 * kf.Pyramid.ScaleAt(1)

	created := 0
	for i, nb := range neighbors {
		if i > 0 && lm.QueueLen() > 0 {
			break
		}

		baseline := kf.GetPose().CameraCenter().Sub(nb.GetPose().CameraCenter()).Norm()
		if baseline < minBaselineEpsilon {
			continue
		}

		f12 := matcher.FundamentalMatrix(kf, nb)
		candidates := lm.matcher.SearchForTriangulation(kf, nb, f12, false)

		for _, c := range candidates {
			kp1 := kf.Keypoints[c.Idx1]
			kp2 := nb.Keypoints[c.Idx2]

			world, ok := matcher.Triangulate(kf, nb, kp1, kp2)
			if !ok {
				continue
			}

			cam1 := kf.GetPose().Transform(world)
			cam2 := nb.GetPose().Transform(world)
			if cam1.Z <= 0 || cam2.Z <= 0 {
				continue
			}

			center1 := kf.GetPose().CameraCenter()
			center2 := nb.GetPose().CameraCenter()
			ray1 := world.Sub(center1).Normalized()
			ray2 := world.Sub(center2).Normalized()
			cosParallax := ray1.Dot(ray2)
			if !(cosParallax > 0 && cosParallax < 0.9998) {
				continue
			}

			u1, v1 := kf.K.Project(cam1)
			dx1, dy1 := u1-kp1.X, v1-kp1.Y
			if dx1*dx1+dy1*dy1 > matcher.Chi2TwoDoF*kf.Pyramid.Sigma2(kp1.Octave) {
				continue
			}
			u2, v2 := nb.K.Project(cam2)
			dx2, dy2 := u2-kp2.X, v2-kp2.Y
			if dx2*dx2+dy2*dy2 > matcher.Chi2TwoDoF*nb.Pyramid.Sigma2(kp2.Octave) {
				continue
			}

			dist1 := world.Sub(center1).Norm()
			dist2 := world.Sub(center2).Norm()
			if dist1 <= 0 || dist2 <= 0 {
				continue
			}
			ratioDist := dist2 / dist1
			ratioOctave := kf.Pyramid.ScaleAt(kp1.Octave) / nb.Pyramid.ScaleAt(kp2.Octave)
			if ratioDist*ratioFactor < ratioOctave || ratioOctave < ratioDist/ratioFactor {
				continue
			}

			mpID := lm.Map.NewMapPointID()
			mp := smap.NewMapPoint(mpID, world, kf.ID, kf.Descriptors[c.Idx1])
			mp.AddObservation(kf.ID, c.Idx1)
			mp.AddObservation(nb.ID, c.Idx2)
			kf.AddMapPointMatch(c.Idx1, mpID)
			nb.AddMapPointMatch(c.Idx2, mpID)
			mp.ComputeDistinctiveDescriptors(lm.Map.GetKeyFrame)
			mp.UpdateNormalAndDepth(lm.Map.GetKeyFrame)
			lm.Map.AddMapPoint(mp)
			lm.watchRecent(mpID, kf.ID)
			created++
		}
	}

	if created > 0 {
		lm.Stats.addPointsCreated(created)
		slamlog.Diagf("createNewMapPoints: triangulated %d new points around keyframe %d", created, kf.ID)
	}
}
