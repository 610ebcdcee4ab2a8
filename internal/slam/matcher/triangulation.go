package matcher

import (
	"gonum.org/v1/gonum/mat"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Mat3x3 is a plain 3x3 matrix, used here for the fundamental matrix F12.
type Mat3x3 [3][3]float64

// FundamentalMatrix computes F12 = K1^-T * [t12]x * R12 * K2^-1 from kf1 to
// kf2's relative pose, the epipolar geometry SearchForTriangulation gates on.
func FundamentalMatrix(kf1, kf2 *smap.KeyFrame) Mat3x3 {
	p1 := kf1.GetPose()
	p2 := kf2.GetPose()
	rel := geom.Pose{
		R: p2.R.Mul(p1.R.Transpose()),
		T: p2.T.Sub(p2.R.Mul(p1.R.Transpose()).MulVec(p1.T)),
	}
	tx := skew(rel.T)
	e := tx.mul(rel.R)

	kInv1 := invIntrinsics(kf1.K)
	kInv2 := invIntrinsics(kf2.K)
	f := kInv1.transpose().mul(e).mul(kInv2)
	return Mat3x3(f)
}

type mat3 [3][3]float64

func skew(v geom.Vec3) mat3 {
	return mat3{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

func (a mat3) mul(b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := 0.0
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

func (a mat3) transpose() mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func invIntrinsics(k geom.Intrinsics) mat3 {
	return mat3{
		{1 / k.FX, 0, -k.CX / k.FX},
		{0, 1 / k.FY, -k.CY / k.FY},
		{0, 0, 1},
	}
}

// epipolarDistanceSquared returns the squared perpendicular distance of
// (x2,y2) from the epipolar line l = F12*(x1,y1,1)^T, as numerator^2/denominator.
func epipolarDistanceSquared(f Mat3x3, x1, y1, x2, y2 float64) float64 {
	a := f[0][0]*x1 + f[0][1]*y1 + f[0][2]
	b := f[1][0]*x1 + f[1][1]*y1 + f[1][2]
	c := f[2][0]*x1 + f[2][1]*y1 + f[2][2]
	num := a*x2 + b*y2 + c
	den := a*a + b*b
	if den == 0 {
		return 1e18
	}
	return (num * num) / den
}

// TriangulationCandidate is a word-joined, unmatched pair of features
// proposed for triangulation by SearchForTriangulation.
type TriangulationCandidate struct {
	Idx1, Idx2 int
}

// SearchForTriangulation joins kf1 and kf2's feature vectors by shared word;
// for each kf1 feature with no existing map point, it finds the best kf2
// feature whose epipolar-line distance is below 3.84*sigma^2 at kf2's
// octave, and which is not too close to the epipole
// ((dx^2+dy^2) >= 100*scaleFactor[octave]). Orientation filtering applies.
// stereoOnly restricts candidates to features carrying stereo/RGB-D depth.
func (m *Matcher) SearchForTriangulation(kf1, kf2 *smap.KeyFrame, f12 Mat3x3, stereoOnly bool) []TriangulationCandidate {
	ex, ey := epipoleOf(kf1, kf2)

	var out []TriangulationCandidate
	var angleDiffs []float64

	for word, idxs1 := range kf1.Feat {
		idxs2, ok := kf2.Feat[word]
		if !ok {
			continue
		}
		for _, i1 := range idxs1 {
			if kf1.GetMapPoint(i1) != ids.NoMapPoint {
				continue
			}
			kp1 := kf1.Keypoints[i1]
			if stereoOnly && !kp1.HasDepth() {
				continue
			}
			bestIdx := -1
			bestDist := 1 << 30
			for _, i2 := range idxs2 {
				if kf2.GetMapPoint(i2) != ids.NoMapPoint {
					continue
				}
				kp2 := kf2.Keypoints[i2]
				if stereoOnly && !kp2.HasDepth() {
					continue
				}
				dx, dy := kp2.X-ex, kp2.Y-ey
				minEpipoleDist := 100 * kf2.Pyramid.ScaleAt(kp2.Octave)
				if dx*dx+dy*dy < minEpipoleDist {
					continue
				}
				distSq := epipolarDistanceSquared(f12, kp1.X, kp1.Y, kp2.X, kp2.Y)
				if distSq > m.tuning.GetEpipolarPixelTolerance()*kf2.Pyramid.Sigma2(kp2.Octave) {
					continue
				}
				d := geom.HammingDistance(kf1.Descriptors[i1], kf2.Descriptors[i2])
				if d < bestDist {
					bestDist = d
					bestIdx = i2
				}
			}
			_, high := m.thresholds()
			if bestIdx < 0 || bestDist > high {
				continue
			}
			out = append(out, TriangulationCandidate{Idx1: i1, Idx2: bestIdx})
			if m.checkOrientation {
				angleDiffs = append(angleDiffs, kp1.Angle-kf2.Keypoints[bestIdx].Angle)
			}
		}
	}

	if m.checkOrientation && len(angleDiffs) > 0 {
		keep := m.orientationHistogram(angleDiffs)
		filtered := make([]TriangulationCandidate, 0, len(out))
		for i, k := range keep {
			if k {
				filtered = append(filtered, out[i])
			}
		}
		return filtered
	}
	return out
}

func epipoleOf(kf1, kf2 *smap.KeyFrame) (float64, float64) {
	p1 := kf1.GetPose()
	p2 := kf2.GetPose()
	center1 := p1.CameraCenter()
	camInKF2 := p2.Transform(center1)
	if camInKF2.Z <= 0 {
		return -1e9, -1e9
	}
	return kf2.K.Project(camInKF2)
}

// Triangulate solves the 4x4 direct linear transform via SVD, returning the
// homogeneous-normalized 3D point seen by kf1 at kp1 and kf2 at kp2.
func Triangulate(kf1, kf2 *smap.KeyFrame, kp1, kp2 smap.Keypoint) (geom.Vec3, bool) {
	p1 := kf1.GetPose()
	p2 := kf2.GetPose()

	row := func(p geom.Pose, k geom.Intrinsics, x, y float64) (r1, r2 [4]float64) {
		// projection matrix P = K * [R | t] (assuming unit-focal homogeneous rows via fx,fy,cx,cy directly)
		p00, p01, p02, p03 := k.FX*p.R[0][0]+k.CX*p.R[2][0], k.FX*p.R[0][1]+k.CX*p.R[2][1], k.FX*p.R[0][2]+k.CX*p.R[2][2], k.FX*p.T.X+k.CX*p.T.Z
		p10, p11, p12, p13 := k.FY*p.R[1][0]+k.CY*p.R[2][0], k.FY*p.R[1][1]+k.CY*p.R[2][1], k.FY*p.R[1][2]+k.CY*p.R[2][2], k.FY*p.T.Y+k.CY*p.T.Z
		p20, p21, p22, p23 := p.R[2][0], p.R[2][1], p.R[2][2], p.T.Z
		r1 = [4]float64{x*p20 - p00, x*p21 - p01, x*p22 - p02, x*p23 - p03}
		r2 = [4]float64{y*p20 - p10, y*p21 - p11, y*p22 - p12, y*p23 - p13}
		return r1, r2
	}

	a1, a2 := row(p1, kf1.K, kp1.X, kp1.Y)
	b1, b2 := row(p2, kf2.K, kp2.X, kp2.Y)

	A := mat.NewDense(4, 4, []float64{
		a1[0], a1[1], a1[2], a1[3],
		a2[0], a2[1], a2[2], a2[3],
		b1[0], b1[1], b1[2], b1[3],
		b2[0], b2[1], b2[2], b2[3],
	})

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return geom.Vec3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	// the solution is the last column of V (smallest singular value).
	w := v.At(3, 3)
	if w == 0 {
		return geom.Vec3{}, false
	}
	return geom.Vec3{
		X: v.At(0, 3) / w,
		Y: v.At(1, 3) / w,
		Z: v.At(2, 3) / w,
	}, true
}
