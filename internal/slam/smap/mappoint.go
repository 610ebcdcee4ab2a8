package smap

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
)

// MapPoint is a 3-D landmark triangulated from two or more keyframes.
type MapPoint struct {
	ID            ids.MapPointID
	FirstKeyFrame ids.KeyFrameID

	posMu sync.RWMutex
	pos   geom.Vec3

	obsMu        sync.RWMutex
	observations map[ids.KeyFrameID]int // keyframe id -> feature index

	descMu      sync.RWMutex
	descriptor  geom.Descriptor
	normal      geom.Vec3
	minDistance float64
	maxDistance float64

	visible atomic.Int64
	found   atomic.Int64

	bad        atomic.Bool
	replacedMu sync.RWMutex
	replacedBy ids.MapPointID
}

// NewMapPoint constructs a MapPoint at pos, first observed by firstKF, with
// nVisible and nFound both seeded to 1 as the tracker/mapper does at creation.
func NewMapPoint(id ids.MapPointID, pos geom.Vec3, firstKF ids.KeyFrameID, descriptor geom.Descriptor) *MapPoint {
	mp := &MapPoint{
		ID:            id,
		FirstKeyFrame: firstKF,
		pos:           pos,
		observations:  make(map[ids.KeyFrameID]int),
		descriptor:    descriptor,
	}
	mp.visible.Store(1)
	mp.found.Store(1)
	return mp
}

// IsBad reports whether this map point has been culled.
func (mp *MapPoint) IsBad() bool { return mp.bad.Load() }

// Position returns the current world position under a shared lock.
func (mp *MapPoint) Position() geom.Vec3 {
	mp.posMu.RLock()
	defer mp.posMu.RUnlock()
	return mp.pos
}

// SetPosition installs a new world position under an exclusive lock.
func (mp *MapPoint) SetPosition(p geom.Vec3) {
	mp.posMu.Lock()
	defer mp.posMu.Unlock()
	mp.pos = p
}

// Descriptor returns the representative descriptor (median by Hamming distance).
func (mp *MapPoint) Descriptor() geom.Descriptor {
	mp.descMu.RLock()
	defer mp.descMu.RUnlock()
	return mp.descriptor
}

// Normal returns the mean viewing-direction unit vector.
func (mp *MapPoint) Normal() geom.Vec3 {
	mp.descMu.RLock()
	defer mp.descMu.RUnlock()
	return mp.normal
}

// DistanceBounds returns the per-octave scale-invariance distance bounds.
func (mp *MapPoint) DistanceBounds() (min, max float64) {
	mp.descMu.RLock()
	defer mp.descMu.RUnlock()
	return mp.minDistance, mp.maxDistance
}

// AddObservation records that keyframe kf observes this point at feature
// index i. Returns false if kf already had an observation recorded.
func (mp *MapPoint) AddObservation(kf ids.KeyFrameID, i int) bool {
	mp.obsMu.Lock()
	defer mp.obsMu.Unlock()
	if _, exists := mp.observations[kf]; exists {
		return false
	}
	mp.observations[kf] = i
	return true
}

// EraseObservation removes kf's observation and returns the remaining count.
func (mp *MapPoint) EraseObservation(kf ids.KeyFrameID) int {
	mp.obsMu.Lock()
	defer mp.obsMu.Unlock()
	delete(mp.observations, kf)
	return len(mp.observations)
}

// GetObservation returns the feature index at which kf observes this point.
func (mp *MapPoint) GetObservation(kf ids.KeyFrameID) (int, bool) {
	mp.obsMu.RLock()
	defer mp.obsMu.RUnlock()
	i, ok := mp.observations[kf]
	return i, ok
}

// Observations returns a copy of the observation table.
func (mp *MapPoint) Observations() map[ids.KeyFrameID]int {
	mp.obsMu.RLock()
	defer mp.obsMu.RUnlock()
	out := make(map[ids.KeyFrameID]int, len(mp.observations))
	for k, v := range mp.observations {
		out[k] = v
	}
	return out
}

// NumObservations returns the number of keyframes currently observing this point.
func (mp *MapPoint) NumObservations() int {
	mp.obsMu.RLock()
	defer mp.obsMu.RUnlock()
	return len(mp.observations)
}

// IncreaseVisible increments the visible counter, used for found-ratio tracking.
func (mp *MapPoint) IncreaseVisible(n int64) { mp.visible.Add(n) }

// IncreaseFound increments the found counter.
func (mp *MapPoint) IncreaseFound(n int64) { mp.found.Add(n) }

// FoundRatio returns nFound/nVisible. Returns 1 if nVisible is zero (never predicted visible).
func (mp *MapPoint) FoundRatio() float64 {
	v := mp.visible.Load()
	if v == 0 {
		return 1
	}
	return float64(mp.found.Load()) / float64(v)
}

// MarkBadAndClear marks this point bad, returning the observation table that
// existed immediately prior so the caller can erase the reciprocal
// feature->mapPoint link on every observing keyframe.
func (mp *MapPoint) MarkBadAndClear() map[ids.KeyFrameID]int {
	mp.obsMu.Lock()
	defer mp.obsMu.Unlock()
	prior := mp.observations
	mp.observations = make(map[ids.KeyFrameID]int)
	mp.bad.Store(true)
	return prior
}

// Replace turns this point into a forwarding tombstone pointing at target.
// The caller (Fuse) is responsible for migrating observations to target
// before or after calling Replace; Replace itself only records the forward
// and marks this point bad so future resolution steps stop here.
func (mp *MapPoint) Replace(target ids.MapPointID) {
	mp.replacedMu.Lock()
	mp.replacedBy = target
	mp.replacedMu.Unlock()
	mp.bad.Store(true)
}

// ReplacedBy returns the forwarding target, if this point has been replaced.
func (mp *MapPoint) ReplacedBy() (ids.MapPointID, bool) {
	mp.replacedMu.RLock()
	defer mp.replacedMu.RUnlock()
	if mp.replacedBy == ids.NoMapPoint {
		return ids.NoMapPoint, false
	}
	return mp.replacedBy, true
}

// UpdateNormalAndDepth recomputes the mean viewing direction and the
// per-octave distance bounds from the current observation set, following the
// ORB-SLAM convention: normal is the mean of per-observation unit viewing
// rays, and the distance bounds are derived from the first observer's
// distance and octave scale factor.
func (mp *MapPoint) UpdateNormalAndDepth(resolve func(ids.KeyFrameID) (*KeyFrame, bool)) {
	obs := mp.Observations()
	if len(obs) == 0 {
		return
	}
	pos := mp.Position()

	var normalSum geom.Vec3
	var refKF *KeyFrame
	var refDist float64
	var refOctave int
	for kfID, idx := range obs {
		kf, ok := resolve(kfID)
		if !ok || kf.IsBad() {
			continue
		}
		center := kf.GetPose().CameraCenter()
		ray := pos.Sub(center)
		normalSum = normalSum.Add(ray.Normalized())
		if refKF == nil || kfID == mp.FirstKeyFrame {
			refKF = kf
			refDist = ray.Norm()
			refOctave = 0
			if idx >= 0 && idx < len(kf.Keypoints) {
				refOctave = kf.Keypoints[idx].Octave
			}
		}
	}
	if refKF == nil {
		return
	}
	scale := refKF.Pyramid.ScaleAt(refOctave)
	levels := refKF.Pyramid.Levels()
	maxScale := refKF.Pyramid.ScaleAt(levels - 1)

	mp.descMu.Lock()
	defer mp.descMu.Unlock()
	mp.normal = normalSum.Normalized()
	mp.maxDistance = refDist * scale
	if scale > 0 {
		mp.minDistance = mp.maxDistance / maxScale
	}
}

// ComputeDistinctiveDescriptors recomputes the representative descriptor as
// the one with the smallest median Hamming distance to every other observing
// descriptor.
func (mp *MapPoint) ComputeDistinctiveDescriptors(resolve func(ids.KeyFrameID) (*KeyFrame, bool)) {
	obs := mp.Observations()
	if len(obs) == 0 {
		return
	}
	descs := make([]geom.Descriptor, 0, len(obs))
	for kfID, idx := range obs {
		kf, ok := resolve(kfID)
		if !ok || kf.IsBad() {
			continue
		}
		if idx < 0 || idx >= len(kf.Descriptors) {
			continue
		}
		descs = append(descs, kf.Descriptors[idx])
	}
	if len(descs) == 0 {
		return
	}
	if len(descs) <= 2 {
		mp.descMu.Lock()
		mp.descriptor = descs[0]
		mp.descMu.Unlock()
		return
	}

	n := len(descs)
	distances := make([][]int, n)
	for i := range distances {
		distances[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := hammingDistance(descs[i], descs[j])
			distances[i][j] = d
			distances[j][i] = d
		}
	}

	bestIdx := 0
	bestMedian := -1
	for i := 0; i < n; i++ {
		row := append([]int(nil), distances[i]...)
		sortInts(row)
		median := row[n/2]
		if bestMedian == -1 || median < bestMedian {
			bestMedian = median
			bestIdx = i
		}
	}

	mp.descMu.Lock()
	mp.descriptor = descs[bestIdx]
	mp.descMu.Unlock()
}

func hammingDistance(a, b geom.Descriptor) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
