// Package smap implements the map graph: keyframes, map points and the Map
// that owns them under a soft-delete discipline. Cross-keyframe structure
// (covisibility, spanning tree) lives in sibling packages that operate on
// the fields exposed here, so KeyFrame itself owns only three locks: pose,
// connections, and the feature-to-map-point table.
package smap

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
)

// Keypoint is an undistorted feature location plus scale/orientation metadata.
type Keypoint struct {
	X, Y   float64
	Octave int
	Angle  float64 // degrees, in [0,360)
	RightX float64 // stereo right-image x coordinate; -1 if unavailable
	Depth  float64 // -1 if unavailable
}

// HasDepth reports whether this feature carries stereo/RGB-D depth.
func (k Keypoint) HasDepth() bool { return k.Depth > 0 }

// BowVector maps a visual word id to its weight in a keyframe or frame.
type BowVector map[ids.WordID]float64

// FeatureVector maps a visual word id to the feature indices assigned to it.
type FeatureVector map[ids.WordID][]int

// Vocabulary is the external word-index service that turns a descriptor set
// into a BoW representation. The vocabulary/database itself is a non-goal
// collaborator; this is the seam it plugs into.
type Vocabulary interface {
	Transform(descriptors []geom.Descriptor) (BowVector, FeatureVector)
}

// ImageBounds is the undistorted image extent used for frustum and grid checks.
type ImageBounds struct {
	MinX, MaxX, MinY, MaxY float64
}

// Contains reports whether (x,y) lies within the image bounds.
func (b ImageBounds) Contains(x, y float64) bool {
	return x >= b.MinX && x < b.MaxX && y >= b.MinY && y < b.MaxY
}

// ScalePyramid holds the precomputed per-octave scale factors and variances
// produced by the (non-goal) ORB extractor's image pyramid.
type ScalePyramid struct {
	ScaleFactor    []float64 // scaleFactor[octave]
	LevelSigma2    []float64 // sigma^2[octave] = scaleFactor[octave]^2
	LogScaleFactor float64
}

// Levels returns the number of pyramid octaves.
func (p ScalePyramid) Levels() int { return len(p.ScaleFactor) }

// Sigma2 returns sigma^2 for octave, clamping to the nearest valid octave
// rather than silently skipping.
func (p ScalePyramid) Sigma2(octave int) float64 {
	if len(p.LevelSigma2) == 0 {
		return 1
	}
	if octave < 0 {
		octave = 0
	}
	if octave >= len(p.LevelSigma2) {
		octave = len(p.LevelSigma2) - 1
	}
	return p.LevelSigma2[octave]
}

// ScaleAt returns the scale factor for octave, clamped to valid range.
func (p ScalePyramid) ScaleAt(octave int) float64 {
	if len(p.ScaleFactor) == 0 {
		return 1
	}
	if octave < 0 {
		octave = 0
	}
	if octave >= len(p.ScaleFactor) {
		octave = len(p.ScaleFactor) - 1
	}
	return p.ScaleFactor[octave]
}

// KeyFrame is a snapshot taken at a tracked frame, promoted into the map graph.
type KeyFrame struct {
	ID            ids.KeyFrameID
	SourceFrameID int64
	K             geom.Intrinsics
	Bounds        ImageBounds
	Pyramid       ScalePyramid

	Keypoints   []Keypoint
	Descriptors []geom.Descriptor

	poseMu sync.RWMutex
	pose   geom.Pose

	featuresMu sync.RWMutex
	mapPoints  []ids.MapPointID // feature index -> observed map point id, or ids.NoMapPoint

	Bow  BowVector
	Feat FeatureVector

	connMu      sync.RWMutex
	covisWeight map[ids.KeyFrameID]int
	orderedConn []ids.KeyFrameID // sorted by descending weight, ties ascending id
	parent      ids.KeyFrameID
	hasParent   bool
	children    map[ids.KeyFrameID]struct{}
	loopEdges   map[ids.KeyFrameID]struct{}

	bad atomic.Bool
}

// NewKeyFrame constructs a KeyFrame with N features, all initially unmatched to any map point.
func NewKeyFrame(id ids.KeyFrameID, sourceFrameID int64, k geom.Intrinsics, bounds ImageBounds, pyr ScalePyramid, kps []Keypoint, descs []geom.Descriptor) *KeyFrame {
	mp := make([]ids.MapPointID, len(kps))
	return &KeyFrame{
		ID:            id,
		SourceFrameID: sourceFrameID,
		K:             k,
		Bounds:        bounds,
		Pyramid:       pyr,
		Keypoints:     kps,
		Descriptors:   descs,
		pose:          geom.IdentityPose(),
		mapPoints:     mp,
		covisWeight:   make(map[ids.KeyFrameID]int),
		children:      make(map[ids.KeyFrameID]struct{}),
		loopEdges:     make(map[ids.KeyFrameID]struct{}),
	}
}

// NumFeatures returns N, the number of features extracted for this keyframe.
func (kf *KeyFrame) NumFeatures() int { return len(kf.Keypoints) }

// IsBad reports whether this keyframe has been culled.
func (kf *KeyFrame) IsBad() bool { return kf.bad.Load() }

// SetBad marks this keyframe bad. It does not unlink cross-keyframe
// structure (covisibility edges, spanning tree, database entries, Map
// membership); callers orchestrate that teardown across packages.
func (kf *KeyFrame) SetBad() { kf.bad.Store(true) }

// GetPose returns the current world-to-camera pose under a shared lock.
func (kf *KeyFrame) GetPose() geom.Pose {
	kf.poseMu.RLock()
	defer kf.poseMu.RUnlock()
	return kf.pose
}

// SetPose installs a new world-to-camera pose under an exclusive lock.
func (kf *KeyFrame) SetPose(p geom.Pose) {
	kf.poseMu.Lock()
	defer kf.poseMu.Unlock()
	kf.pose = p
}

// ComputeBoW populates the keyframe's BoW vector and feature vector from its descriptors.
func (kf *KeyFrame) ComputeBoW(vocab Vocabulary) {
	if kf.Bow != nil {
		return
	}
	kf.Bow, kf.Feat = vocab.Transform(kf.Descriptors)
}

// GetMapPoint returns the map point id observed at feature index i, or ids.NoMapPoint.
func (kf *KeyFrame) GetMapPoint(i int) ids.MapPointID {
	kf.featuresMu.RLock()
	defer kf.featuresMu.RUnlock()
	if i < 0 || i >= len(kf.mapPoints) {
		return ids.NoMapPoint
	}
	return kf.mapPoints[i]
}

// AddMapPointMatch records that feature i observes map point mpID.
func (kf *KeyFrame) AddMapPointMatch(i int, mpID ids.MapPointID) {
	kf.featuresMu.Lock()
	defer kf.featuresMu.Unlock()
	if i < 0 || i >= len(kf.mapPoints) {
		return
	}
	kf.mapPoints[i] = mpID
}

// EraseMapPointMatch clears the observation at feature index i.
func (kf *KeyFrame) EraseMapPointMatch(i int) {
	kf.featuresMu.Lock()
	defer kf.featuresMu.Unlock()
	if i < 0 || i >= len(kf.mapPoints) {
		return
	}
	kf.mapPoints[i] = ids.NoMapPoint
}

// EraseMapPointMatchByID clears every feature slot currently bound to mpID.
func (kf *KeyFrame) EraseMapPointMatchByID(mpID ids.MapPointID) {
	kf.featuresMu.Lock()
	defer kf.featuresMu.Unlock()
	for i, id := range kf.mapPoints {
		if id == mpID {
			kf.mapPoints[i] = ids.NoMapPoint
		}
	}
}

// MapPointMatches returns a copy of the full feature->map point table.
func (kf *KeyFrame) MapPointMatches() []ids.MapPointID {
	kf.featuresMu.RLock()
	defer kf.featuresMu.RUnlock()
	out := make([]ids.MapPointID, len(kf.mapPoints))
	copy(out, kf.mapPoints)
	return out
}

// MapPointIDs returns the distinct, non-null map point ids this keyframe observes.
func (kf *KeyFrame) MapPointIDs() []ids.MapPointID {
	kf.featuresMu.RLock()
	defer kf.featuresMu.RUnlock()
	seen := make(map[ids.MapPointID]struct{}, len(kf.mapPoints))
	out := make([]ids.MapPointID, 0, len(kf.mapPoints))
	for _, id := range kf.mapPoints {
		if id == ids.NoMapPoint {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NumTrackedMapPoints counts non-null observations with at least minObs observers,
// as reported by numObservations.
func (kf *KeyFrame) NumTrackedMapPoints(minObs int, numObservations func(ids.MapPointID) int) int {
	kf.featuresMu.RLock()
	ptIDs := make([]ids.MapPointID, 0, len(kf.mapPoints))
	for _, id := range kf.mapPoints {
		if id != ids.NoMapPoint {
			ptIDs = append(ptIDs, id)
		}
	}
	kf.featuresMu.RUnlock()

	count := 0
	for _, id := range ptIDs {
		if numObservations(id) >= minObs {
			count++
		}
	}
	return count
}

// SetConnection installs or updates the covisibility weight to other.
func (kf *KeyFrame) SetConnection(other ids.KeyFrameID, weight int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.covisWeight[other] = weight
}

// EraseConnection removes the covisibility edge to other, if any.
func (kf *KeyFrame) EraseConnection(other ids.KeyFrameID) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	delete(kf.covisWeight, other)
	for i, id := range kf.orderedConn {
		if id == other {
			kf.orderedConn = append(kf.orderedConn[:i], kf.orderedConn[i+1:]...)
			break
		}
	}
}

// GetConnectedWeight returns the covisibility weight to other, if an edge exists.
func (kf *KeyFrame) GetConnectedWeight(other ids.KeyFrameID) (int, bool) {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	w, ok := kf.covisWeight[other]
	return w, ok
}

// RecomputeOrder resorts the cached neighbor order by descending weight,
// ties broken by ascending keyframe id.
func (kf *KeyFrame) RecomputeOrder() {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	order := make([]ids.KeyFrameID, 0, len(kf.covisWeight))
	for id := range kf.covisWeight {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		wi, wj := kf.covisWeight[order[i]], kf.covisWeight[order[j]]
		if wi != wj {
			return wi > wj
		}
		return order[i] < order[j]
	})
	kf.orderedConn = order
}

// OrderedConnected returns a copy of the cached neighbor order.
func (kf *KeyFrame) OrderedConnected() []ids.KeyFrameID {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make([]ids.KeyFrameID, len(kf.orderedConn))
	copy(out, kf.orderedConn)
	return out
}

// BestCovisibilities returns up to n neighbors from the cached order.
func (kf *KeyFrame) BestCovisibilities(n int) []ids.KeyFrameID {
	order := kf.OrderedConnected()
	if n >= 0 && n < len(order) {
		order = order[:n]
	}
	return order
}

// CovisiblesByWeight returns neighbors whose weight is at least w, in cached order.
func (kf *KeyFrame) CovisiblesByWeight(w int) []ids.KeyFrameID {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make([]ids.KeyFrameID, 0, len(kf.orderedConn))
	for _, id := range kf.orderedConn {
		if kf.covisWeight[id] >= w {
			out = append(out, id)
		}
	}
	return out
}

// SetParent installs the spanning-tree parent. Does not reciprocally touch the parent's children set.
func (kf *KeyFrame) SetParent(p ids.KeyFrameID) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.parent = p
	kf.hasParent = true
}

// ClearParent removes the spanning-tree parent link.
func (kf *KeyFrame) ClearParent() {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.hasParent = false
	kf.parent = ids.NoKeyFrame
}

// Parent returns the spanning-tree parent, if set.
func (kf *KeyFrame) Parent() (ids.KeyFrameID, bool) {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	return kf.parent, kf.hasParent
}

// AddChild registers c as a spanning-tree child.
func (kf *KeyFrame) AddChild(c ids.KeyFrameID) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.children[c] = struct{}{}
}

// EraseChild removes c from the spanning-tree children set.
func (kf *KeyFrame) EraseChild(c ids.KeyFrameID) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	delete(kf.children, c)
}

// Children returns a copy of the spanning-tree children set.
func (kf *KeyFrame) Children() []ids.KeyFrameID {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make([]ids.KeyFrameID, 0, len(kf.children))
	for c := range kf.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddLoopEdge records a loop-closure edge to other. Loop edges are preserved
// across spanning-tree reparenting but never used to choose a parent.
func (kf *KeyFrame) AddLoopEdge(other ids.KeyFrameID) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.loopEdges[other] = struct{}{}
}

// LoopEdges returns a copy of the loop-edge set.
func (kf *KeyFrame) LoopEdges() []ids.KeyFrameID {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make([]ids.KeyFrameID, 0, len(kf.loopEdges))
	for c := range kf.loopEdges {
		out = append(out, c)
	}
	return out
}
