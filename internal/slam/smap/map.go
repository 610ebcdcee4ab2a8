package smap

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sg47/SLAMRecon/internal/slam/ids"
)

// Map owns the keyframe and map-point sets. All mutating operations take an
// exclusive lock; read operations take a shared lock and return copied
// snapshots so callers can iterate without holding it. Erasure is soft: it
// removes membership but does not destroy the referenced object, since a
// background thread may still hold an id obtained from an earlier snapshot.
type Map struct {
	mu        sync.RWMutex
	keyframes map[ids.KeyFrameID]*KeyFrame
	mapPoints map[ids.MapPointID]*MapPoint

	refMu           sync.RWMutex
	referencePoints []ids.MapPointID

	bigChange atomic.Int64
	gen       *ids.Generator
}

// NewMap returns an empty Map with its own id generator.
func NewMap() *Map {
	return &Map{
		keyframes: make(map[ids.KeyFrameID]*KeyFrame),
		mapPoints: make(map[ids.MapPointID]*MapPoint),
		gen:       ids.NewGenerator(),
	}
}

// NewKeyFrameID mints the next monotonic keyframe id.
func (m *Map) NewKeyFrameID() ids.KeyFrameID { return m.gen.NextKeyFrameID() }

// NewMapPointID mints the next monotonic map point id.
func (m *Map) NewMapPointID() ids.MapPointID { return m.gen.NextMapPointID() }

// AddKeyFrame inserts kf into the map.
func (m *Map) AddKeyFrame(kf *KeyFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyframes[kf.ID] = kf
}

// AddMapPoint inserts mp into the map.
func (m *Map) AddMapPoint(mp *MapPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapPoints[mp.ID] = mp
}

// EraseKeyFrame removes kf from map membership. The KeyFrame object itself
// survives until no other component holds a reference to it.
func (m *Map) EraseKeyFrame(id ids.KeyFrameID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keyframes, id)
}

// EraseMapPoint removes mp from map membership.
func (m *Map) EraseMapPoint(id ids.MapPointID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mapPoints, id)
}

// GetKeyFrame resolves a keyframe id to its object, if still a member.
func (m *Map) GetKeyFrame(id ids.KeyFrameID) (*KeyFrame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kf, ok := m.keyframes[id]
	return kf, ok
}

// GetMapPoint resolves a map point id to its object, following Replace
// forwarding at most once so callers never chase a long tombstone chain.
func (m *Map) GetMapPoint(id ids.MapPointID) (*MapPoint, bool) {
	m.mu.RLock()
	mp, ok := m.mapPoints[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if target, replaced := mp.ReplacedBy(); replaced {
		m.mu.RLock()
		targetMP, ok := m.mapPoints[target]
		m.mu.RUnlock()
		if ok {
			return targetMP, true
		}
		return nil, false
	}
	return mp, true
}

// GetAllKeyFrames returns a snapshot of every member keyframe, sorted by id.
func (m *Map) GetAllKeyFrames() []*KeyFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*KeyFrame, 0, len(m.keyframes))
	for _, kf := range m.keyframes {
		out = append(out, kf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAllMapPoints returns a snapshot of every member map point, sorted by id.
func (m *Map) GetAllMapPoints() []*MapPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MapPoint, 0, len(m.mapPoints))
	for _, mp := range m.mapPoints {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// KeyFramesInMap returns the number of member keyframes.
func (m *Map) KeyFramesInMap() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keyframes)
}

// MapPointsInMap returns the number of member map points.
func (m *Map) MapPointsInMap() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mapPoints)
}

// SetReferenceMapPoints installs the tracker-facing "local map" reference set.
func (m *Map) SetReferenceMapPoints(pts []ids.MapPointID) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	m.referencePoints = append([]ids.MapPointID(nil), pts...)
}

// GetReferenceMapPoints returns a copy of the current reference set.
func (m *Map) GetReferenceMapPoints() []ids.MapPointID {
	m.refMu.RLock()
	defer m.refMu.RUnlock()
	out := make([]ids.MapPointID, len(m.referencePoints))
	copy(out, m.referencePoints)
	return out
}

// IncrementBigChange bumps the monotonic "big change" counter, signalling to
// cache holders (e.g. the tracker's local map cache) that a loop closure or
// other global rewrite occurred.
func (m *Map) IncrementBigChange() { m.bigChange.Add(1) }

// BigChangeIndex returns the current "big change" counter value.
func (m *Map) BigChangeIndex() int64 { return m.bigChange.Load() }

// Clear empties the map, used by RequestReset.
func (m *Map) Clear() {
	m.mu.Lock()
	m.keyframes = make(map[ids.KeyFrameID]*KeyFrame)
	m.mapPoints = make(map[ids.MapPointID]*MapPoint)
	m.mu.Unlock()

	m.refMu.Lock()
	m.referencePoints = nil
	m.refMu.Unlock()
}
