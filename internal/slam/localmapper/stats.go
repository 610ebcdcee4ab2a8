package localmapper

import "sync"

// MapperStats accumulates per-iteration counters, mirroring the kind of
// lifetime counters a background worker exposes for observability: not
// required by any single mapper operation, but implied by the need to see
// what the work loop has been doing without instrumenting every call site.
type MapperStats struct {
	mu sync.Mutex

	KeyFramesProcessed   int64
	PointsCreated        int64
	PointsCulled         int64
	PointsFused          int64
	KeyFramesCulled      int64
	BundleAdjustmentRuns int64
	BundleAdjustmentAborts int64
}

func (s *MapperStats) addKeyFrameProcessed() {
	s.mu.Lock()
	s.KeyFramesProcessed++
	s.mu.Unlock()
}

func (s *MapperStats) addPointsCreated(n int) {
	s.mu.Lock()
	s.PointsCreated += int64(n)
	s.mu.Unlock()
}

func (s *MapperStats) addPointsCulled(n int) {
	s.mu.Lock()
	s.PointsCulled += int64(n)
	s.mu.Unlock()
}

func (s *MapperStats) addPointsFused(n int) {
	s.mu.Lock()
	s.PointsFused += int64(n)
	s.mu.Unlock()
}

func (s *MapperStats) addKeyFramesCulled(n int) {
	s.mu.Lock()
	s.KeyFramesCulled += int64(n)
	s.mu.Unlock()
}

func (s *MapperStats) addBundleAdjustmentRun(aborted bool) {
	s.mu.Lock()
	s.BundleAdjustmentRuns++
	if aborted {
		s.BundleAdjustmentAborts++
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters, safe to read concurrently
// with the mapper's loop.
func (s *MapperStats) Snapshot() MapperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MapperStats{
		KeyFramesProcessed:     s.KeyFramesProcessed,
		PointsCreated:          s.PointsCreated,
		PointsCulled:           s.PointsCulled,
		PointsFused:            s.PointsFused,
		KeyFramesCulled:        s.KeyFramesCulled,
		BundleAdjustmentRuns:   s.BundleAdjustmentRuns,
		BundleAdjustmentAborts: s.BundleAdjustmentAborts,
	}
}
