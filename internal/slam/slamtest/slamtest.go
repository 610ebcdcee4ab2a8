// Package slamtest collects small test helpers shared across the slam
// packages. Beyond the generic error assertions it also carries
// graph-specific assertions that encode map invariants, such as the
// observation symmetry check the localmapper tests call.
package slamtest

import (
	"testing"

	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertObservationSymmetry checks that for every map point p and every
// (kf, i) in p.observations, kf's feature->mapPoint table at i resolves
// (through Replace forwarding) back to p.
func AssertObservationSymmetry(t *testing.T, m *smap.Map) {
	t.Helper()
	for _, mp := range m.GetAllMapPoints() {
		if mp.IsBad() {
			continue
		}
		for kfID, featIdx := range mp.Observations() {
			kf, ok := m.GetKeyFrame(kfID)
			if !ok {
				t.Errorf("map point %d observed by missing keyframe %d", mp.ID, kfID)
				continue
			}
			got := kf.GetMapPoint(featIdx)
			resolved, ok := m.GetMapPoint(got)
			if !ok || resolved.ID != mp.ID {
				t.Errorf("observation asymmetry: map point %d observed at kf %d feature %d, "+
					"but that feature resolves to map point %v", mp.ID, kfID, featIdx, got)
			}
		}
	}
}

// AssertNoDanglingReferences checks that a bad keyframe no longer appears in
// any live map point's observation table.
func AssertNoDanglingReferences(t *testing.T, m *smap.Map, kfID ids.KeyFrameID) {
	t.Helper()
	for _, mp := range m.GetAllMapPoints() {
		if mp.IsBad() {
			continue
		}
		if _, ok := mp.GetObservation(kfID); ok {
			t.Errorf("map point %d still references erased keyframe %d", mp.ID, kfID)
		}
	}
}
