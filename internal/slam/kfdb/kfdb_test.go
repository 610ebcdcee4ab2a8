package kfdb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

func newKFWithBow(m *smap.Map, bow smap.BowVector) *smap.KeyFrame {
	id := m.NewKeyFrameID()
	kf := smap.NewKeyFrame(id, int64(id), geom.Intrinsics{}, smap.ImageBounds{}, smap.ScalePyramid{}, nil, nil)
	kf.Bow = bow
	m.AddKeyFrame(kf)
	return kf
}

func TestAddAndEraseInvertedIndex(t *testing.T) {
	m := smap.NewMap()
	db := New()
	kf := newKFWithBow(m, smap.BowVector{1: 0.5, 2: 0.5})

	db.Add(kf)
	shared := db.sharedWordCounts(smap.BowVector{1: 1}, nil)
	assert.Equal(t, 1, shared[kf.ID])

	db.Erase(kf)
	shared = db.sharedWordCounts(smap.BowVector{1: 1}, nil)
	assert.Empty(t, shared)
}

func TestDetectLoopCandidatesExcludesCovisibleNeighbors(t *testing.T) {
	m := smap.NewMap()
	db := New()
	g := covis.New(tuning.DefaultMapperTuning())

	query := newKFWithBow(m, smap.BowVector{1: 1, 2: 1, 3: 1})
	neighbor := newKFWithBow(m, smap.BowVector{1: 1, 2: 1, 3: 1})
	distant := newKFWithBow(m, smap.BowVector{1: 1, 2: 1, 3: 1})

	db.Add(query)
	db.Add(neighbor)
	db.Add(distant)

	query.SetConnection(neighbor.ID, 20)
	query.RecomputeOrder()

	candidates := db.DetectLoopCandidates(m, g, query, 0)
	assert.Contains(t, candidates, distant.ID)
	assert.NotContains(t, candidates, neighbor.ID)
	assert.NotContains(t, candidates, query.ID)
}

func TestDetectRelocalizationCandidatesDoesNotExcludeNeighbors(t *testing.T) {
	m := smap.NewMap()
	db := New()
	g := covis.New(tuning.DefaultMapperTuning())

	a := newKFWithBow(m, smap.BowVector{1: 1})
	db.Add(a)

	candidates := db.DetectRelocalizationCandidates(m, g, smap.BowVector{1: 1}, 0)
	assert.Contains(t, candidates, a.ID)
}

func TestDetectCandidatesEmptyWhenNoSharedWords(t *testing.T) {
	m := smap.NewMap()
	db := New()
	g := covis.New(tuning.DefaultMapperTuning())

	a := newKFWithBow(m, smap.BowVector{1: 1})
	db.Add(a)

	candidates := db.DetectRelocalizationCandidates(m, g, smap.BowVector{99: 1}, 0)
	assert.Empty(t, candidates)
}
