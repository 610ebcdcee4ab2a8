// Package kfdb implements the KeyFrameDatabase: an inverted index from
// visual word id to the set of keyframes whose BoW vector contains that
// word, used to propose loop-closure and relocalization candidates.
package kfdb

import (
	"sort"
	"sync"

	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

// Database is the inverted word->keyframes index.
type Database struct {
	mu      sync.RWMutex
	invList map[ids.WordID]map[ids.KeyFrameID]struct{}
}

// New returns an empty Database.
func New() *Database {
	return &Database{invList: make(map[ids.WordID]map[ids.KeyFrameID]struct{})}
}

// Add appends kf to the inverted list of every word in its BoW vector.
func (d *Database) Add(kf *smap.KeyFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for word := range kf.Bow {
		set, ok := d.invList[word]
		if !ok {
			set = make(map[ids.KeyFrameID]struct{})
			d.invList[word] = set
		}
		set[kf.ID] = struct{}{}
	}
}

// Erase removes kf from every inverted list it appears in.
func (d *Database) Erase(kf *smap.KeyFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for word := range kf.Bow {
		if set, ok := d.invList[word]; ok {
			delete(set, kf.ID)
			if len(set) == 0 {
				delete(d.invList, word)
			}
		}
	}
}

// sharedWordCounts returns, for every keyframe sharing at least one word with
// bow, the number of shared words.
func (d *Database) sharedWordCounts(bow smap.BowVector, exclude map[ids.KeyFrameID]struct{}) map[ids.KeyFrameID]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	shared := make(map[ids.KeyFrameID]int)
	for word := range bow {
		for kfID := range d.invList[word] {
			if _, excluded := exclude[kfID]; excluded {
				continue
			}
			shared[kfID]++
		}
	}
	return shared
}

// bowScore computes an L1-style similarity score between two BoW vectors:
// sum over shared words of min(weight_a, weight_b), a simplified TF-IDF-free
// stand-in for the DBoW2 score this package treats as an external concern.
func bowScore(a, b smap.BowVector) float64 {
	score := 0.0
	for word, wa := range a {
		if wb, ok := b[word]; ok {
			if wa < wb {
				score += wa
			} else {
				score += wb
			}
		}
	}
	return score
}

type groupCandidate struct {
	kf    ids.KeyFrameID
	score float64
}

// DetectLoopCandidates returns keyframes proposed as loop-closure candidates
// for the query keyframe. Candidates sharing a word with kf are gathered,
// excluding kf's own covisibility neighbors; survivors with at least 80% of
// the maximum shared-word count are scored against kf's BoW, grouped with
// their best ten covisibility neighbors, and groups are kept if their
// accumulated score is at least 75% of the best group's score.
func (d *Database) DetectLoopCandidates(m *smap.Map, g *covis.Graph, kf *smap.KeyFrame, minScore float64) []ids.KeyFrameID {
	exclude := map[ids.KeyFrameID]struct{}{kf.ID: {}}
	for _, n := range g.GetVectorCovisibleKeyFrames(kf) {
		exclude[n] = struct{}{}
	}
	return d.detectCandidates(m, g, kf, minScore, exclude)
}

// DetectRelocalizationCandidates returns keyframes proposed for relocalizing
// a frame whose BoW vector is frameBow. The shape is identical to loop
// candidate detection but without excluding any covisibility neighborhood,
// since the querying frame has none yet.
func (d *Database) DetectRelocalizationCandidates(m *smap.Map, g *covis.Graph, frameBow smap.BowVector, minScore float64) []ids.KeyFrameID {
	return d.detectCandidatesForBow(m, g, frameBow, minScore, nil)
}

func (d *Database) detectCandidates(m *smap.Map, g *covis.Graph, kf *smap.KeyFrame, minScore float64, exclude map[ids.KeyFrameID]struct{}) []ids.KeyFrameID {
	return d.detectCandidatesForBow(m, g, kf.Bow, minScore, exclude)
}

func (d *Database) detectCandidatesForBow(m *smap.Map, g *covis.Graph, bow smap.BowVector, minScore float64, exclude map[ids.KeyFrameID]struct{}) []ids.KeyFrameID {
	shared := d.sharedWordCounts(bow, exclude)
	if len(shared) == 0 {
		return nil
	}

	maxShared := 0
	for _, c := range shared {
		if c > maxShared {
			maxShared = c
		}
	}
	threshold := 0.8 * float64(maxShared)

	survivors := make([]groupCandidate, 0, len(shared))
	for kfID, c := range shared {
		if float64(c) < threshold {
			continue
		}
		other, ok := m.GetKeyFrame(kfID)
		if !ok || other.IsBad() {
			continue
		}
		survivors = append(survivors, groupCandidate{kf: kfID, score: bowScore(bow, other.Bow)})
	}
	if len(survivors) == 0 {
		return nil
	}

	type group struct {
		members []ids.KeyFrameID
		score   float64
		best    ids.KeyFrameID
		bestSc  float64
	}
	groups := make([]group, 0, len(survivors))
	bestGroupScore := 0.0
	for _, s := range survivors {
		kfObj, ok := m.GetKeyFrame(s.kf)
		if !ok {
			continue
		}
		neighbors := g.GetBestCovisibilityKeyFrames(kfObj, 10)
		members := append([]ids.KeyFrameID{s.kf}, neighbors...)
		total := s.score
		best := s.kf
		bestSc := s.score
		for _, n := range neighbors {
			for _, other := range survivors {
				if other.kf == n {
					total += other.score
					if other.score > bestSc {
						bestSc = other.score
						best = other.kf
					}
				}
			}
		}
		grp := group{members: members, score: total, best: best, bestSc: bestSc}
		groups = append(groups, grp)
		if total > bestGroupScore {
			bestGroupScore = total
		}
	}
	if bestGroupScore == 0 {
		return nil
	}

	keepThreshold := 0.75 * bestGroupScore
	seen := make(map[ids.KeyFrameID]struct{})
	out := make([]ids.KeyFrameID, 0)
	for _, gr := range groups {
		if gr.score < keepThreshold || gr.bestSc < minScore {
			continue
		}
		if _, dup := seen[gr.best]; dup {
			continue
		}
		seen[gr.best] = struct{}{}
		out = append(out, gr.best)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
