// Package localmapper implements the work loop that ingests keyframes from
// the tracker, maintains the map graph, creates and culls landmarks, fuses
// duplicate observations, invokes local bundle adjustment, and hands each
// processed keyframe to the loop closer.
package localmapper

import (
	"sort"
	"sync"
	"time"

	"github.com/sg47/SLAMRecon/internal/slam/clock"
	"github.com/sg47/SLAMRecon/internal/slam/coordinator"
	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/kfdb"
	"github.com/sg47/SLAMRecon/internal/slam/matcher"
	"github.com/sg47/SLAMRecon/internal/slam/optimizer"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/spantree"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

// LoopCloser is the downstream consumer of processed keyframes. Its
// internals (loop detection, pose-graph correction) are a non-goal
// collaborator; this is only the seam the mapper hands keyframes through.
type LoopCloser interface {
	InsertKeyFrame(kf *smap.KeyFrame)
}

// discardingLoopCloser is used when no real loop closer is wired in.
type discardingLoopCloser struct{}

func (discardingLoopCloser) InsertKeyFrame(*smap.KeyFrame) {}

type recentPoint struct {
	id        ids.MapPointID
	createdAt ids.KeyFrameID
}

// Mapper owns the map graph's supporting indices and the single worker loop
// that mutates them. All exported methods except the phase functions
// (exposed for direct testing) are safe to call from any goroutine.
type Mapper struct {
	Map   *smap.Map
	Covis *covis.Graph
	Tree  *spantree.Tree
	DB    *kfdb.Database

	matcher *matcher.Matcher
	tuning  *tuning.MapperTuning
	bridge  optimizer.Bridge
	abort   *optimizer.AbortFlag
	coord   *coordinator.Coordinator
	clock   clock.Clock
	vocab   smap.Vocabulary
	loop    LoopCloser

	queueMu sync.Mutex
	queue   []*smap.KeyFrame

	recentMu sync.Mutex
	recent   []recentPoint

	lastProcessed ids.KeyFrameID

	Stats MapperStats
}

// Config bundles the collaborators a Mapper needs beyond the map graph itself.
type Config struct {
	Tuning     *tuning.MapperTuning
	Bridge     optimizer.Bridge
	Abort      *optimizer.AbortFlag
	Coordinator *coordinator.Coordinator
	Clock      clock.Clock
	Vocabulary smap.Vocabulary
	LoopCloser LoopCloser
	Ratio      float64
}

// New constructs a Mapper over a fresh map graph and the given collaborators.
// Zero-valued Config fields fall back to sensible defaults (default tuning,
// a no-op optimizer bridge, a real clock, a discarding loop closer).
func New(cfg Config) *Mapper {
	t := cfg.Tuning
	if t == nil {
		t = tuning.DefaultMapperTuning()
	}
	bridge := cfg.Bridge
	if bridge == nil {
		bridge = optimizer.NullBridge{}
	}
	abort := cfg.Abort
	if abort == nil {
		abort = &optimizer.AbortFlag{}
	}
	coord := cfg.Coordinator
	if coord == nil {
		coord = coordinator.New(abort)
	}
	cl := cfg.Clock
	if cl == nil {
		cl = clock.RealClock{}
	}
	loop := cfg.LoopCloser
	if loop == nil {
		loop = discardingLoopCloser{}
	}
	ratio := cfg.Ratio
	if ratio == 0 {
		ratio = 0.7
	}

	return &Mapper{
		Map:     smap.NewMap(),
		Covis:   covis.New(t),
		Tree:    spantree.New(),
		DB:      kfdb.New(),
		matcher: matcher.New(t, ratio, true),
		tuning:  t,
		bridge:  bridge,
		abort:   abort,
		coord:   coord,
		clock:   cl,
		vocab:   cfg.Vocabulary,
		loop:    loop,
	}
}

// Coordinator exposes the lifecycle state machine driving this mapper's loop.
func (lm *Mapper) Coordinator() *coordinator.Coordinator { return lm.coord }

// resolve looks a map point up through the Map, the resolver shape every
// matcher operation expects.
func (lm *Mapper) resolve(id ids.MapPointID) (*smap.MapPoint, bool) {
	return lm.Map.GetMapPoint(id)
}

// InsertKeyFrame enqueues kf for processing and raises the BA abort flag so
// an in-flight local bundle adjustment yields to the new keyframe. The queue
// is unbounded by design: the tracker must never block on the mapper.
func (lm *Mapper) InsertKeyFrame(kf *smap.KeyFrame) {
	lm.queueMu.Lock()
	lm.queue = append(lm.queue, kf)
	lm.queueMu.Unlock()
	lm.abort.Set()
}

// QueueLen reports the number of keyframes waiting to be processed.
func (lm *Mapper) QueueLen() int {
	lm.queueMu.Lock()
	defer lm.queueMu.Unlock()
	return len(lm.queue)
}

func (lm *Mapper) dequeue() (*smap.KeyFrame, bool) {
	lm.queueMu.Lock()
	defer lm.queueMu.Unlock()
	if len(lm.queue) == 0 {
		return nil, false
	}
	kf := lm.queue[0]
	lm.queue = lm.queue[1:]
	return kf, true
}

func (lm *Mapper) clearQueueAndRecent() {
	lm.queueMu.Lock()
	lm.queue = nil
	lm.queueMu.Unlock()
	lm.recentMu.Lock()
	lm.recent = nil
	lm.recentMu.Unlock()
}

// Step runs one iteration of the nine-phase processing cycle. It returns
// true if a keyframe was dequeued and processed.
func (lm *Mapper) Step() bool {
	lm.coord.SetAcceptKeyFrames(false)
	defer lm.coord.SetAcceptKeyFrames(true)

	kf, ok := lm.dequeue()
	if !ok {
		lm.drainControlRequests()
		return false
	}

	lm.processNewKeyFrame(kf)
	lm.mapPointCulling()
	lm.createNewMapPoints(kf)
	lm.searchInNeighbors(kf)
	lm.localBundleAdjustment(kf)
	lm.keyFrameCulling(kf)
	lm.loop.InsertKeyFrame(kf)

	lm.drainControlRequests()
	return true
}

// drainControlRequests handles stop/finish/reset transitions at the end of
// an iteration, per the concurrency model's checkpoint semantics.
func (lm *Mapper) drainControlRequests() {
	if lm.coord.ResetRequested() {
		lm.clearQueueAndRecent()
		lm.coord.AckReset()
	}
	if lm.coord.StopRequested() {
		lm.coord.Stop()
	}
}

// Run drives Step in a loop on a ~3ms poll cadence until RequestFinish has
// been honored. It returns when the coordinator reports finished.
func (lm *Mapper) Run() {
	const pollInterval = 3 * time.Millisecond
	for {
		if lm.coord.IsStopped() {
			lm.clock.Sleep(pollInterval)
			if lm.coord.FinishRequested() {
				break
			}
			continue
		}
		lm.Step()
		if lm.coord.FinishRequested() && lm.QueueLen() == 0 {
			break
		}
		lm.clock.Sleep(pollInterval)
	}
	lm.coord.SetFinished()
}

// processNewKeyFrame computes kf's BoW, links its existing feature->map
// point matches into the graph (queuing for probation any point the tracker
// already bound to one of kf's features before handing kf off, and adding an
// observation for a point kf sees that isn't yet tied to this feature),
// updates covisibility and the spanning tree, and inserts kf into the Map
// and database.
func (lm *Mapper) processNewKeyFrame(kf *smap.KeyFrame) {
	if lm.vocab != nil {
		kf.ComputeBoW(lm.vocab)
	}

	for i, mpID := range kf.MapPointMatches() {
		if mpID == ids.NoMapPoint {
			continue
		}
		mp, ok := lm.Map.GetMapPoint(mpID)
		if !ok || mp.IsBad() {
			kf.EraseMapPointMatch(i)
			continue
		}
		if _, observed := mp.GetObservation(kf.ID); observed {
			// The tracker already linked this feature to mp before handing kf
			// off, so mp is a tracker-created point still awaiting probation
			// rather than a new observation to record here.
			lm.watchRecent(mpID, kf.ID)
			continue
		}
		mp.AddObservation(kf.ID, i)
		mp.UpdateNormalAndDepth(lm.Map.GetKeyFrame)
		mp.ComputeDistinctiveDescriptors(lm.Map.GetKeyFrame)
	}

	lm.Covis.UpdateConnections(lm.Map, kf)
	lm.Tree.UpdateConnections(lm.Covis, lm.Map, kf)
	lm.Map.AddKeyFrame(kf)
	lm.DB.Add(kf)
	lm.lastProcessed = kf.ID

	lm.Stats.addKeyFrameProcessed()
}

func (lm *Mapper) watchRecent(id ids.MapPointID, createdAt ids.KeyFrameID) {
	lm.recentMu.Lock()
	lm.recent = append(lm.recent, recentPoint{id: id, createdAt: createdAt})
	lm.recentMu.Unlock()
}

func (lm *Mapper) sortedCovisibilityNeighbors(kf *smap.KeyFrame, n int) []*smap.KeyFrame {
	nbIDs := lm.Covis.GetBestCovisibilityKeyFrames(kf, n)
	out := make([]*smap.KeyFrame, 0, len(nbIDs))
	for _, id := range nbIDs {
		if nb, ok := lm.Map.GetKeyFrame(id); ok && !nb.IsBad() {
			out = append(out, nb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
